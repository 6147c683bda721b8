package chain

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bioimg/chainproc/internal/host"
	"github.com/bioimg/chainproc/internal/session"
	"github.com/bioimg/chainproc/internal/supervise"
)

// CodeFunc builds the interpreter code for one activation. The returned
// text is submitted through the protective envelope; callers must escape
// anything that could contain the envelope's delimiters.
type CodeFunc func(in, out string, options map[string]any) (string, error)

// SessionConfig configures an interactive-session block.
type SessionConfig struct {
	// Interpreter is the explicit interpreter path. Empty means it is
	// resolved from the block's Name via the search path.
	Interpreter string
	Args        []string
	Settle      time.Duration
	// Envelope defaults to session.Matlab.
	Envelope session.Envelope
	// Code is required.
	Code      CodeFunc
	InSuffix  string
	OutSuffix string
	// Timeout per activation. Interactive sessions are strongly advised
	// to set one; a wedged interpreter blocks the pipe forever.
	Timeout time.Duration
}

// SessionBlock runs its processing inside an interactive interpreter
// driven over pipes. Avoid where a non-interactive program is possible;
// the session exists for tools (Matlab) that offer no reliable batch
// invocation.
type SessionBlock struct {
	core
	interpreter string
	args        []string
	settle      time.Duration
	envelope    session.Envelope
	code        CodeFunc
	inSuffix    string
	outSuffix   string
	timeout     time.Duration
}

func NewSessionBlock(spec Spec, cfg SessionConfig) (*SessionBlock, error) {
	if cfg.Code == nil {
		return nil, fmt.Errorf("block %q: code builder is required", spec.Name)
	}
	interpreter, err := resolveBin(spec.Name, cfg.Interpreter)
	if err != nil {
		return nil, err
	}
	b := &SessionBlock{
		core:        newCore(spec),
		interpreter: interpreter,
		args:        append([]string(nil), cfg.Args...),
		settle:      cfg.Settle,
		envelope:    cfg.Envelope,
		code:        cfg.Code,
		inSuffix:    cfg.InSuffix,
		outSuffix:   cfg.OutSuffix,
		timeout:     cfg.Timeout,
	}
	if b.inSuffix == "" {
		b.inSuffix = ".ome.tiff"
	}
	if b.outSuffix == "" {
		b.outSuffix = ".ome.tiff"
	}
	return b, nil
}

func (b *SessionBlock) Launch(ctx context.Context, rt *Runtime, parent host.Item) (host.Item, error) {
	return launch(ctx, b, rt, b.options, parent)
}

func (b *SessionBlock) acquireParent(ctx context.Context, act *activation) error {
	if err := acquireCollection(ctx, act); err != nil {
		return err
	}
	return exportParent(ctx, act, b.inSuffix, b.outSuffix)
}

func (b *SessionBlock) parseOptions(context.Context, *activation) error {
	return nil
}

func (b *SessionBlock) process(ctx context.Context, act *activation) error {
	code, err := b.code(act.in, act.out, act.options)
	if err != nil {
		return err
	}

	// persist the submitted code, it becomes the child's log annotation
	logFile, err := act.tmp.CreateFile(".code")
	if err != nil {
		return err
	}
	act.logFile = logFile
	act.logPath = logFile.Name()
	if _, err := io.WriteString(logFile, code); err != nil {
		return err
	}

	s, err := session.Start(ctx, b.interpreter, b.args, session.Config{
		Settle:   b.settle,
		Envelope: b.envelope,
	})
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer func() {
		_ = s.Close()
	}()

	var deadline time.Time
	if b.timeout > 0 {
		deadline = time.Now().Add(b.timeout)
	}
	return s.Send(ctx, code, supervise.Options{
		Deadline:     deadline,
		PollInterval: act.rt.PollInterval,
		OnPoll:       act.rt.keepAlive,
	})
}

func (b *SessionBlock) publishChild(ctx context.Context, act *activation) error {
	return publishFile(ctx, act, act.out)
}

func (b *SessionBlock) annotate(ctx context.Context, act *activation) error {
	if err := annotateCrossRef(ctx, act); err != nil {
		return err
	}
	return attachLog(ctx, act, act.parent.Name()+".code")
}
