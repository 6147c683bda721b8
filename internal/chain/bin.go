package chain

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bioimg/chainproc/internal/host"
	"github.com/bioimg/chainproc/internal/model"
	"github.com/bioimg/chainproc/internal/supervise"
)

// ArgsFunc builds the argument vector for one activation from the
// exported input file, the reserved output path and the block's submitted
// options. Returning an error wrapping model.ErrInvalidParameter fails
// the item with an invalid-parameter failure.
type ArgsFunc func(in, out string, options map[string]any) ([]string, error)

// BinConfig configures a binary-invocation block.
type BinConfig struct {
	// Path is the explicit executable path. Empty means the executable
	// is resolved from the block's Name via the search path.
	Path string
	// Args is required.
	Args ArgsFunc
	// InSuffix/OutSuffix name the temporary image files, default
	// ".ome.tiff".
	InSuffix  string
	OutSuffix string
	// Timeout per activation, zero for none.
	Timeout time.Duration
}

// BinBlock executes one external program per item: a typical installed
// application taking command line options, reading an image file and
// writing the processed image to another.
type BinBlock struct {
	core
	bin       string
	args      ArgsFunc
	inSuffix  string
	outSuffix string
	timeout   time.Duration
}

// NewBinBlock resolves the executable at construction and fails fast with
// model.ErrNoBin when it cannot be found or is not an executable file.
func NewBinBlock(spec Spec, cfg BinConfig) (*BinBlock, error) {
	if cfg.Args == nil {
		return nil, fmt.Errorf("block %q: args builder is required", spec.Name)
	}
	bin, err := resolveBin(spec.Name, cfg.Path)
	if err != nil {
		return nil, err
	}
	b := &BinBlock{
		core:      newCore(spec),
		bin:       bin,
		args:      cfg.Args,
		inSuffix:  cfg.InSuffix,
		outSuffix: cfg.OutSuffix,
		timeout:   cfg.Timeout,
	}
	if b.inSuffix == "" {
		b.inSuffix = ".ome.tiff"
	}
	if b.outSuffix == "" {
		b.outSuffix = ".ome.tiff"
	}
	return b, nil
}

func resolveBin(name, explicit string) (string, error) {
	path := explicit
	if path == "" {
		resolved, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("no executable for %q on path: %w", name, model.ErrNoBin)
		}
		path = resolved
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("executable `%s` does not exist: %w", path, model.ErrNoBin)
	}
	if !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("path `%s` is not an executable: %w", path, model.ErrNoBin)
	}
	return path, nil
}

// Bin returns the resolved executable path.
func (b *BinBlock) Bin() string { return b.bin }

func (b *BinBlock) Launch(ctx context.Context, rt *Runtime, parent host.Item) (host.Item, error) {
	return launch(ctx, b, rt, b.options, parent)
}

func (b *BinBlock) acquireParent(ctx context.Context, act *activation) error {
	if err := acquireCollection(ctx, act); err != nil {
		return err
	}
	if err := exportParent(ctx, act, b.inSuffix, b.outSuffix); err != nil {
		return err
	}
	logFile, err := act.tmp.CreateFile(".log")
	if err != nil {
		return err
	}
	act.logFile = logFile
	act.logPath = logFile.Name()
	return nil
}

func (b *BinBlock) parseOptions(context.Context, *activation) error {
	// declared parameters are validated by the args builder
	return nil
}

func (b *BinBlock) process(ctx context.Context, act *activation) error {
	argv, err := b.args(act.in, act.out, act.options)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(act.logFile, "$ %s %s\n", b.bin, strings.Join(argv, " "))
	if err != nil {
		return err
	}

	var deadline time.Time
	if b.timeout > 0 {
		deadline = time.Now().Add(b.timeout)
	}
	err = supervise.Run(ctx, supervise.Command{
		Path:   b.bin,
		Args:   argv,
		Stdout: act.logFile,
		Stderr: act.logFile,
	}, supervise.Options{
		Deadline:     deadline,
		PollInterval: act.rt.PollInterval,
		OnPoll:       act.rt.keepAlive,
	})
	if err != nil {
		return err
	}

	if _, err := os.Stat(act.out); err != nil {
		return fmt.Errorf("`%s` produced no output: %w", b.bin, model.ErrInvalidImage)
	}
	return nil
}

func (b *BinBlock) publishChild(ctx context.Context, act *activation) error {
	return publishFile(ctx, act, act.out)
}

func (b *BinBlock) annotate(ctx context.Context, act *activation) error {
	if err := annotateCrossRef(ctx, act); err != nil {
		return err
	}
	name := act.parent.Name() + filepath.Ext(act.logPath)
	return attachLog(ctx, act, name)
}
