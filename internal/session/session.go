// Package session manages a long-lived interactive interpreter subprocess
// connected over stdin/stdout pipes. Startup banner noise is drained
// without ever blocking on a quiet interpreter, and submitted code is
// wrapped in a protective envelope so internal failures still end in a
// deterministic process exit instead of a hanging prompt.
package session

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/bioimg/chainproc/internal/supervise"

	"golang.org/x/sync/errgroup"
)

// DefaultSettle is the delay granted to the interpreter to start up and
// print its banner before the banner is discarded.
const DefaultSettle = 5 * time.Second

const defaultMaxOutput = 1 << 20

type Config struct {
	// Settle overrides DefaultSettle when positive.
	Settle time.Duration
	// Envelope defaults to Matlab.
	Envelope Envelope
	// MaxOutput caps the captured interpreter output in bytes.
	MaxOutput int
}

// Session is one live interpreter subprocess. A session runs exactly one
// Send: the envelope terminates the interpreter when the code finishes.
type Session struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	envelope Envelope
	out      *capture
	pumpDone chan struct{}
	reaped   bool
}

// Start spawns the interpreter with stdin/stdout pipes, waits the settle
// delay and discards whatever banner text arrived in the meantime. A pump
// goroutine keeps reading stdout for the session's whole lifetime, so the
// banner drain only ever consumes what is already available.
func Start(ctx context.Context, path string, args []string, cfg Config) (*Session, error) {
	settle := cfg.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}
	envelope := cfg.Envelope
	if envelope == nil {
		envelope = Matlab
	}
	maxOutput := cfg.MaxOutput
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutput
	}

	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("interpreter stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("interpreter stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting interpreter `%s`: %w", path, err)
	}

	s := &Session{
		cmd:      cmd,
		stdin:    stdin,
		envelope: envelope,
		out:      &capture{limit: maxOutput},
		pumpDone: make(chan struct{}),
	}
	go s.pump(stdout)

	select {
	case <-time.After(settle):
	case <-ctx.Done():
		_ = s.Close()
		return nil, ctx.Err()
	}
	s.out.Discard()

	return s, nil
}

func (s *Session) pump(stdout io.Reader) {
	defer close(s.pumpDone)
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			s.out.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// Send wraps code in the protective envelope, submits it on stdin and
// supervises the interpreter with the shared poll/timeout/liveness loop.
// The stdin write runs concurrently with the loop: a stalled interpreter
// with a full pipe is then still subject to the deadline.
func (s *Session) Send(ctx context.Context, code string, opts supervise.Options) error {
	wrapped := s.envelope(code)

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.WriteString(s.stdin, wrapped)
		return err
	})

	waitErr := supervise.Wait(ctx, s.cmd, opts)
	s.reaped = true
	writeErr := g.Wait()

	if waitErr != nil {
		return waitErr
	}
	if writeErr != nil {
		return fmt.Errorf("writing code to interpreter: %w", writeErr)
	}
	return nil
}

// Output returns the interpreter output captured since the banner was
// discarded.
func (s *Session) Output() []byte {
	return s.out.Bytes()
}

// Close terminates the session if it is still running and releases the
// pipes. Safe to call after Send.
func (s *Session) Close() error {
	if s.cmd.Process != nil && !s.reaped {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
		s.reaped = true
	}
	_ = s.stdin.Close()
	<-s.pumpDone
	return nil
}

// capture is a bounded, concurrency safe output buffer.
type capture struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (c *capture) Write(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.limit - len(c.buf)
	if room <= 0 {
		return
	}
	if len(p) > room {
		p = p[:room]
	}
	c.buf = append(c.buf, p...)
}

func (c *capture) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf...)
}

// Discard drops everything captured so far, without blocking for more.
func (c *capture) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = c.buf[:0]
}
