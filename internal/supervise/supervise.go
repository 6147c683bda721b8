// Package supervise launches and polls subprocesses on behalf of
// processing blocks. The poll loop is the single place where the
// polling-vs-blocking tension is resolved: process exit is never awaited
// with one indefinite wait, because the caller must be given control once
// per interval to emit a liveness signal to the host.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/bioimg/chainproc/internal/model"
)

// DefaultPollInterval is used when Options.PollInterval is unset.
const DefaultPollInterval = 10 * time.Second

// Command describes a subprocess to run: an argument vector and optional
// output redirections.
type Command struct {
	Path   string
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

// Options controls the poll loop. A zero Deadline means no timeout: the
// loop blocks on process completion indefinitely, still invoking OnPoll
// every interval.
type Options struct {
	Deadline     time.Time
	PollInterval time.Duration
	// OnPoll is invoked once per poll cycle, typically to keep the host
	// connection alive while the subprocess runs.
	OnPoll func(ctx context.Context)
}

// Run starts the command and supervises it until exit, deadline or
// context cancellation. Exit status 0 returns nil, non-zero returns a
// *model.ExitError, a passed deadline kills the process and returns a
// *model.TimeoutError.
func Run(ctx context.Context, cmd Command, opts Options) error {
	c := exec.Command(cmd.Path, cmd.Args...)
	c.Stdout = cmd.Stdout
	c.Stderr = cmd.Stderr
	if err := c.Start(); err != nil {
		return fmt.Errorf("starting `%s`: %w", cmd.Path, err)
	}
	return Wait(ctx, c, opts)
}

// Wait runs the poll/deadline/liveness loop against an already started
// command. It is shared with the interactive session manager, whose
// process is started with pipes attached before the loop begins.
func Wait(ctx context.Context, cmd *exec.Cmd, opts Options) error {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	for {
		select {
		case err := <-done:
			return classify(cmd, err)
		default:
		}

		if opts.OnPoll != nil {
			opts.OnPoll(ctx)
		}

		if !opts.Deadline.IsZero() && time.Now().After(opts.Deadline) {
			kill(cmd)
			<-done
			return &model.TimeoutError{Argv: cmd.Args, Deadline: opts.Deadline}
		}

		select {
		case err := <-done:
			return classify(cmd, err)
		case <-time.After(interval):
		case <-ctx.Done():
			kill(cmd)
			<-done
			return ctx.Err()
		}
	}
}

func classify(cmd *exec.Cmd, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &model.ExitError{Argv: cmd.Args, Code: exitErr.ExitCode()}
	}
	return err
}

func kill(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
