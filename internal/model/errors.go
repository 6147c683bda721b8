package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Failure taxonomy of the processing engine. Construction-time defects
// (ErrNoBin, ErrNoBlocks, ErrMultipleBlocks, ErrDuplicateParam) abort a run
// before any item is touched. The remaining kinds are per-item runtime
// failures: they are caught at the item boundary, counted and never abort
// the batch.
var (
	ErrNoBin            = errors.New("no executable binary found")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidImage     = errors.New("image cannot be processed")
	ErrTimeout          = errors.New("timeout reached")
	ErrBadExit          = errors.New("binary exited with non-zero status")

	ErrNoBlocks       = errors.New("no processing blocks")
	ErrMultipleBlocks = errors.New("multiple blocks not yet implemented")
	ErrDuplicateParam = errors.New("duplicate parameter name")
)

// ExitError carries the command line and exit code of a supervised process
// which exited non-zero.
type ExitError struct {
	Argv []string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("`%s` exited with status %d", strings.Join(e.Argv, " "), e.Code)
}

func (e *ExitError) Unwrap() error { return ErrBadExit }

// TimeoutError carries the command line of a supervised process which was
// terminated because its deadline passed.
type TimeoutError struct {
	Argv     []string
	Deadline time.Time
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("`%s` exceeded deadline %s", strings.Join(e.Argv, " "), e.Deadline.Format(time.RFC3339))
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }
