package chain

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Tracker owns the temporary artifacts of one block activation. All
// artifacts live in a private directory created on first use; Release
// removes everything and is safe to call more than once. Ownership is
// exclusive to the activation, artifacts are never shared across items or
// blocks.
type Tracker struct {
	mu       sync.Mutex
	dir      string
	released bool
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) root() (string, error) {
	if t.released {
		return "", fmt.Errorf("temporary resources already released")
	}
	if t.dir == "" {
		dir, err := os.MkdirTemp("", "chainproc-*")
		if err != nil {
			return "", fmt.Errorf("creating temporary directory: %w", err)
		}
		t.dir = dir
	}
	return t.dir, nil
}

// CreateFile creates a new uniquely named temporary file with the given
// suffix. The caller closes the file, the tracker removes it on Release.
func (t *Tracker) CreateFile(suffix string) (*os.File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	dir, err := t.root()
	if err != nil {
		return nil, err
	}
	return os.Create(filepath.Join(dir, uuid.NewString()+suffix))
}

// Path reserves a unique path with the given suffix without creating the
// file, for subprocesses which insist on creating their output themselves.
func (t *Tracker) Path(suffix string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	dir, err := t.root()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, uuid.NewString()+suffix), nil
}

// Release removes every tracked artifact. Idempotent.
func (t *Tracker) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return nil
	}
	t.released = true
	if t.dir == "" {
		return nil
	}
	return os.RemoveAll(t.dir)
}

// Released reports whether Release ran, for lifecycle tests.
func (t *Tracker) Released() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}
