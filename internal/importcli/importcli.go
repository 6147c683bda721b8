// Package importcli publishes image files through the external import
// command line tool. The tool is driven as a supervised subprocess; the
// created image identifier is read back from a scratch file because the
// tool's stdout carries progress chatter, not machine output.
package importcli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bioimg/chainproc/internal/host"
	"github.com/bioimg/chainproc/internal/supervise"
)

// errTailLimit bounds how much of the tool's diagnostic output gets
// folded into a failure message.
const errTailLimit = 2048

// Tool drives an installed import executable.
type Tool struct {
	// Path is the executable, resolved by the caller.
	Path string
	// PollInterval and OnPoll feed the supervision loop, typically the
	// connection keepalive.
	PollInterval time.Duration
	OnPoll       func(context.Context)
	// Timeout per import, zero for none.
	Timeout time.Duration
}

var _ host.Importer = (*Tool)(nil)

// Import runs one import and returns the created image identifier.
func (t *Tool) Import(ctx context.Context, req host.ImportRequest) (int64, error) {
	scratch, err := os.MkdirTemp("", "chainproc-import-*")
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = os.RemoveAll(scratch)
	}()

	idFile := filepath.Join(scratch, "ids")
	errFile := filepath.Join(scratch, "errs")

	argv := []string{"import", "--debug", "ERROR"}
	if req.CollectionID != 0 {
		argv = append(argv, "-d", strconv.FormatInt(req.CollectionID, 10))
	}
	if req.Name != "" {
		argv = append(argv, "-n", req.Name)
	}
	argv = append(argv, "---errs", errFile, "---file", idFile, req.Path)

	var deadline time.Time
	if t.Timeout > 0 {
		deadline = time.Now().Add(t.Timeout)
	}
	err = supervise.Run(ctx, supervise.Command{
		Path: t.Path,
		Args: argv,
	}, supervise.Options{
		Deadline:     deadline,
		PollInterval: t.PollInterval,
		OnPoll:       t.OnPoll,
	})
	if err != nil {
		return 0, fmt.Errorf("importing `%s`: %w%s", req.Path, err, errTail(errFile))
	}

	id, err := readID(idFile)
	if err != nil {
		return 0, fmt.Errorf("importing `%s`: %w%s", req.Path, err, errTail(errFile))
	}
	return id, nil
}

// readID parses the created identifier from the first line of the id
// file. The tool writes one identifier per imported file; a single file
// is imported per call.
func readID(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("import tool produced no id file: %w", err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	if line == "" {
		return 0, fmt.Errorf("import tool produced no image id")
	}
	id, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("import tool produced invalid image id %q", line)
	}
	if id == 0 {
		return 0, fmt.Errorf("import tool produced image id 0")
	}
	return id, nil
}

// errTail renders the end of the tool's diagnostic file for inclusion in
// an error, or "" when there is nothing to show.
func errTail(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return ""
	}
	if len(text) > errTailLimit {
		text = "..." + text[len(text)-errTailLimit:]
	}
	return "\nimport tool diagnostics:\n" + text
}
