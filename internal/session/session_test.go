package session_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/bioimg/chainproc/internal/model"
	"github.com/bioimg/chainproc/internal/session"
	"github.com/bioimg/chainproc/internal/supervise"

	"github.com/stretchr/testify/require"
)

// fakeInterpreter builds a shell wrapper printing a startup banner before
// handing stdin over to sh, imitating an interactive interpreter.
func fakeInterpreter(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	path := filepath.Join(t.TempDir(), "fakeinterp")
	script := "#!" + sh + "\n" +
		"echo 'FakeTerp R2024b -- interactive console'\n" +
		"exec " + sh + " \"$@\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func startSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.Start(t.Context(), fakeInterpreter(t), nil, session.Config{
		Settle:   300 * time.Millisecond,
		Envelope: session.Shell,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestSessionDiscardsBanner(t *testing.T) {
	t.Parallel()
	s := startSession(t)

	err := s.Send(t.Context(), "echo visible", supervise.Options{
		PollInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	out := string(s.Output())
	require.Contains(t, out, "visible")
	require.NotContains(t, out, "FakeTerp")
}

func TestSessionProtectedExitSuccess(t *testing.T) {
	t.Parallel()
	s := startSession(t)

	// sentinel exit 0 when the wrapped code succeeds
	err := s.Send(t.Context(), "true", supervise.Options{
		PollInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)
}

func TestSessionProtectedExitFailure(t *testing.T) {
	t.Parallel()
	s := startSession(t)

	started := time.Now()
	err := s.Send(t.Context(), "cat /does/not/exist/chainproc", supervise.Options{
		PollInterval: 50 * time.Millisecond,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, model.ErrBadExit)

	var exitErr *model.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 1, exitErr.Code)

	// the envelope must exit the interpreter, never leave it blocked at a prompt
	require.Less(t, time.Since(started), 10*time.Second)
}

func TestSessionTimeout(t *testing.T) {
	t.Parallel()
	s := startSession(t)

	err := s.Send(t.Context(), "sleep 30", supervise.Options{
		Deadline:     time.Now().Add(200 * time.Millisecond),
		PollInterval: 50 * time.Millisecond,
	})
	require.ErrorIs(t, err, model.ErrTimeout)
}

func TestMatlabEnvelope(t *testing.T) {
	t.Parallel()
	wrapped := session.Matlab("img = denoise (img);")
	require.Contains(t, wrapped, "chainproc_status = 0;")
	require.Contains(t, wrapped, "try")
	require.Contains(t, wrapped, "img = denoise (img);")
	require.Contains(t, wrapped, "catch chainproc_err")
	require.Contains(t, wrapped, "chainproc_status = 1;")
	require.Contains(t, wrapped, "exit (chainproc_status);")
}

func TestShellEnvelope(t *testing.T) {
	t.Parallel()
	wrapped := session.Shell("denoise in.tiff out.tiff")
	require.Contains(t, wrapped, "chainproc_status=0")
	require.Contains(t, wrapped, "denoise in.tiff out.tiff")
	require.Contains(t, wrapped, "exit $chainproc_status")
}
