package chainproc_test

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	chainprocPath string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")
	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			_, err = fmt.Fprintf(t.Output(), "TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			require.NoError(t, err)
			return dir
		}
	}

	if !isExecutable("chainproc-ci") {
		slog.Warn("cannot locate chainproc-ci binary: run go build -race -cover -covermode=atomic -o chainproc-ci ./cmd/chainproc/ first")
		os.Exit(0)
	}

	var err error
	chainprocPath, err = filepath.Abs("chainproc-ci")
	if err != nil {
		slog.Error("can't get abspath for chainproc-ci", "error", err)
		os.Exit(1)
	}
	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for chainproc-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for chainproc-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}

	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// denoiser is a stand in for an installed processing tool: it copies the
// input image to the output path and refuses corrupt pixel data.
const denoiser = `#!/bin/sh
in="$1"
out="$2"
if grep -q corrupt "$in"; then
    echo "unreadable pixel data in $in" >&2
    exit 2
fi
cp "$in" "$out"
`

func writeConfig(t *testing.T, bin string) {
	t.Helper()
	config := fmt.Sprintf(`
version: 0
import:
    tool: sh
supervise:
    pollInterval: "1s"
blocks:
    - type: bin
      name: denoise
      bin: %q
      argv: ["{in}", "{out}"]
service:
    verbose: false
`, bin)
	creat(t, "chainproc.yaml", []byte(config))
}

func run(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)
	var outBuf, errBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, chainprocPath, args...)
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

func TestChainproc(t *testing.T) {
	_ = chDir(t)

	bin := filepath.Join(".", "denoise")
	creat(t, bin, []byte(denoiser))
	require.NoError(t, os.Chmod(bin, 0o755))
	abs, err := filepath.Abs(bin)
	require.NoError(t, err)
	writeConfig(t, abs)

	require.NoError(t, os.Mkdir("images", 0o755))
	creat(t, filepath.Join("images", "a.tiff"), []byte("pixels a"))
	creat(t, filepath.Join("images", "b.tiff"), []byte("corrupt pixels"))
	creat(t, filepath.Join("images", "c.tiff"), []byte("pixels c"))

	stdout, stderr, err := run(t,
		"run", "--config", "chainproc.yaml",
		"--dir", "images", "--ids", "1,2,3")
	if err != nil {
		t.Logf("%s", stderr)
		require.NoError(t, err)
	}
	require.Equal(t, "Failed denoising 1 of 3 images\n", stdout)
}

func TestChainprocNoSelection(t *testing.T) {
	_ = chDir(t)

	bin := filepath.Join(".", "denoise")
	creat(t, bin, []byte(denoiser))
	require.NoError(t, os.Chmod(bin, 0o755))
	abs, err := filepath.Abs(bin)
	require.NoError(t, err)
	writeConfig(t, abs)

	require.NoError(t, os.Mkdir("images", 0o755))

	stdout, stderr, err := run(t,
		"run", "--config", "chainproc.yaml", "--dir", "images")
	if err != nil {
		t.Logf("%s", stderr)
		require.NoError(t, err)
	}
	require.Equal(t, "No images selected\n", stdout)
}

func TestChainprocSchema(t *testing.T) {
	_ = chDir(t)

	bin := filepath.Join(".", "denoise")
	creat(t, bin, []byte(denoiser))
	require.NoError(t, os.Chmod(bin, 0o755))
	abs, err := filepath.Abs(bin)
	require.NoError(t, err)
	writeConfig(t, abs)

	stdout, stderr, err := run(t, "schema", "--config", "chainproc.yaml")
	if err != nil {
		t.Logf("%s", stderr)
		require.NoError(t, err)
	}
	require.Contains(t, stdout, "Data_Type")
	require.Contains(t, stdout, "IDs")
	require.Contains(t, stdout, "denoise")
}

func TestChainprocRejectsBadConfig(t *testing.T) {
	_ = chDir(t)
	creat(t, "chainproc.yaml", []byte("version: 1\n"))

	_, stderr, err := run(t, "run", "--config", "chainproc.yaml", "--dir", ".")
	require.Error(t, err)
	require.Contains(t, stderr, "version")
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func chDir(t *testing.T) string {
	t.Helper()
	tempdir := tmpDir(t)
	err := os.Chdir(tempdir)
	require.NoError(t, err)
	return tempdir
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}
