package session

import "fmt"

// Envelope wraps caller supplied interpreter code so the session always
// terminates with a deterministic exit status: a sentinel status variable
// starts at 0, internal failure flips it to 1 after printing the error,
// and the interpreter unconditionally exits with the sentinel.
//
// The envelope is not a sandbox. Code containing the envelope's own
// delimiter sequences or raw control characters can escape it; callers
// must validate or escape code text before submission.
type Envelope func(code string) string

// Matlab is the envelope for Matlab sessions, whose prompt would otherwise
// persist after an error and block the pipe forever.
func Matlab(code string) string {
	return fmt.Sprintf(
		"chainproc_status = 0;\n"+
			"try\n"+
			"\n"+
			"%s\n"+
			"\n"+
			"catch chainproc_err\n"+
			"  disp (['error: ' chainproc_err.message()]);\n"+
			"  disp (chainproc_err.stack ());\n"+
			"  chainproc_status = 1;\n"+
			"end\n"+
			"exit (chainproc_status);\n",
		code)
}

// Shell is the envelope for POSIX shell interpreters. The code runs in a
// subshell under `set -e` so the first failing command flips the sentinel.
func Shell(code string) string {
	return fmt.Sprintf(
		"chainproc_status=0\n"+
			"(\n"+
			"set -e\n"+
			"%s\n"+
			") || chainproc_status=1\n"+
			"exit $chainproc_status\n",
		code)
}
