package builder

import (
	"bytes"
	"io"
	"os"
	"os/exec"

	"github.com/appack-build/appack/internal/msg"
)

// Result holds the outcome of one external tool invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes external tools (swiftc, xcrun, lipo, codesign). Tests
// substitute a fake to avoid touching the real toolchain.
type Runner interface {
	// Run executes name with args in dir (empty dir means the current
	// directory). Tool output is captured in the Result; a non-zero exit
	// is reported through Result.ExitCode, not err. err is reserved for
	// failures to start the process at all.
	Run(dir, name string, args ...string) (Result, error)
	LookPath(name string) (string, error)
}

// execRunner runs tools for real, echoing their output to the console.
type execRunner struct {
	stdout io.Writer
	stderr io.Writer
}

// NewExecRunner returns a Runner backed by os/exec that tees tool output
// to the process's stdout/stderr, indented under the pipeline's own
// status lines.
func NewExecRunner() Runner {
	return &execRunner{
		stdout: &msg.IndentWriter{Indent: "  ", W: os.Stdout},
		stderr: &msg.IndentWriter{Indent: "  ", W: os.Stderr},
	}
}

func (r *execRunner) Run(dir, name string, args ...string) (Result, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = io.MultiWriter(r.stdout, &outBuf)
	cmd.Stderr = io.MultiWriter(r.stderr, &errBuf)

	err := cmd.Run()
	res := Result{Stdout: outBuf.String(), Stderr: errBuf.String()}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		res.ExitCode = -1
		return res, err
	}
	return res, nil
}

func (r *execRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
