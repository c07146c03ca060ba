package subprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Result holds everything an external process produced.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// StderrText returns the trimmed error stream, for logs only.
func (r Result) StderrText() string {
	return strings.TrimSpace(string(r.Stderr))
}

// Runner executes an external command and waits for it to exit.
// This abstraction allows mocking in tests.
type Runner func(ctx context.Context, name string, args ...string) (Result, error)

// Exec runs the command as a real subprocess. Stdout is captured in full
// before returning. A non-zero exit yields a *exec.ExitError together with
// the captured output; an expired ctx yields the context error.
func Exec(ctx context.Context, name string, args ...string) (Result, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s: %w", name, ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, fmt.Errorf("%s exited with status %d: %w", name, res.ExitCode, err)
		}
		return res, fmt.Errorf("start %s: %w", name, err)
	}
	return res, nil
}
