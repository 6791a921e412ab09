// Package execx runs external commands and turns non-zero exits into
// errors that carry the command line and captured stderr.
package execx

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
)

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Cmd    string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: exit status %d", e.Cmd, e.Code)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Cmd, e.Code, e.Stderr)
}

// Output runs the command and returns its stdout. A non-zero exit
// yields an *ExitError with whatever the command wrote to stderr, so
// callers never have to dig for diagnostics themselves.
func Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	log.Printf("execx: running %s %s", name, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, &ExitError{
				Cmd:    name,
				Code:   exitErr.ExitCode(),
				Stderr: strings.TrimSpace(stderr.String()),
			}
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Run is Output for commands whose stdout is irrelevant.
func Run(ctx context.Context, name string, args ...string) error {
	_, err := Output(ctx, name, args...)
	return err
}
