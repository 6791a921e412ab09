package execx

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestOutputCapturesStdout(t *testing.T) {
	out, err := Output(context.Background(), "echo", "hello")
	if err != nil {
		t.Fatalf("Output failed: %v", err)
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Errorf("stdout = %q, want hello", out)
	}
}

func TestOutputIncludesStderrOnFailure(t *testing.T) {
	_, err := Output(context.Background(), "sh", "-c", "echo broken pipe >&2; exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %T", err)
	}
	if exitErr.Code != 3 {
		t.Errorf("Code = %d, want 3", exitErr.Code)
	}
	if !strings.Contains(exitErr.Stderr, "broken pipe") {
		t.Errorf("Stderr = %q, want stderr output captured", exitErr.Stderr)
	}
	if !strings.Contains(err.Error(), "exit status 3") {
		t.Errorf("error %q does not carry the exit code", err)
	}
}

func TestOutputMissingCommand(t *testing.T) {
	_, err := Output(context.Background(), "definitely-not-a-command-xyz")
	if err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestRunRespectsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Run(ctx, "sleep", "10")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Run did not stop when the context expired")
	}
}
