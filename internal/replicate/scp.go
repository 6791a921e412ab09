package replicate

import (
	"context"
	"time"

	"luksward/internal/execx"
)

// SCPTransport shells out to scp for classic user@host:/dir targets.
// Host key checking is strict and BatchMode keeps scp from ever
// prompting, which would hang a timer-driven run.
type SCPTransport struct {
	// Timeout bounds a single scp invocation.
	Timeout time.Duration
}

func NewSCPTransport() *SCPTransport {
	return &SCPTransport{Timeout: 2 * time.Minute}
}

func (t *SCPTransport) Copy(ctx context.Context, localPath, target string) error {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	return execx.Run(ctx, "scp",
		"-o", "StrictHostKeyChecking=yes",
		"-o", "BatchMode=yes",
		localPath, target)
}
