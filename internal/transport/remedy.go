// v0
// internal/transport/remedy.go
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Remedy is an external recovery action run when the broker stops answering.
type Remedy interface {
	Run(ctx context.Context) error
}

// CommandRemedy runs a shell command (typically a broker start script) and waits for
// the broker to settle. An empty command is a no-op.
type CommandRemedy struct {
	Command string
	Wait    time.Duration
	Log     *slog.Logger
}

func (c CommandRemedy) Run(ctx context.Context) error {
	if c.Command == "" {
		return nil
	}
	if c.Log != nil {
		c.Log.Warn("broker_restart", "cmd", c.Command)
	}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", c.Command)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %q: %w", c.Command, err)
	}
	go func() { _ = cmd.Wait() }()
	if c.Wait <= 0 {
		return nil
	}
	timer := time.NewTimer(c.Wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
