package preflight

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// DefaultProbeTimeout bounds how long the executable probe may run.
const DefaultProbeTimeout = 5 * time.Second

// ProbeFunc checks that an executable can be started.
type ProbeFunc func(ctx context.Context, executable string, timeout time.Duration) error

// ProbeExecutable runs the executable once without arguments. Any exit,
// including a non-zero status, proves it is installed and runnable. A
// missing binary or a probe that does not finish within timeout is reported
// as unavailable.
func ProbeExecutable(ctx context.Context, executable string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	path, err := exec.LookPath(executable)
	if err != nil {
		return fmt.Errorf("not found: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, path)
	cmd.WaitDelay = time.Second
	err = cmd.Run()

	if probeCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("did not respond within %v", timeout)
	}
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return fmt.Errorf("failed to run: %w", err)
}
