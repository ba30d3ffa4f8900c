package processstate

import (
	"context"
	"time"

	"github.com/core-tools/hsu-panel/pkg/errors"
)

const DefaultPollInterval = 100 * time.Millisecond

func errInvalidPID(pid int) error {
	return errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
}

// WaitForExit polls pid until it is gone or ctx ends. It is used for
// processes this panel did not spawn in the current run, where no
// os.Process.Wait is possible.
func WaitForExit(ctx context.Context, pid int, poll time.Duration) error {
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		running, err := IsProcessRunning(pid)
		if err != nil {
			return err
		}
		if !running {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.NewTimeoutError("process still running", ctx.Err()).WithContext("pid", pid)
		case <-ticker.C:
		}
	}
}
