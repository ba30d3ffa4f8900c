package process

import (
	"context"
	"os/exec"
	"time"

	"github.com/core-tools/hsu-panel/pkg/errors"
	"github.com/core-tools/hsu-panel/pkg/logging"
)

const DefaultSweepTimeout = 3 * time.Second

// Sweeper kills stray processes by command-line pattern
type Sweeper func(ctx context.Context, patterns []string) error

// NewPkillSweeper returns a Sweeper that runs `pkill -f <pattern>` for every
// pattern, each bounded by timeout. It catches processes that escaped the
// child's process group. pkill exiting 1 means nothing matched and is not an
// error. A missing pkill binary disables the sweep.
func NewPkillSweeper(timeout time.Duration, logger logging.Logger) Sweeper {
	if timeout <= 0 {
		timeout = DefaultSweepTimeout
	}
	return func(ctx context.Context, patterns []string) error {
		if len(patterns) == 0 {
			return nil
		}
		pkill, err := exec.LookPath("pkill")
		if err != nil {
			logger.Debugf("Orphan sweep skipped, pkill not available: %v", err)
			return nil
		}

		collection := errors.NewErrorCollection()
		for _, pattern := range patterns {
			if pattern == "" {
				continue
			}
			sweepCtx, cancel := context.WithTimeout(ctx, timeout)
			err := exec.CommandContext(sweepCtx, pkill, "-f", pattern).Run()
			cancel()

			if err == nil {
				logger.Infof("Orphan sweep killed processes matching '%s'", pattern)
				continue
			}
			if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
				logger.Debugf("Orphan sweep found nothing matching '%s'", pattern)
				continue
			}
			logger.Warnf("Orphan sweep failed, pattern: '%s', error: %v", pattern, err)
			collection.Add(errors.NewIOError("orphan sweep failed", err).WithContext("pattern", pattern))
		}
		return collection.ToError()
	}
}
