package processfile

import (
	"context"
	"syscall"
	"time"

	"github.com/core-tools/hsu-panel/pkg/errors"
	"github.com/core-tools/hsu-panel/pkg/process"
	"github.com/core-tools/hsu-panel/pkg/processstate"
)

// RecoverOrphan handles a run record left behind by a panel that died with
// a child still running. A live child gets its process group terminated,
// then killed if it outlives gracePeriod. The record is removed either way.
// It returns the record found, or nil when there was none.
func (m *ProcessFileManager) RecoverOrphan(ctx context.Context, id string, gracePeriod time.Duration) (*RunRecord, error) {
	record, err := m.ReadRunRecord(id)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return nil, nil
		}
		m.logger.Warnf("Discarding unreadable PID file, id: %s, error: %v", id, err)
		return nil, m.RemovePIDFile(id)
	}

	running, err := processstate.IsProcessRunning(record.PID)
	if err != nil {
		m.logger.Warnf("Failed to probe orphan, pid: %d, error: %v", record.PID, err)
	}
	if !running {
		m.logger.Infof("Stale PID file, pid: %d, instance: %s", record.PID, record.Instance)
		return &record, m.RemovePIDFile(id)
	}

	m.logger.Warnf("Found orphaned server from a previous run, pid: %d, instance: %s", record.PID, record.Instance)

	if err := process.SendTerminationSignal(record.PID, syscall.SIGTERM); err != nil {
		m.logger.Warnf("Failed to signal orphan, pid: %d, error: %v", record.PID, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, gracePeriod)
	err = processstate.WaitForExit(waitCtx, record.PID, 0)
	cancel()
	if err != nil {
		m.logger.Warnf("Orphan ignored termination, killing, pid: %d", record.PID)
		if err := process.KillProcessGroup(record.PID); err != nil {
			return &record, errors.NewInternalError("failed to kill orphan", err).WithContext("pid", record.PID)
		}
	}

	return &record, m.RemovePIDFile(id)
}
