//go:build !windows

package process

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/core-tools/hsu-panel/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPkillSweeper_NoPatterns(t *testing.T) {
	sweep := NewPkillSweeper(time.Second, logging.NewNopLogger())
	assert.NoError(t, sweep(context.Background(), nil))
}

func TestPkillSweeper_NoMatchIsNotAnError(t *testing.T) {
	if _, err := exec.LookPath("pkill"); err != nil {
		t.Skip("pkill not available")
	}
	sweep := NewPkillSweeper(time.Second, logging.NewNopLogger())
	assert.NoError(t, sweep(context.Background(), []string{"hsu-panel-sweep-no-such-process-4471"}))
}

func TestPkillSweeper_KillsMatchingProcess(t *testing.T) {
	if _, err := exec.LookPath("pkill"); err != nil {
		t.Skip("pkill not available")
	}

	cmd := exec.Command("sleep", "31.4159")
	require.NoError(t, cmd.Start())
	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()

	sweep := NewPkillSweeper(time.Second, logging.NewNopLogger())
	require.NoError(t, sweep(context.Background(), []string{"sleep 31.4159"}))

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		cmd.Process.Kill()
		t.Fatal("sweep did not kill the matching process")
	}
}
