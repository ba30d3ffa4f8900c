//go:build !windows

package panel

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/core-tools/hsu-panel/pkg/broadcast"
	"github.com/core-tools/hsu-panel/pkg/errors"
	"github.com/core-tools/hsu-panel/pkg/supervisor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoScript stands in for a game server: it echoes console lines and exits
// on the stop command
const echoScript = `#!/bin/bash
echo "ready"
while read -r line; do
  if [ "$line" = "stop" ]; then
    echo "bye"
    exit 0
  fi
  echo "echo: $line"
done
`

func TestPanel_ServerLifecycle(t *testing.T) {
	config := testConfig(t)
	dir := filepath.Join(config.Instances.RootDir, "alpha")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "start.sh"), []byte(echoScript), 0755))

	panel, client := newTestPanel(t, config)
	ctx := context.Background()

	observer := broadcast.NewChannelObserver(256)
	id := panel.Gateway().Attach(observer)
	defer panel.Gateway().Detach(id)

	require.NoError(t, client.Start(ctx, "alpha"))

	require.Eventually(t, func() bool {
		status, err := client.Status(ctx)
		return err == nil && status.Running()
	}, 5*time.Second, 20*time.Millisecond)

	err := client.Start(ctx, "alpha")
	assert.True(t, errors.IsAlreadyRunningError(err))

	result, err := client.Delete(ctx, "alpha")
	assert.True(t, errors.IsBusyError(err))
	assert.False(t, result.Success)

	require.NoError(t, client.SendCommand(ctx, "hello"))
	waitForOutput(t, observer, "echo: hello")

	require.NoError(t, client.Stop(ctx))

	require.Eventually(t, func() bool {
		status, err := client.Status(ctx)
		return err == nil && status.Phase == string(supervisor.PhaseIdle)
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := panel.runRecords.ReadRunRecord(supervisor.DefaultRunRecordID)
		return errors.IsNotFoundError(err)
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		entries, err := client.History(ctx, 10)
		if err != nil {
			return false
		}
		var started, stopped bool
		for _, e := range entries {
			started = started || e.Type == string(broadcast.EventProcessStarted)
			stopped = stopped || e.Type == string(broadcast.EventProcessStopped)
		}
		return started && stopped
	}, 2*time.Second, 20*time.Millisecond)
}

func waitForOutput(t *testing.T, observer *broadcast.ChannelObserver, text string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-observer.Events():
			if event.Type == broadcast.EventOutputChunk && strings.Contains(event.Text, text) {
				return
			}
		case <-deadline:
			t.Fatalf("no output containing %q", text)
		}
	}
}

