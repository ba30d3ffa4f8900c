package panel

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/core-tools/hsu-panel/pkg/broadcast"
	"github.com/core-tools/hsu-panel/pkg/control"
	"github.com/core-tools/hsu-panel/pkg/domain"
	"github.com/core-tools/hsu-panel/pkg/errors"
	"github.com/core-tools/hsu-panel/pkg/logging"
	"github.com/core-tools/hsu-panel/pkg/processfile"
	"github.com/core-tools/hsu-panel/pkg/supervisor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (m *MockLogger) Debugf(format string, args ...interface{})               { m.MethodCalled("debug", format) }
func (m *MockLogger) Infof(format string, args ...interface{})                { m.MethodCalled("info", format) }
func (m *MockLogger) Warnf(format string, args ...interface{})                { m.MethodCalled("warn", format) }
func (m *MockLogger) Errorf(format string, args ...interface{})               { m.MethodCalled("error", format) }

// testConfig points every on-disk location into a temp directory and keeps
// the sweep away from processes on the test host
func testConfig(t *testing.T) *PanelConfig {
	t.Helper()
	root := t.TempDir()

	config := DefaultConfig()
	config.Instances.RootDir = filepath.Join(root, "servers")
	config.Instances.TemplateDir = filepath.Join(root, "templates")
	config.Process.RootDir = config.Instances.RootDir
	config.Process.SweepPatterns = nil
	config.Process.GracefulTimeout = 2 * time.Second
	config.Process.KillTimeout = time.Second
	config.Process.StopCommandTimeout = 2 * time.Second
	config.RunRecords = processfile.ProcessFileConfig{BaseDirectory: root}
	config.History.Path = ":memory:"
	config.Tunnel.APIURL = "http://127.0.0.1:1/api/tunnels"
	config.Panel.OrphanGracePeriod = time.Second

	require.NoError(t, os.MkdirAll(config.Instances.RootDir, 0755))
	return config
}

func newTestPanel(t *testing.T, config *PanelConfig) (*Panel, domain.Contract) {
	t.Helper()
	panel, err := NewPanel(config, logging.NewNopLogger())
	require.NoError(t, err)

	server := httptest.NewServer(panel.Handler())
	t.Cleanup(func() {
		server.Close()
		panel.Close(context.Background())
	})

	return panel, control.NewHTTPClientGateway(server.URL, server.Client(), logging.NewNopLogger())
}

func TestNewPanel_Nil(t *testing.T) {
	_, err := NewPanel(nil, logging.NewNopLogger())
	assert.True(t, errors.IsValidationError(err))
}

func TestPanel_ServesContract(t *testing.T) {
	config := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Join(config.Instances.RootDir, "alpha"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(config.Instances.RootDir, "public"), 0755))

	_, client := newTestPanel(t, config)
	ctx := context.Background()

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(supervisor.PhaseIdle), status.Phase)

	instances, err := client.ListInstances(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, instances)

	err = client.Start(ctx, "ghost")
	assert.True(t, errors.IsNotFoundError(err))

	err = client.Start(ctx, "../etc")
	assert.True(t, errors.IsValidationError(err))

	// No tunnel agent listens on port 1
	tunnelStatus, err := client.TunnelEndpoint(ctx)
	require.NoError(t, err)
	assert.False(t, tunnelStatus.Available)
	assert.Equal(t, string(errors.ErrorTypeUnavailable), tunnelStatus.Reason)

	result, err := client.Delete(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NoDirExists(t, filepath.Join(config.Instances.RootDir, "alpha"))
}

func TestPanel_HistoryFollowsBroadcasts(t *testing.T) {
	panel, client := newTestPanel(t, testConfig(t))

	panel.hub.Publish(broadcast.StartedEvent("alpha"))
	panel.hub.Publish(broadcast.OutputEvent(broadcast.StreamStdout, "chatter"))
	panel.hub.Publish(broadcast.StoppedEvent("alpha"))

	var entries []domain.HistoryEntry
	require.Eventually(t, func() bool {
		var err error
		entries, err = client.History(context.Background(), 10)
		return err == nil && len(entries) == 2
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, string(broadcast.EventProcessStopped), entries[0].Type)
	assert.Equal(t, string(broadcast.EventProcessStarted), entries[1].Type)
}

func TestPanel_HistoryDisabled(t *testing.T) {
	config := testConfig(t)
	disabled := false
	config.History.Enabled = &disabled

	panel, client := newTestPanel(t, config)
	assert.Nil(t, panel.history)

	entries, err := client.History(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPanel_RecoverOrphan(t *testing.T) {
	config := testConfig(t)
	panel, _ := newTestPanel(t, config)

	t.Run("nothing recorded", func(t *testing.T) {
		assert.NoError(t, panel.RecoverOrphan(context.Background()))
	})

	t.Run("stale record is removed", func(t *testing.T) {
		// A process that has already exited stands in for a dead server
		cmd := exec.Command(os.Args[0], "-test.run=^$")
		require.NoError(t, cmd.Run())

		observer := broadcast.NewChannelObserver(8)
		id := panel.hub.Subscribe(observer)
		defer panel.hub.Unsubscribe(id)

		require.NoError(t, panel.runRecords.WriteRunRecord(supervisor.DefaultRunRecordID,
			processfile.RunRecord{PID: cmd.Process.Pid, Instance: "alpha"}))

		require.NoError(t, panel.RecoverOrphan(context.Background()))

		_, err := panel.runRecords.ReadRunRecord(supervisor.DefaultRunRecordID)
		assert.True(t, errors.IsNotFoundError(err))

		select {
		case event := <-observer.Events():
			assert.Equal(t, broadcast.StreamSystem, event.Stream)
			assert.Contains(t, event.Text, "alpha")
		case <-time.After(time.Second):
			t.Fatal("no cleanup notice published")
		}
	})
}

func TestPanel_Address(t *testing.T) {
	config := testConfig(t)
	config.Panel.Host = "127.0.0.1"
	config.Panel.Port = 3100
	panel, _ := newTestPanel(t, config)
	assert.Equal(t, "127.0.0.1:3100", panel.Address())
}

func TestRunWithConfig_StopsAfterDuration(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	config := testConfig(t)
	config.Panel.Host = "127.0.0.1"
	config.Panel.Port = port

	done := make(chan error, 1)
	go func() {
		done <- RunWithConfig(3, config, logging.NewNopLogger())
	}()

	url := "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(port)) + "/api/status"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunWithConfig_InvalidConfig(t *testing.T) {
	config := testConfig(t)
	config.Panel.Port = -1
	err := RunWithConfig(0, config, logging.NewNopLogger())
	assert.True(t, errors.IsValidationError(err))
}

func TestConsoleObserver(t *testing.T) {
	tests := []struct {
		name   string
		event  broadcast.Event
		level  string
		format string
	}{
		{"started", broadcast.StartedEvent("alpha"), "info", "Server started, instance: %s"},
		{"stopped", broadcast.StoppedEvent("alpha"), "info", "Server stopped, instance: %s"},
		{"list", broadcast.InstanceListEvent([]string{"a"}), "info", "Instances: [%s]"},
		{"progress", broadcast.ProgressEvent("alpha", "Downloading"), "info", "Provisioning %s: %s"},
		{"system", broadcast.SystemOutput("exited"), "info", "[system] %s"},
		{"stdout", broadcast.OutputEvent(broadcast.StreamStdout, "hello\n"), "debug", "[%s] %s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &MockLogger{}
			logger.On(tt.level, tt.format).Once()

			newConsoleObserver(logger).Notify(tt.event)

			logger.AssertExpectations(t)
		})
	}
}
