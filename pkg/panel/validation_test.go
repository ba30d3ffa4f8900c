package panel

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/hsu-panel/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfig(t *testing.T) {
	staticFile := filepath.Join(t.TempDir(), "index.html")
	require.NoError(t, os.WriteFile(staticFile, []byte("<html></html>"), 0644))

	tests := []struct {
		name    string
		modify  func(*PanelConfig)
		wantErr bool
	}{
		{name: "defaults", modify: func(c *PanelConfig) {}},
		{name: "port zero", modify: func(c *PanelConfig) { c.Panel.Port = 0 }, wantErr: true},
		{name: "port too large", modify: func(c *PanelConfig) { c.Panel.Port = 70000 }, wantErr: true},
		{name: "negative shutdown timeout", modify: func(c *PanelConfig) { c.Panel.ForceShutdownTimeout = -time.Second }, wantErr: true},
		{name: "bad origin", modify: func(c *PanelConfig) { c.Panel.AllowedOrigins = []string{"localhost"} }, wantErr: true},
		{name: "good origin", modify: func(c *PanelConfig) { c.Panel.AllowedOrigins = []string{"https://panel.example.com"} }},
		{name: "empty root", modify: func(c *PanelConfig) { c.Instances.RootDir = "" }, wantErr: true},
		{name: "tunnel executable with path", modify: func(c *PanelConfig) { c.Instances.TunnelExecutable = "bin/ngrok" }, wantErr: true},
		{name: "launch script with path", modify: func(c *PanelConfig) { c.Process.LaunchScript = "../start.sh" }, wantErr: true},
		{name: "unknown signal", modify: func(c *PanelConfig) { c.Process.TerminationSignal = "SIGFOO" }, wantErr: true},
		{name: "short signal name", modify: func(c *PanelConfig) { c.Process.TerminationSignal = "int" }},
		{name: "negative kill timeout", modify: func(c *PanelConfig) { c.Process.KillTimeout = -1 }, wantErr: true},
		{name: "negative quiescence delay", modify: func(c *PanelConfig) { c.Process.QuiescenceDelay = -time.Second }, wantErr: true},
		{name: "empty sweep pattern", modify: func(c *PanelConfig) { c.Process.SweepPatterns = []string{""} }, wantErr: true},
		{name: "bad manifest url", modify: func(c *PanelConfig) { c.Catalog.ManifestURL = "not a url" }, wantErr: true},
		{name: "negative catalog limit", modify: func(c *PanelConfig) { c.Catalog.Limit = -1 }, wantErr: true},
		{name: "bad tunnel url", modify: func(c *PanelConfig) { c.Tunnel.APIURL = "/api/tunnels" }, wantErr: true},
		{name: "bad log level", modify: func(c *PanelConfig) { c.Logging.Level = "verbose" }, wantErr: true},
		{name: "missing static dir", modify: func(c *PanelConfig) { c.StaticDir = "/definitely/not/here" }, wantErr: true},
		{name: "static path is a file", modify: func(c *PanelConfig) { c.StaticDir = staticFile }, wantErr: true},
		{name: "static dir", modify: func(c *PanelConfig) { c.StaticDir = filepath.Dir(staticFile) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := ValidateConfig(config)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateConfig_Nil(t *testing.T) {
	assert.Error(t, ValidateConfig(nil))
}

func TestValidateConfigFile(t *testing.T) {
	assert.NoError(t, ValidateConfigFile(writeConfig(t, "panel:\n  port: 3001\n")))

	err := ValidateConfigFile(writeConfig(t, "panel:\n  port: 99999\n"))
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestValidatePort(t *testing.T) {
	assert.NoError(t, ValidatePort(1))
	assert.NoError(t, ValidatePort(65535))
	assert.Error(t, ValidatePort(0))
	assert.Error(t, ValidatePort(-5))
	assert.Error(t, ValidatePort(65536))
}
