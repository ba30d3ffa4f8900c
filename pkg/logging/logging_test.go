package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingFuncs struct {
	lines []string
}

func (r *recordingFuncs) funcs() LogFuncs {
	record := func(level string) LogFunc {
		return func(format string, args ...interface{}) {
			r.lines = append(r.lines, level+" "+fmt.Sprintf(format, args...))
		}
	}
	return LogFuncs{
		Debugf: record("debug"),
		Infof:  record("info"),
		Warnf:  record("warn"),
		Errorf: record("error"),
	}
}

func TestLogger_PrefixAndLevels(t *testing.T) {
	rec := &recordingFuncs{}
	logger := NewLogger("module: test , ", rec.funcs())

	logger.Debugf("a=%d", 1)
	logger.Infof("b")
	logger.Warnf("c")
	logger.Errorf("d")
	logger.LogLevelf(LogLevelInfo, "e")

	assert.Equal(t, []string{
		"debug module: test , a=1",
		"info module: test , b",
		"warn module: test , c",
		"error module: test , d",
		"info module: test , e",
	}, rec.lines)
}

func TestForModule_ChainsPrefixes(t *testing.T) {
	rec := &recordingFuncs{}
	root := NewLogger("panel | ", rec.funcs())

	child := ForModule(root, "supervisor")
	child.Warnf("stopping %s", "survival")

	require.Len(t, rec.lines, 1)
	assert.Equal(t, "warn panel | module: supervisor , stopping survival", rec.lines[0])
}

func TestNopLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNopLogger().Errorf("nothing %v", 1)
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		shouldErr bool
	}{
		{"debug", "debug", false},
		{"info", "info", false},
		{"empty", "", false},
		{"warn", "warn", false},
		{"error", "error", false},
		{"unknown", "verbose", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLevel(tt.level)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewZapLogger_FileOutput(t *testing.T) {
	path := t.TempDir() + "/panel.log"
	sugar, err := NewZapLogger(ZapConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	logger := NewLogger("", LogFuncsFromZap(sugar))
	logger.Infof("hello %s", "file")
	require.NoError(t, sugar.Sync())
}
