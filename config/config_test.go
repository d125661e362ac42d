package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fdwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: 127.0.0.1:9000
log_level: debug
max_events: 512
wait_timeout: 250ms
console:
  enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 512, cfg.MaxEvents)
	assert.Equal(t, 250*time.Millisecond, cfg.WaitTimeout)
	assert.False(t, cfg.Console.Enabled)
	assert.Equal(t, DefaultHistoryFile, cfg.Console.HistoryFile, "unset keys keep their default")
	assert.Equal(t, 256, cfg.Tombstones)
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, content := range map[string]string{
		"negative max_events": "max_events: -1",
		"unknown level":       "log_level: loud",
		"empty listen":        `listen: ""`,
		"not yaml":            "listen: [",
		"zero wait_timeout":   "wait_timeout: 0s",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
