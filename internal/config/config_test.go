package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rendermesh.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// TestLoadDefaults returns the built-in values without a file.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 2*time.Second, cfg.Poll.Interval)
	assert.Equal(t, ":8090", cfg.Server.Listen)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Failover.AutoReelect)
}

// TestLoadFile overrides only the keys present in the file.
func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
[backend]
url = "http://10.0.0.1:5050/api"
timeout = "3s"

[poll]
interval = "1s"

[failover]
auto_reelect = true

[log]
format = "json"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:5050/api", cfg.Backend.URL)
	assert.Equal(t, 3*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, time.Second, cfg.Poll.Interval)
	assert.True(t, cfg.Failover.AutoReelect)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8090", cfg.Server.Listen)
}

// TestEnvOverrides take precedence over the file.
func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvBackend, "http://backend:5050/api")
	t.Setenv(EnvListen, ":9000")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load(writeFile(t, "[server]\nlisten = \":7000\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "http://backend:5050/api", cfg.Backend.URL)
	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
}

// TestLoadErrors covers unreadable, unknown and invalid settings.
func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "syntax", body: "[backend\nurl="},
		{name: "unknown key", body: "[poll]\nintervall = \"1s\"\n", wantErr: ErrInvalid},
		{name: "interval too close to window", body: "[poll]\ninterval = \"8s\"\n", wantErr: ErrInvalid},
		{name: "bad format", body: "[log]\nformat = \"xml\"\n", wantErr: ErrInvalid},
		{name: "empty url", body: "[backend]\nurl = \"\"\n", wantErr: ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
