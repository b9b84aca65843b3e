package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/rendermesh/internal/config"
)

// TestGetenv tests the getenv utility function
func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      string
		expected string
	}{
		{name: "environment variable set", key: "RENDERMESH_TEST_VAR", value: "set", def: "default", expected: "set"},
		{name: "environment variable not set", key: "RENDERMESH_UNSET_VAR", def: "default", expected: "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv(tt.key, tt.value)
			}
			assert.Equal(t, tt.expected, getenv(tt.key, tt.def))
		})
	}
}

// TestRunRejectsBadConfig fails fast before opening any listener.
func TestRunRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[poll]\ninterval = \"30s\"\n"), 0o600))

	err := run([]string{"-config", path})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

// TestRunRejectsMissingConfig reports an unreadable file.
func TestRunRejectsMissingConfig(t *testing.T) {
	err := run([]string{"-config", filepath.Join(t.TempDir(), "missing.toml")})
	assert.Error(t, err)
}

// TestRunRejectsBadLogLevel validates logging settings from the environment.
func TestRunRejectsBadLogLevel(t *testing.T) {
	t.Setenv(config.EnvLogLevel, "chatty")
	err := run(nil)
	assert.Error(t, err)
}

// TestRunUnknownFlag surfaces flag parse errors.
func TestRunUnknownFlag(t *testing.T) {
	assert.Error(t, run([]string{"-nope"}))
}
