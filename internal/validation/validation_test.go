package validation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointValidator(t *testing.T) {
	tests := []struct {
		name      string
		validator *EndpointValidator
		input     string
		want      string
		wantErr   bool
	}{
		{"adds default scheme", NewEndpointValidator(), "api.stories.dev/v1/", "https://api.stories.dev/v1", false},
		{"keeps http", NewEndpointValidator(), "http://api.stories.dev", "http://api.stories.dev", false},
		{"rejects ftp", NewEndpointValidator(), "ftp://api.stories.dev", "", true},
		{"rejects empty", NewEndpointValidator(), "  ", "", true},
		{"rejects quotes", NewEndpointValidator(), `https://a"b.dev`, "", true},
		{"rejects localhost", NewEndpointValidator(), "http://localhost:8080", "", true},
		{"rejects private ip", NewEndpointValidator(), "http://192.168.1.4", "", true},
		{"rejects traversal", NewEndpointValidator(), "https://api.stories.dev/a/../b", "", true},
		{"permissive localhost", NewPermissiveEndpointValidator(), "http://localhost:8080/", "http://localhost:8080", false},
		{"websocket default", NewEndpointValidator("wss", "ws"), "push.stories.dev/stream", "wss://push.stories.dev/stream", false},
		{"websocket rejects https", NewEndpointValidator("wss", "ws"), "https://push.stories.dev", "", true},
		{"unspecified address", NewPermissiveEndpointValidator(), "http://0.0.0.0", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.validator.ValidateAndNormalize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEndpointValidator_HostPort(t *testing.T) {
	v := NewPermissiveEndpointValidator()
	assert.NoError(t, v.ValidateHostPort("localhost:6379"))
	assert.NoError(t, v.ValidateHostPort("redis.internal:6379"))
	assert.Error(t, v.ValidateHostPort("redis.internal"))
	assert.Error(t, v.ValidateHostPort(":6379"))
	assert.Error(t, NewEndpointValidator().ValidateHostPort("127.0.0.1:6379"))
}

func TestIsPathSafe(t *testing.T) {
	assert.True(t, IsPathSafe("/tmp/storyfeed.db"))
	assert.True(t, IsPathSafe("~/.storyfeed/index.bleve"))
	assert.False(t, IsPathSafe("/tmp/../etc/passwd"))
	assert.False(t, IsPathSafe("..\\windows"))
	assert.False(t, IsPathSafe("/tmp/a\x00b"))
	assert.False(t, IsPathSafe("/tmp/.."))
}

func TestPathValidator_Clean(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	v := NewPermissivePathValidator()
	got, err := v.Clean("~/.storyfeed/storyfeed.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".storyfeed", "storyfeed.db"), got)

	got, err = v.Clean("data//stories.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("data", "stories.db"), got)

	for _, bad := range []string{"", "~other/x", "a/../b", "bad\x01name"} {
		_, err := v.Clean(bad)
		assert.ErrorIs(t, err, ErrUnsafePath, "path %q", bad)
	}
}

func TestPathValidator_BaseDirs(t *testing.T) {
	base := t.TempDir()
	v := &PathValidator{AllowedBaseDirs: []string{base}}

	got, err := v.File(filepath.Join(base, "stories.db"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "stories.db"), got)

	_, err = v.File("/etc/storyfeed.db")
	assert.ErrorIs(t, err, ErrUnsafePath)

	_, err = v.File(base)
	assert.Error(t, err, "a directory is not a file")
}

func TestPathValidator_Directory(t *testing.T) {
	base := t.TempDir()
	v := NewPermissivePathValidator()

	target := filepath.Join(base, "index", "stories.bleve")
	got, err := v.Directory(target, false)
	require.NoError(t, err)
	assert.Equal(t, target, got)
	_, err = os.Stat(target)
	assert.True(t, os.IsNotExist(err))

	_, err = v.Directory(target, true)
	require.NoError(t, err)
	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	file := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = v.Directory(file, false)
	assert.Error(t, err)
}

func TestPathValidator_Defaults(t *testing.T) {
	v := NewPathValidator()

	db, err := v.DBPath("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(DataDir(), "storyfeed.db"), db)

	cfg, err := v.ConfigPath("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ConfigDir(), "config.toml"), cfg)

	idx, err := v.IndexPath(filepath.Join(os.TempDir(), "storyfeed-index"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(os.TempDir(), "storyfeed-index"), idx)

	_, err = v.DBPath("/etc/storyfeed.db")
	assert.Error(t, err)
}
