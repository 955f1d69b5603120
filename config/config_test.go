package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pointsd.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 10, cfg.Pagination.DefaultPageSize)
	assert.Equal(t, 100, cfg.Pagination.MaxPageSize)
	assert.Equal(t, 10, cfg.Pagination.SummarySize)
	assert.True(t, cfg.Metrics.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
[server]
port = 9090
request_timeout = "3s"
cors_origins = ["https://admin.example.com"]

[database]
path = "/var/lib/points/points.db"

[pagination]
max_page_size = 50

[directory]
cache_ttl = "90s"

[log]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, []string{"https://admin.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "/var/lib/points/points.db", cfg.Database.Path)
	assert.Equal(t, 50, cfg.Pagination.MaxPageSize)
	assert.Equal(t, 10, cfg.Pagination.DefaultPageSize, "untouched keys keep defaults")
	assert.Equal(t, 90*time.Second, cfg.Directory.CacheTTL)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, `
[server]
port = 9090
`)
	t.Setenv(EnvPort, "7070")
	t.Setenv(EnvDBPath, ":memory:")
	t.Setenv(EnvMetrics, "false")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Database, cfg.Database)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{"unknown key", "[server]\nprot = 1\n", nil},
		{"bad toml", "[server\n", nil},
		{"bad port env", "", map[string]string{EnvPort: "http"}},
		{"bad metrics env", "", map[string]string{EnvMetrics: "maybe"}},
		{"invalid port", "[server]\nport = 70000\n", nil},
		{"default above max", "[pagination]\ndefault_page_size = 200\n", nil},
		{"bad log format", "[log]\nformat = \"xml\"\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeFile(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
