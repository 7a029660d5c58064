package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	appPath := filepath.Join(dir, "api.yaml")
	require.NoError(t, os.WriteFile(appPath, []byte("server_addr: \":9090\"\nws_send_buffer_size: 64\ntyping_freshness_seconds: 5\n"), 0o600))
	dbPath := filepath.Join(dir, "database.yaml")
	require.NoError(t, os.WriteFile(dbPath, []byte("database_url: postgres://u:p@db:5432/chat\ndb_max_connections: 7\n"), 0o600))

	t.Setenv("APP_ENV", "test")
	t.Setenv("CONFIG_PATH", appPath)
	t.Setenv("DATABASE_CONFIG_PATH", dbPath)
	t.Setenv("WS_SEND_BUFFER_SIZE", "32")
	t.Setenv("REDIS_URL", "")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, 32, cfg.WSSendBufferSize)
	assert.Equal(t, 5*time.Second, cfg.TypingFreshness)
	assert.Equal(t, "postgres://u:p@db:5432/chat", cfg.DatabaseURL())
	assert.Equal(t, 7, cfg.DBMaxConnections())
	assert.Equal(t, "session", cfg.SessionCookie)
	assert.Empty(t, cfg.RedisURL)
	assert.NotEmpty(t, cfg.SessionSecret)
}

func TestEnvIntFallback(t *testing.T) {
	t.Setenv("SOME_INT", "abc")
	assert.Equal(t, 3, envInt("SOME_INT", 3))
	t.Setenv("SOME_INT", "12")
	assert.Equal(t, 12, envInt("SOME_INT", 3))
}
