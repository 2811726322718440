package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"dreamweaver-server/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	config.SecretsDir = t.TempDir()

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "file", cfg.Store.Driver)
	assert.Equal(t, "queue", cfg.Lock.Policy)
	assert.Equal(t, 2, cfg.Turn.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Turn.StageTimeout)
	assert.Equal(t, "offline", cfg.AI.ClientType)
	assert.Equal(t, 10*time.Minute, cfg.Presence.SessionTimeout)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	config.SecretsDir = t.TempDir()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
store:
  driver: sqlite
lock:
  policy: reject
turn:
  max_retries: 1
`), 0o644))
	t.Setenv("TURN_STAGE_TIMEOUT", "5s")
	t.Setenv("AI_CLIENT_TYPE", "ollama")
	t.Setenv("AI_MODEL", "llama3")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "reject", cfg.Lock.Policy)
	assert.Equal(t, 1, cfg.Turn.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Turn.StageTimeout)
	assert.Equal(t, "ollama", cfg.AI.ClientType)
	assert.Equal(t, "llama3", cfg.AI.Model)
}

func TestLoadConfig_SecretsFromFiles(t *testing.T) {
	dir := t.TempDir()
	config.SecretsDir = dir
	require.NoError(t, os.WriteFile(filepath.Join(dir, "db_password"), []byte("s3cret\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ai_api_key"), []byte("sk-test"), 0o600))
	t.Setenv("AI_CLIENT_TYPE", "openai")

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Store.DBPassword)
	assert.Equal(t, "sk-test", cfg.AI.APIKey)
	assert.Contains(t, cfg.GetDSN(), ":s3cret@")
}

func TestLoadConfig_Invalid(t *testing.T) {
	config.SecretsDir = t.TempDir()

	t.Setenv("LOCK_POLICY", "drop")
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("AI_CLIENT_TYPE", "openai")
	_, err := config.LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown lock policy")
	assert.Contains(t, err.Error(), "unknown store driver")
	assert.Contains(t, err.Error(), "AI_API_KEY")
}

func TestGetAllowedOrigins(t *testing.T) {
	cfg := &config.Config{HTTP: config.HTTPConfig{AllowedOrigins: " http://a.test, ,http://b.test"}}
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.GetAllowedOrigins())
}
