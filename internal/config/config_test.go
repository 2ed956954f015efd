package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, "local", cfg.Identity.Provider)
	require.Equal(t, "sb-access-token", cfg.Identity.Cookie.AccessName)
	require.True(t, cfg.Chat.EnforceOwnership)
	require.Equal(t, DefaultFallbackMessage, cfg.Chat.FallbackMessage)
	require.Empty(t, cfg.Kafka.Brokers)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := []byte(`
server:
  port: "9090"
llm:
  provider: deepseek
  model: deepseek-chat
  timeout_seconds: 30
chat:
  enforce_ownership: false
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/chat")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co")
	t.Setenv("DATABASE_REDIS_ADDR", "redis:6379")
	t.Setenv("LLM_MODEL", "deepseek-reasoner")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, "deepseek", cfg.LLM.Provider)
	require.Equal(t, "deepseek-reasoner", cfg.LLM.Model)
	require.Equal(t, 30, cfg.LLM.TimeoutSeconds)
	require.False(t, cfg.Chat.EnforceOwnership)
	require.Equal(t, "postgres://u:p@db:5432/chat", cfg.Database.DSN)
	require.Equal(t, "g-key", cfg.LLM.APIKey)
	require.Equal(t, "https://proj.supabase.co", cfg.Identity.URL)
	require.Equal(t, "redis:6379", cfg.Database.Redis.Addr)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}
