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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "./data/orchestrator.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, int64(10*1024*1024), cfg.Documents.MaxUploadBytes)
	assert.Equal(t, 120*time.Second, cfg.AgentTimeout())
	assert.Equal(t, 4*120*time.Second+10*time.Second, cfg.RequestTimeout())
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  request_timeout: 5m
agents:
  base_url: https://agents.example.com
  timeout: 30s
storage:
  type: sqlite
  sqlite:
    path: /tmp/insure.db
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://agents.example.com", cfg.Agents.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.AgentTimeout())
	assert.Equal(t, 5*time.Minute, cfg.RequestTimeout())
	assert.Equal(t, "/tmp/insure.db", cfg.Storage.SQLite.Path)
}

func TestLoadFile_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
`)

	t.Setenv("INSURE_SERVER__PORT", "7070")
	t.Setenv("INSURE_AGENTS__BASE_URL", "https://env.example.com")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "https://env.example.com", cfg.Agents.BaseURL)
}

func TestLoadFile_SecretSubstitution(t *testing.T) {
	path := writeConfig(t, `
documents:
  api_key: ${DOCS_KEY}
`)

	t.Setenv("DOCS_KEY", "secret-value")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-value", cfg.Documents.APIKey)
}

func TestAgentTimeout_InvalidFallsBack(t *testing.T) {
	cfg := &Config{Agents: AgentsConfig{Timeout: "not-a-duration"}}
	assert.Equal(t, 120*time.Second, cfg.AgentTimeout())
}
