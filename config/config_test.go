package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sammcj/toolbridge/config"
	"github.com/sammcj/toolbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(config.EnvAPIKey, "")
	t.Setenv(config.EnvGroqAPIKey, "")
	t.Setenv(config.EnvOpenAIAPIKey, "")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "groq", cfg.LLM.Provider)
	assert.Equal(t, config.TransportInProcess, cfg.Provider.Transport)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, config.BusyQueue, cfg.Provider.Busy)
	assert.Equal(t, "127.0.0.1:7777", cfg.Addr())
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
llm:
  provider: openai
  model: gpt-4o-mini
  api_key: from-file
  timeout: 15s
provider:
  transport: stdio
  command: ./provider
  arguments: [serve-stdio]
  timeout: 5s
  busy: fail
database:
  path: example.db
server:
  port: 9090
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "from-file", cfg.LLM.APIKey)
	assert.Equal(t, 15*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "./provider", cfg.Provider.Command)
	assert.Equal(t, []string{"serve-stdio"}, cfg.Provider.Arguments)
	assert.Equal(t, 5*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, config.BusyFail, cfg.Provider.Busy)
	assert.Equal(t, "example.db", cfg.Database.Path)
	// unset fields keep their defaults
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	tcases := []struct {
		name    string
		content string
		field   string
	}{
		{
			name:    "provider",
			content: "llm:\n  provider: bard\n",
			field:   "llm.provider",
		},
		{
			name:    "stdio without command",
			content: "provider:\n  transport: stdio\n",
			field:   "provider.command",
		},
		{
			name:    "http without url",
			content: "provider:\n  transport: http\n",
			field:   "provider.url",
		},
		{
			name:    "bad url",
			content: "provider:\n  transport: http\n  url: not-a-url\n",
			field:   "provider.url",
		},
		{
			name:    "busy",
			content: "provider:\n  busy: sometimes\n",
			field:   "provider.busy",
		},
		{
			name:    "port",
			content: "server:\n  port: 70000\n",
			field:   "server.port",
		},
		{
			name:    "parallel tools with busy fail",
			content: "llm:\n  parallel_tools: true\nprovider:\n  busy: fail\n",
			field:   "llm.parallel_tools",
		},
		{
			name:    "level",
			content: "logging:\n  level: loud\n",
			field:   "logging.level",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrInvalidConfig), "got %v", err)

			var ce *types.ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tc.field, ce.Field)
		})
	}

	_, err := config.Load(writeConfig(t, "llm: [unterminated"))
	assert.True(t, errors.Is(err, types.ErrInvalidConfig))

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	clearEnv(t)

	cfg := config.DefaultConfig()
	t.Setenv(config.EnvGroqAPIKey, "groq-key")
	cfg.ApplyEnv()
	assert.Equal(t, "groq-key", cfg.LLM.APIKey)

	// a key from the file is not replaced by the provider variable
	cfg = config.DefaultConfig()
	cfg.LLM.APIKey = "file-key"
	cfg.ApplyEnv()
	assert.Equal(t, "file-key", cfg.LLM.APIKey)

	cfg = config.DefaultConfig()
	cfg.LLM.Provider = "openai"
	t.Setenv(config.EnvOpenAIAPIKey, "openai-key")
	cfg.ApplyEnv()
	assert.Equal(t, "openai-key", cfg.LLM.APIKey)

	t.Setenv(config.EnvAPIKey, "override")
	cfg.LLM.APIKey = "file-key"
	cfg.ApplyEnv()
	assert.Equal(t, "override", cfg.LLM.APIKey)
}

func TestLoadOrCreate(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, created, err := config.LoadOrCreate()
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, config.DefaultConfig(), cfg)

	path, err := config.GetConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "toolbridge", "config.yaml"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg.Server.Port = 8181
	require.NoError(t, cfg.Save())

	cfg, created, err = config.LoadOrCreate()
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
}
