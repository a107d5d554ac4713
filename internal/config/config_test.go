package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Database.URL = "postgres://localhost:5432/seeker"
	cfg.LLM.AnthropicAPIKey = "sk-ant-test"
	cfg.Research.TokenSecret = "secret"
	return cfg
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name    string
		mut     func(*Config)
		wantErr string
	}{
		{"missing database url", func(c *Config) { c.Database.URL = "" }, "database url"},
		{"no api keys", func(c *Config) { c.LLM.AnthropicAPIKey = "" }, "LLM API key"},
		{"no models", func(c *Config) { c.LLM.Models = nil }, "model"},
		{"missing token secret", func(c *Config) { c.Research.TokenSecret = "" }, "token secret"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"negative time limit", func(c *Config) { c.Agent.TimeLimit = Duration(-time.Minute) }, "time limit"},
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }, "iterations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mut(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeker.yaml")
	content := `
server:
  port: 9090
database:
  url: postgres://localhost:5432/seeker
llm:
  anthropic_api_key: sk-ant-from-file
research:
  token_secret: file-secret
agent:
  time_limit: 5m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("SEEKER_SERVER_PORT", "7070")
	t.Setenv("SEEKER_RESEARCH_TOKEN_SECRET", "env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port, "env wins over file")
	assert.Equal(t, "env-secret", cfg.Research.TokenSecret)
	assert.Equal(t, "sk-ant-from-file", cfg.LLM.AnthropicAPIKey)
	assert.Equal(t, Duration(5*time.Minute), cfg.Agent.TimeLimit)
	assert.Equal(t, 50, cfg.Agent.MaxIterations, "defaults survive partial file")
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("SEEKER_DATABASE_URL", "postgres://env:5432/seeker")
	t.Setenv("SEEKER_LLM_GEMINI_API_KEY", "gm-key")
	t.Setenv("SEEKER_RESEARCH_TOKEN_SECRET", "s")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env:5432/seeker", cfg.Database.URL)
	assert.Equal(t, "gm-key", cfg.LLM.GeminiAPIKey)
}

func TestWriteRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "seeker.yaml")
	require.NoError(t, Write(validConfig(), path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", cfg.LLM.AnthropicAPIKey)
	assert.Equal(t, 8080, cfg.Server.Port)
}
