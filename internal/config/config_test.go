package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err, "explicit missing file must fail")

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8090", cfg.Server.Addr())
	assert.Equal(t, "agents.yaml", cfg.Agents.File)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.BaseURL)
	assert.Empty(t, cfg.Gotify.URL)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "briefer.yaml")
	content := `
server:
  host: 0.0.0.0
  port: 9100
agents:
  file: /etc/briefer/agents.yaml
  data_dir: /var/lib/briefer
llm:
  model: llama3.1:70b
gotify:
  url: https://push.example.com
  token: secret
mcp:
  fetch:
    command: uvx
    args: ["mcp-server-fetch"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9100", cfg.Server.Addr())
	assert.Equal(t, "/var/lib/briefer", cfg.Agents.DataDir)
	assert.Equal(t, "llama3.1:70b", cfg.LLM.Model)
	require.Contains(t, cfg.MCP, "fetch")
	assert.Equal(t, "uvx", cfg.MCP["fetch"].Command)
	assert.Equal(t, []string{"mcp-server-fetch"}, cfg.MCP["fetch"].Args)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("BRIEFER_SERVER_PORT", "9999")
	t.Setenv("BRIEFER_LLM_MODEL", "mistral:7b")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "mistral:7b", cfg.LLM.Model)
}

func TestLoad_Validation(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name    string
		content string
	}{
		{"bad port", "server:\n  port: -1\n"},
		{"token without url", "gotify:\n  token: abc\n"},
		{"mcp missing command", "mcp:\n  fetch:\n    args: [\"x\"]\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
