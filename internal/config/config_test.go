// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/mcp"
)

// isolate points the home directory at a temp dir so Load never reads the
// developer's real config.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{"RIGRUN_MODEL", "RIGRUN_OLLAMA_URL", "RIGRUN_ADDR", "RIGRUN_DB", "RIGRUN_TOOLS", "RIGRUN_MAX_ROUNDS", "RIGRUN_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	return home
}

// TestConfig_ConcurrentAccess tests that Global and SetGlobal can be called
// concurrently. Run with -race.
func TestConfig_ConcurrentAccess(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := Default()
			c.Ollama.DefaultModel = "test-model"
			SetGlobal(c)
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if cfg.Tools.MaxRounds != 25 {
		t.Errorf("MaxRounds = %d, want 25", cfg.Tools.MaxRounds)
	}
	if cfg.Persistence.Interval.D() != 250*time.Millisecond {
		t.Errorf("Persistence.Interval = %v, want 250ms", cfg.Persistence.Interval.D())
	}
}

// TestConfig_Validate tests configuration validation.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"valid default config", func(c *Config) {}, ""},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }, "server.rate_limit"},
		{"bad ollama url", func(c *Config) { c.Ollama.URL = "localhost:11434" }, "ollama.url"},
		{"zero rounds", func(c *Config) { c.Tools.MaxRounds = 0 }, "tools.max_rounds"},
		{"too many rounds", func(c *Config) { c.Tools.MaxRounds = 500 }, "tools.max_rounds"},
		{"missing workspace", func(c *Config) { c.Tools.Workspace = "/does/not/exist" }, "tools.workspace"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad reasoning level", func(c *Config) { c.Client.ReasoningLevel = "max" }, "client.reasoning_level"},
		{"mcp without transport", func(c *Config) {
			c.Tools.MCP = map[string]mcp.ServerConfig{"files": {}}
		}, "tools.mcp.files"},
		{"mcp name with separator", func(c *Config) {
			c.Tools.MCP = map[string]mcp.ServerConfig{"a__b": {Command: "x"}}
		}, "tools.mcp.a__b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.field == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}

			var errs ValidateErrors
			if !errors.As(err, &errs) {
				t.Fatalf("Validate() = %v, want ValidateErrors", err)
			}
			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for %s in %v", tt.field, err)
			}
		})
	}
}

func TestLoadFromPath_Formats(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	files := map[string]string{
		"config.toml": `
[ollama]
default_model = "llama3.2"

[persistence]
interval = "100ms"

[tools]
max_rounds = 5
disabled = ["fetch_url"]

[tools.mcp.files]
command = "mcp-files"
args = ["--root", "."]
`,
		"config.yaml": `
ollama:
  default_model: llama3.2
persistence:
  interval: 100ms
tools:
  max_rounds: 5
  disabled: [fetch_url]
  mcp:
    files:
      command: mcp-files
      args: ["--root", "."]
`,
		"config.json": `{
  "ollama": {"default_model": "llama3.2"},
  "persistence": {"interval": "100ms"},
  "tools": {"max_rounds": 5, "disabled": ["fetch_url"], "mcp": {"files": {"command": "mcp-files", "args": ["--root", "."]}}}
}`,
	}

	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			cfg, err := LoadFromPath(path)
			require.NoError(t, err)

			assert.Equal(t, "llama3.2", cfg.Ollama.DefaultModel)
			assert.Equal(t, 100*time.Millisecond, cfg.Persistence.Interval.D())
			assert.Equal(t, 5, cfg.Tools.MaxRounds)
			assert.Equal(t, []string{"fetch_url"}, cfg.Tools.Disabled)
			require.Contains(t, cfg.Tools.MCP, "files")
			assert.Equal(t, "mcp-files", cfg.Tools.MCP["files"].Command)

			// Unset values keep their defaults.
			assert.Equal(t, Default().Server.Addr, cfg.Server.Addr)
			assert.Equal(t, Default().Persistence.DrainTimeout, cfg.Persistence.DrainTimeout)
		})
	}
}

func TestLoadFromPath_InvalidIsRejected(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[tools]\nmax_rounds = -3\n"), 0o600))
	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tools.max_rounds")
}

func TestLoadFromPath_FixesPermissions(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	_, err := LoadFromPath(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoad_SearchOrderAndEnv(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".rigrun-chat")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"ollama":{"default_model":"from-json"}}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[ollama]\ndefault_model = \"from-toml\"\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-toml", cfg.Ollama.DefaultModel)

	t.Setenv("RIGRUN_MODEL", "from-env")
	t.Setenv("RIGRUN_DB", "off")
	t.Setenv("RIGRUN_TOOLS", "false")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Ollama.DefaultModel)
	assert.Empty(t, cfg.Storage.Path)
	assert.False(t, cfg.Tools.Enabled)
}

func TestSaveToPath_RoundTrip(t *testing.T) {
	isolate(t)
	for _, ext := range []string{"toml", "yaml", "json"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "config."+ext)
			cfg := Default()
			cfg.Ollama.DefaultModel = "saved-model"
			cfg.Tools.Disabled = []string{"read_file"}

			require.NoError(t, SaveToPath(cfg, path))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			loaded, err := LoadFromPath(path)
			require.NoError(t, err)
			assert.Equal(t, "saved-model", loaded.Ollama.DefaultModel)
			assert.Equal(t, []string{"read_file"}, loaded.Tools.Disabled)
			assert.Equal(t, cfg.Persistence, loaded.Persistence)
		})
	}
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("tools.max_rounds", "7"))
	require.NoError(t, cfg.Set("persistence.interval", "1s"))
	require.NoError(t, cfg.Set("server.rate_limit", "2.5"))
	require.NoError(t, cfg.Set("tools.enable_fetch", "no"))
	require.NoError(t, cfg.Set("tools.disabled", "fetch_url, read_file"))

	v, err := cfg.Get("tools.max_rounds")
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, time.Second, cfg.Persistence.Interval.D())
	assert.Equal(t, 2.5, cfg.Server.RateLimit)
	assert.False(t, cfg.Tools.EnableFetch)
	assert.Equal(t, []string{"fetch_url", "read_file"}, cfg.Tools.Disabled)

	_, err = cfg.Get("tools.nope")
	assert.Error(t, err)
	assert.Error(t, cfg.Set("tools.max_rounds", "many"))
	assert.Error(t, cfg.Set("server.addr.port", "1"))
}

func TestKeys(t *testing.T) {
	keys := Keys()
	joined := strings.Join(keys, " ")
	for _, want := range []string{"server.addr", "ollama.default_model", "tools.max_rounds", "logging.level", "persistence.interval"} {
		assert.Contains(t, joined, want)
	}
	for _, k := range keys {
		_, err := Default().Get(k)
		assert.NoError(t, err, k)
	}
}

func TestConfig_CloneAndRedact(t *testing.T) {
	cfg := Default()
	cfg.Server.AuthToken = "secret-token"
	cfg.Tools.MCP = map[string]mcp.ServerConfig{
		"remote": {URL: "https://example.com/mcp", Headers: map[string]string{"Authorization": "Bearer abc"}},
	}

	clone := cfg.Clone()
	clone.Tools.MCP["remote"].Headers["Authorization"] = "changed"
	assert.Equal(t, "Bearer abc", cfg.Tools.MCP["remote"].Headers["Authorization"])

	s := cfg.String()
	assert.NotContains(t, s, "secret-token")
	assert.NotContains(t, s, "Bearer abc")
	assert.Equal(t, "secret-token", cfg.Server.AuthToken)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"info\"\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	go func() {
		_ = Watch(ctx, path, nil, func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0o600))

	select {
	case c := <-changes:
		assert.Equal(t, "debug", c.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}
