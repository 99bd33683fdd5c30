package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if key, _, _ := strings.Cut(kv, "="); strings.HasPrefix(key, "QCHAT_") {
			t.Setenv(key, "")
		}
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	clearEnv(t)
	cfg := Default()

	assert.Equal(t, DefaultProfile, cfg.Profile)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 7860, cfg.Server.Port)
	assert.True(t, cfg.Server.OpenBrowser)
	assert.Equal(t, BackendLlamaServer, cfg.Engine.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Engine.Timeout)
	assert.Equal(t, int64(1), cfg.Engine.Concurrency)
	assert.Equal(t, []string{"gemma-3", "phi-3", "qwen-2.5"}, cfg.ProfileNames())
	assert.NoError(t, cfg.Validate())
}

func TestBuiltinProfiles(t *testing.T) {
	t.Setenv("QCHAT_MODELS_DIR", "/models")
	profiles := BuiltinProfiles()

	tests := []struct {
		name    string
		file    string
		threads int
		prompt  string
		topP    float64
		stop    []string
	}{
		{"gemma-3", "gemma-3-1b-it-q4_k_m.gguf", 6, concisePrompt, 0.95, nil},
		{"phi-3", "phi-3-mini-4k-instruct-q4_k_m.gguf", 4, "", 0, []string{"<|end|>"}},
		{"qwen-2.5", "qwen-2.5-1.5b-instruct-q4_k_m.gguf", 4, concisePrompt, 0.95, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := profiles[tt.name]
			require.True(t, ok)
			assert.Equal(t, filepath.Join("/models", tt.file), p.ModelPath)
			assert.Equal(t, tt.threads, p.Threads)
			assert.Equal(t, 4096, p.ContextSize)
			assert.Equal(t, 0, p.GPULayers)
			assert.Equal(t, tt.prompt, p.SystemPrompt)
			assert.Equal(t, 512, p.Sampling.MaxTokens)
			assert.Equal(t, 0.7, p.Sampling.Temperature)
			assert.Equal(t, tt.topP, p.Sampling.TopP)
			assert.Equal(t, tt.stop, p.Sampling.Stop)
			assert.NotEmpty(t, p.Title)
			assert.NotEmpty(t, p.Description)
			assert.NoError(t, p.Validate())
		})
	}
}

func TestLoadMissingDefaultFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile, cfg.Profile)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
profile: phi-3
server:
  port: 9000
  allowed_origins: [http://localhost:3000]
log:
  level: debug
  format: json
engine:
  backend: openai
  url: http://127.0.0.1:8080
  timeout: 90s
  concurrency: 2
profiles:
  phi-3:
    threads: 8
    sampling:
      temperature: 0
  tiny:
    title: Tiny
    model_path: /tmp/tiny.gguf
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "phi-3", cfg.Profile)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "unset fields keep their defaults")
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, BackendOpenAI, cfg.Engine.Backend)
	assert.Equal(t, 90*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Engine.StartupTimeout)
	assert.Equal(t, int64(2), cfg.Engine.Concurrency)

	phi := cfg.Profiles["phi-3"]
	assert.Equal(t, 8, phi.Threads)
	assert.Equal(t, 0.0, phi.Sampling.Temperature)
	assert.Equal(t, 512, phi.Sampling.MaxTokens, "built-in fields survive a partial override")
	assert.Equal(t, []string{"<|end|>"}, phi.Sampling.Stop)

	tiny := cfg.Profiles["tiny"]
	assert.Equal(t, "Tiny", tiny.Title)
	assert.Equal(t, 4096, tiny.ContextSize)
	assert.Len(t, cfg.Profiles, 4)

	require.NoError(t, cfg.Validate())
}

func TestLoadInvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "profile: [unterminated")
	_, err := Load(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestApplyEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("QCHAT_PROFILE", "gemma-3")
	t.Setenv("QCHAT_MODEL_PATH", "/srv/models/custom.gguf")
	t.Setenv("QCHAT_HOST", "0.0.0.0")
	t.Setenv("QCHAT_PORT", "8088")
	t.Setenv("QCHAT_API_KEY", "secret")
	t.Setenv("QCHAT_OPEN_BROWSER", "false")
	t.Setenv("QCHAT_ENGINE_BACKEND", "ollama")
	t.Setenv("QCHAT_ENGINE_URL", "http://localhost:11434")
	t.Setenv("QCHAT_LOG_LEVEL", "warn")
	t.Setenv("QCHAT_LOG_FORMAT", "json")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, "gemma-3", cfg.Profile)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.False(t, cfg.Server.OpenBrowser)
	assert.Equal(t, BackendOllama, cfg.Engine.Backend)
	assert.Equal(t, "http://localhost:11434", cfg.Engine.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	p, err := cfg.Active()
	require.NoError(t, err)
	assert.Equal(t, "/srv/models/custom.gguf", p.ModelPath)
	assert.Equal(t, "gemma-3 Local Chat", p.Title)
}

func TestApplyEnvIgnoresMalformedNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("QCHAT_PORT", "not-a-port")
	t.Setenv("QCHAT_OPEN_BROWSER", "maybe")

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.True(t, cfg.Server.OpenBrowser)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("QCHAT_PROFILE=phi-3\nQCHAT_PORT=7000\n"), 0o600))

	t.Setenv("QCHAT_PORT", "7001")
	// godotenv skips variables that exist, even when empty.
	require.NoError(t, os.Unsetenv("QCHAT_PROFILE"))

	require.NoError(t, LoadDotEnv(envFile))
	t.Cleanup(func() { _ = os.Unsetenv("QCHAT_PROFILE") })

	assert.Equal(t, "phi-3", os.Getenv("QCHAT_PROFILE"))
	assert.Equal(t, "7001", os.Getenv("QCHAT_PORT"), "existing variables win")

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Engine.Backend = "vllm" }, "invalid engine backend"},
		{"openai without url", func(c *Config) { c.Engine.Backend = BackendOpenAI }, "engine url is required"},
		{"ollama without model", func(c *Config) {
			c.Engine.Backend = BackendOllama
			c.Engine.URL = "http://localhost:11434"
			p := c.Profiles["qwen-2.5"]
			p.Model = ""
			c.Profiles["qwen-2.5"] = p
		}, "model is required"},
		{"unknown profile", func(c *Config) { c.Profile = "llama-9" }, "unknown profile"},
		{"zero threads", func(c *Config) { setProfile(c, func(p *Profile) { p.Threads = 0 }) }, "invalid threads"},
		{"zero context", func(c *Config) { setProfile(c, func(p *Profile) { p.ContextSize = 0 }) }, "invalid context_size"},
		{"zero max tokens", func(c *Config) { setProfile(c, func(p *Profile) { p.Sampling.MaxTokens = 0 }) }, "invalid max_tokens"},
		{"negative temperature", func(c *Config) { setProfile(c, func(p *Profile) { p.Sampling.Temperature = -0.1 }) }, "invalid temperature"},
		{"top_p above one", func(c *Config) { setProfile(c, func(p *Profile) { p.Sampling.TopP = 1.5 }) }, "invalid top_p"},
		{"missing model path", func(c *Config) { setProfile(c, func(p *Profile) { p.ModelPath = "" }) }, "model_path is required"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid port"},
		{"zero concurrency", func(c *Config) { c.Engine.Concurrency = 0 }, "invalid engine concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func setProfile(c *Config, fn func(p *Profile)) {
	p := c.Profiles[c.Profile]
	fn(&p)
	c.Profiles[c.Profile] = p
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "models", "a.gguf"), ExpandPath("~/models/a.gguf"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, "/abs/a.gguf", ExpandPath("/abs/a.gguf"))
	assert.Equal(t, "ollama:qwen2.5", ExpandPath("ollama:qwen2.5"))
}
