// Package config loads quarrel-chat settings from an optional YAML file,
// a .env file and QCHAT_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendLlamaServer = "llama-server"
	BackendOpenAI      = "openai"
	BackendOllama      = "ollama"

	DefaultProfile = "qwen-2.5"
	DefaultHost    = "127.0.0.1"
	DefaultPort    = 7860
)

type Sampling struct {
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature float64  `yaml:"temperature"`
	TopP        float64  `yaml:"top_p"`
	Stop        []string `yaml:"stop,omitempty"`
}

// Profile is one model setup: where the weights are, how the engine loads
// them, what the widget shows and how completions are sampled.
type Profile struct {
	Title        string   `yaml:"title"`
	Description  string   `yaml:"description"`
	Model        string   `yaml:"model,omitempty"`
	ModelPath    string   `yaml:"model_path"`
	Threads      int      `yaml:"threads"`
	ContextSize  int      `yaml:"context_size"`
	GPULayers    int      `yaml:"gpu_layers"`
	SystemPrompt string   `yaml:"system_prompt,omitempty"`
	Sampling     Sampling `yaml:"sampling"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	OpenBrowser    bool     `yaml:"open_browser"`
	APIKey         string   `yaml:"api_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type EngineConfig struct {
	Backend        string        `yaml:"backend"`
	Binary         string        `yaml:"binary"`
	URL            string        `yaml:"url"`
	APIKey         string        `yaml:"api_key"`
	Timeout        time.Duration `yaml:"timeout"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
	Concurrency    int64         `yaml:"concurrency"`
	ExtraArgs      []string      `yaml:"extra_args,omitempty"`
}

type Config struct {
	Profile string       `yaml:"profile"`
	Server  ServerConfig `yaml:"server"`
	Log     LogConfig    `yaml:"log"`
	Engine  EngineConfig `yaml:"engine"`

	// ModelPath replaces the selected profile's model_path when set.
	ModelPath string `yaml:"model_path,omitempty"`

	RawProfiles map[string]yaml.Node `yaml:"profiles,omitempty"`
	Profiles    map[string]Profile  `yaml:"-"`
}

const concisePrompt = "You are a concise, technical assistant. Answer clearly and accurately."

// ModelsDir is where the built-in profiles expect their GGUF files.
func ModelsDir() string {
	if dir := os.Getenv("QCHAT_MODELS_DIR"); dir != "" {
		return ExpandPath(dir)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "llm_local", "models")
}

func baseProfile() Profile {
	return Profile{
		Threads:     4,
		ContextSize: 4096,
		GPULayers:   0,
		Sampling: Sampling{
			MaxTokens:   512,
			Temperature: 0.7,
		},
	}
}

// BuiltinProfiles returns the profiles that ship with quarrel-chat.
func BuiltinProfiles() map[string]Profile {
	dir := ModelsDir()

	gemma := baseProfile()
	gemma.Title = "gemma-3 Local Chat"
	gemma.Description = "Offline chat with gemma-3-1b-it-q4_k_m using llama.cpp bindings."
	gemma.Model = "gemma3:1b"
	gemma.ModelPath = filepath.Join(dir, "gemma-3-1b-it-q4_k_m.gguf")
	gemma.Threads = 6
	gemma.SystemPrompt = concisePrompt
	gemma.Sampling.TopP = 0.95

	phi := baseProfile()
	phi.Title = "Phi-3-mini Local Chat"
	phi.Description = "Offline chat with Phi-3-mini (Q4_K_M) on your Debian machine."
	phi.Model = "phi3:mini"
	phi.ModelPath = filepath.Join(dir, "phi-3-mini-4k-instruct-q4_k_m.gguf")
	phi.Sampling.Stop = []string{"<|end|>"}

	qwen := baseProfile()
	qwen.Title = "Qwen2.5 Local Chat"
	qwen.Description = "Offline chat with Qwen2.5-1.5B-Instruct (Q4_K_M) using llama.cpp."
	qwen.Model = "qwen2.5:1.5b"
	qwen.ModelPath = filepath.Join(dir, "qwen-2.5-1.5b-instruct-q4_k_m.gguf")
	qwen.SystemPrompt = concisePrompt
	qwen.Sampling.TopP = 0.95

	return map[string]Profile{
		"gemma-3":  gemma,
		"phi-3":    phi,
		"qwen-2.5": qwen,
	}
}

func Default() *Config {
	return &Config{
		Profile: DefaultProfile,
		Server: ServerConfig{
			Host:        DefaultHost,
			Port:        DefaultPort,
			OpenBrowser: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Engine: EngineConfig{
			Backend:        BackendLlamaServer,
			Binary:         "llama-server",
			Timeout:        5 * time.Minute,
			StartupTimeout: 2 * time.Minute,
			Concurrency:    1,
		},
		Profiles: BuiltinProfiles(),
	}
}

// DefaultPath returns ~/.config/quarrel-chat/config.yaml, honoring
// XDG_CONFIG_HOME.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(dir, "quarrel-chat", "config.yaml"), nil
}

// Load reads path on top of the defaults. An empty path means DefaultPath,
// which may be absent; an explicit path must exist. Environment overrides
// are applied afterwards.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	data, err := os.ReadFile(ExpandPath(path))
	switch {
	case err == nil:
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.ApplyEnv()
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return err
	}

	// Configured profiles are decoded over the built-in of the same name, so
	// a file only has to name the fields it changes.
	for name, node := range c.RawProfiles {
		p, ok := c.Profiles[name]
		if !ok {
			p = baseProfile()
		}
		if err := node.Decode(&p); err != nil {
			return fmt.Errorf("profile %q: %w", name, err)
		}
		c.Profiles[name] = p
	}
	c.RawProfiles = nil
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the process environment without overriding variables already set.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from QCHAT_* variables.
func (c *Config) ApplyEnv() {
	c.Profile = envOrDefault("QCHAT_PROFILE", c.Profile)
	c.ModelPath = envOrDefault("QCHAT_MODEL_PATH", c.ModelPath)
	c.Server.Host = envOrDefault("QCHAT_HOST", c.Server.Host)
	c.Server.Port = envIntOrDefault("QCHAT_PORT", c.Server.Port)
	c.Server.APIKey = envOrDefault("QCHAT_API_KEY", c.Server.APIKey)
	c.Server.OpenBrowser = envBoolOrDefault("QCHAT_OPEN_BROWSER", c.Server.OpenBrowser)
	c.Engine.Backend = envOrDefault("QCHAT_ENGINE_BACKEND", c.Engine.Backend)
	c.Engine.URL = envOrDefault("QCHAT_ENGINE_URL", c.Engine.URL)
	c.Log.Level = envOrDefault("QCHAT_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOrDefault("QCHAT_LOG_FORMAT", c.Log.Format)
}

// Active returns the selected profile with ModelPath applied and expanded.
func (c *Config) Active() (Profile, error) {
	p, ok := c.Profiles[c.Profile]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q (available: %s)", c.Profile, strings.Join(c.ProfileNames(), ", "))
	}
	if c.ModelPath != "" {
		p.ModelPath = c.ModelPath
	}
	p.ModelPath = ExpandPath(p.ModelPath)
	return p, nil
}

// ProfileNames returns the known profile names in sorted order.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Config) Validate() error {
	switch c.Engine.Backend {
	case BackendLlamaServer, BackendOpenAI, BackendOllama:
	default:
		return fmt.Errorf("invalid engine backend %q (must be %s, %s or %s)",
			c.Engine.Backend, BackendLlamaServer, BackendOpenAI, BackendOllama)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Engine.Concurrency < 1 {
		return fmt.Errorf("invalid engine concurrency: %d (must be positive)", c.Engine.Concurrency)
	}
	if c.Engine.Backend != BackendLlamaServer && c.Engine.URL == "" {
		return fmt.Errorf("engine url is required for the %s backend", c.Engine.Backend)
	}

	p, err := c.Active()
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("profile %q: %w", c.Profile, err)
	}

	switch c.Engine.Backend {
	case BackendLlamaServer:
		if p.ModelPath == "" {
			return fmt.Errorf("profile %q: model_path is required for the %s backend", c.Profile, BackendLlamaServer)
		}
	case BackendOllama:
		if p.Model == "" {
			return fmt.Errorf("profile %q: model is required for the %s backend", c.Profile, BackendOllama)
		}
	}
	return nil
}

func (p Profile) Validate() error {
	if p.Threads <= 0 {
		return fmt.Errorf("invalid threads: %d (must be positive)", p.Threads)
	}
	if p.ContextSize <= 0 {
		return fmt.Errorf("invalid context_size: %d (must be positive)", p.ContextSize)
	}
	if p.Sampling.MaxTokens <= 0 {
		return fmt.Errorf("invalid max_tokens: %d (must be positive)", p.Sampling.MaxTokens)
	}
	if p.Sampling.Temperature < 0 {
		return fmt.Errorf("invalid temperature: %f (must be non-negative)", p.Sampling.Temperature)
	}
	if p.Sampling.TopP < 0 || p.Sampling.TopP > 1 {
		return fmt.Errorf("invalid top_p: %f (must be within [0, 1])", p.Sampling.TopP)
	}
	return nil
}

// ExpandPath replaces a leading "~" with the home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
