package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted for remote credentials.
const (
	EnvDeepSeekKey = "DEEPSEEK_API_KEY"
	EnvOpenAIKey   = "OPENAI_API_KEY"
)

// Defaults applied by WithDefaults.
const (
	DefaultAddr          = ":8080"
	DefaultLogLevel      = "info"
	DefaultModelsDir     = "~/models/llm"
	DefaultMaxLength     = 1536
	DefaultBatchTokens   = 2048
	DefaultQueueDepth    = 32
	DefaultRemoteTimeout = 30 * time.Second
	DefaultMaxBodyBytes  = 1 << 20
)

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	Engine       Engine `json:"engine" yaml:"engine" toml:"engine"`
	Remote       Remote `json:"remote" yaml:"remote" toml:"remote"`
	HTTP         HTTP   `json:"http" yaml:"http" toml:"http"`
}

// Engine configures the native engine.
type Engine struct {
	CtxSize       int    `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Threads       int    `json:"threads" yaml:"threads" toml:"threads"`
	MaxLength     int    `json:"max_length" yaml:"max_length" toml:"max_length"`
	BatchTokens   int    `json:"batch_tokens" yaml:"batch_tokens" toml:"batch_tokens"`
	QueueDepth    int    `json:"queue_depth" yaml:"queue_depth" toml:"queue_depth"`
	DraftEndpoint string `json:"draft_endpoint" yaml:"draft_endpoint" toml:"draft_endpoint"`
	// DraftServer is a llama.cpp server hosting the draft model, used when
	// the native runtime cannot draft itself.
	DraftServer string `json:"draft_server" yaml:"draft_server" toml:"draft_server"`
}

// Remote configures the remote providers.
type Remote struct {
	ConnectTimeout Duration `json:"connect_timeout" yaml:"connect_timeout" toml:"connect_timeout"`
	ReadTimeout    Duration `json:"read_timeout" yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout   Duration `json:"write_timeout" yaml:"write_timeout" toml:"write_timeout"`
	DeepSeek       Provider `json:"deepseek" yaml:"deepseek" toml:"deepseek"`
	Qwen           Provider `json:"qwen" yaml:"qwen" toml:"qwen"`
	OpenAI         Provider `json:"openai" yaml:"openai" toml:"openai"`
}

// Provider holds one remote provider's endpoint and credential.
type Provider struct {
	APIKey string `json:"api_key" yaml:"api_key" toml:"api_key"`
	URL    string `json:"url" yaml:"url" toml:"url"`
	Model  string `json:"model" yaml:"model" toml:"model"`
}

// HTTP configures the control surface.
type HTTP struct {
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CORS         CORS  `json:"cors" yaml:"cors" toml:"cors"`
}

// CORS is opt-in; when disabled no CORS middleware is installed.
type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// WithDefaults fills unspecified values and pulls missing credentials from
// the environment.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.Engine.MaxLength <= 0 {
		c.Engine.MaxLength = DefaultMaxLength
	}
	if c.Engine.BatchTokens <= 0 {
		c.Engine.BatchTokens = DefaultBatchTokens
	}
	if c.Engine.QueueDepth <= 0 {
		c.Engine.QueueDepth = DefaultQueueDepth
	}
	for _, d := range []*Duration{&c.Remote.ConnectTimeout, &c.Remote.ReadTimeout, &c.Remote.WriteTimeout} {
		if *d <= 0 {
			*d = Duration(DefaultRemoteTimeout)
		}
	}
	if c.Remote.DeepSeek.APIKey == "" {
		c.Remote.DeepSeek.APIKey = os.Getenv(EnvDeepSeekKey)
	}
	if c.Remote.OpenAI.APIKey == "" {
		c.Remote.OpenAI.APIKey = os.Getenv(EnvOpenAIKey)
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		c.HTTP.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return c
}
