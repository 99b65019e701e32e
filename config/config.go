// config/config.go
package config

import (
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/sammcj/toolbridge/llm"
	"github.com/sammcj/toolbridge/types"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigDir  = ".config/toolbridge"
	defaultConfigFile = "config.yaml"
)

// Environment variables overriding the LLM API key
const (
	EnvAPIKey       = "TOOLBRIDGE_API_KEY"
	EnvGroqAPIKey   = "GROQ_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Provider transports
const (
	TransportInProcess = "inprocess"
	TransportStdio     = "stdio"
	TransportHTTP      = "http"
)

// Busy policies
const (
	BusyQueue = "queue"
	BusyFail  = "fail"
)

// LLMConfig configures the model
type LLMConfig struct {
	Provider     string        `yaml:"provider" validate:"oneof=groq openai ollama"`
	Model        string        `yaml:"model"`
	BaseURL      string        `yaml:"base_url,omitempty" validate:"omitempty,url"`
	APIKey       string        `yaml:"api_key,omitempty"`
	SystemPrompt string        `yaml:"system_prompt,omitempty"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxRetries   int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	Temperature  *float64      `yaml:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	// ParallelTools executes the tool calls of one response concurrently.
	// It cannot be combined with provider.busy=fail.
	ParallelTools bool `yaml:"parallel_tools"`
}

// ProviderConfig tells how to reach the tool provider
type ProviderConfig struct {
	Transport string            `yaml:"transport" validate:"oneof=inprocess stdio http"`
	Command   string            `yaml:"command,omitempty" validate:"required_if=Transport stdio"`
	Arguments []string          `yaml:"arguments,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	URL       string            `yaml:"url,omitempty" validate:"required_if=Transport http,omitempty,url"`
	Timeout   time.Duration     `yaml:"timeout" validate:"gte=0"`
	Busy      string            `yaml:"busy" validate:"oneof=queue fail"`
}

// DatabaseConfig enables the query_database tool when Path is set
type DatabaseConfig struct {
	Path string `yaml:"path,omitempty"`
}

// LoggingConfig configures the log output
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=trace debug info notice warning error critical"`
}

// ServerConfig configures the HTTP tool endpoint
type ServerConfig struct {
	Host            string        `yaml:"host" validate:"required"`
	Port            int           `yaml:"port" validate:"gte=1,lte=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// Config holds the complete configuration for the bridge
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Provider ProviderConfig `yaml:"provider"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.LLM.Provider = llm.ProviderGroq
	cfg.LLM.Model = llm.GroqDefaultModel
	cfg.LLM.SystemPrompt = "You are a helpful assistant with access to tools. Use a tool when the question needs one."
	cfg.LLM.Timeout = 60 * time.Second
	cfg.LLM.MaxRetries = 2

	cfg.Provider.Transport = TransportInProcess
	cfg.Provider.Timeout = 30 * time.Second
	cfg.Provider.Busy = BusyQueue

	cfg.Logging.Level = "info"

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 7777
	cfg.Server.ShutdownTimeout = 10 * time.Second

	return cfg
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}

	configDir := filepath.Join(homeDir, defaultConfigDir)
	return filepath.Join(configDir, defaultConfigFile), nil
}

// LoadOrCreate loads the config file if it exists, or creates a default one if it doesn't
func LoadOrCreate() (*Config, bool, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, false, err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.SaveTo(configPath); err != nil {
			return nil, false, errors.Wrap(err, "failed to save default config")
		}
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return nil, false, err
		}
		return cfg, true, nil
	}

	cfg, err := Load(configPath)
	return cfg, false, err
}

// Load reads and parses the configuration file.
// Missing fields keep their defaults and environment overrides are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &types.ConfigError{Field: path, Message: "failed to parse config file", Err: err}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the default path
func (c *Config) Save() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(configPath)
}

// SaveTo writes the configuration to path, creating its directory
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	// the file may hold an API key
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	return nil
}

// ApplyEnv overrides the API key from the environment.
// TOOLBRIDGE_API_KEY always wins; the provider specific variable only fills an empty key.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.LLM.APIKey = v
		return
	}
	if c.LLM.APIKey != "" {
		return
	}
	switch c.LLM.Provider {
	case llm.ProviderGroq:
		c.LLM.APIKey = os.Getenv(EnvGroqAPIKey)
	case llm.ProviderOpenAI:
		c.LLM.APIKey = os.Getenv(EnvOpenAIAPIKey)
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report fields by their yaml names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration. The first violation is returned as a ConfigError.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		// a busy-fail session rejects every concurrent call but the first
		if c.LLM.ParallelTools && c.Provider.Busy == BusyFail {
			return &types.ConfigError{Field: "llm.parallel_tools", Message: "requires provider.busy=" + BusyQueue}
		}
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		msg := "failed on " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		return &types.ConfigError{Field: field, Message: msg}
	}
	return &types.ConfigError{Field: "config", Message: "validation failed", Err: err}
}

// Addr returns the listen address of the HTTP server
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
