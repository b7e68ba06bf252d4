package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Relay modes. Exactly one request shape is accepted per deployment.
const (
	ModePrompt  = "prompt"
	ModeHistory = "history"
)

// Config holds the application configuration
type Config struct {
	LLM    LLMConfig    `mapstructure:"llm"`
	Server ServerConfig `mapstructure:"server"`
	Relay  RelayConfig  `mapstructure:"relay"`
	Log    LogConfig    `mapstructure:"log"`
}

// LLMConfig holds the upstream provider configuration. The API key itself is
// never stored here; only the name of the environment variable holding it.
type LLMConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKeyEnv string        `mapstructure:"api_key_env"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// RelayConfig controls the shape of requests accepted on /api/generate and
// how they are forwarded upstream.
type RelayConfig struct {
	Mode      string        `mapstructure:"mode"`
	MaxTokens int           `mapstructure:"max_tokens"`
	History   HistoryConfig `mapstructure:"history"`
}

// HistoryConfig selects the history window policy applied in history mode.
type HistoryConfig struct {
	Policy      string `mapstructure:"policy"`
	MaxMessages int    `mapstructure:"max_messages"`
	MaxTokens   int    `mapstructure:"max_tokens"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Address returns host:port for the HTTP listener.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

// EffectiveMaxTokens returns the configured max_tokens, or the per-mode
// ceiling when unset: 50 for single prompts, 100 for full history.
func (r RelayConfig) EffectiveMaxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	if r.Mode == ModeHistory {
		return 100
	}
	return 50
}

// LoadDotEnv loads .env.local and .env from the working directory when
// present. Variables already set in the environment win.
func LoadDotEnv() {
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("llm.model", "gpt-3.5-turbo")
	v.SetDefault("llm.timeout", time.Duration(0))
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("relay.mode", ModePrompt)
	v.SetDefault("relay.max_tokens", 0)
	v.SetDefault("relay.history.policy", "full")
	v.SetDefault("relay.history.max_messages", 20)
	v.SetDefault("relay.history.max_tokens", 3000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load loads the configuration from config.yaml (or CONFIG_PATH), then
// RELAYCHAT_* environment variables, then any flags that were set.
// A missing config file is not an error.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RELAYCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"host":      "server.host",
	"port":      "server.port",
	"mode":      "relay.mode",
	"model":     "llm.model",
	"log-level": "log.level",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Validate reports configuration values that cannot be served.
func (c *Config) Validate() error {
	switch c.Relay.Mode {
	case ModePrompt, ModeHistory:
	default:
		return fmt.Errorf("relay.mode must be %q or %q, got %q", ModePrompt, ModeHistory, c.Relay.Mode)
	}
	if c.Relay.MaxTokens < 0 {
		return fmt.Errorf("relay.max_tokens must not be negative")
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return errors.New("llm.model must be set")
	}
	if strings.TrimSpace(c.LLM.APIKeyEnv) == "" {
		return errors.New("llm.api_key_env must be set")
	}
	return nil
}
