package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Dhanuzh/airefiner/internal/provider"
)

// ---------------------------------------------------------------------------
// Environment variable constants
// ---------------------------------------------------------------------------

const (
	EnvPrefix    = "AIREFINER"
	EnvConfig    = "AIREFINER_CONFIG"     // path to a config file
	EnvConfigDir = "AIREFINER_CONFIG_DIR" // directory searched for airefiner.yaml
)

// Config holds all configuration for airefiner.
type Config struct {
	Cache   CacheConfig   `mapstructure:"cache" json:"cache"`
	Catalog CatalogConfig `mapstructure:"catalog" json:"catalog"`
	Breaker BreakerConfig `mapstructure:"breaker" json:"breaker"`
	Retry   RetryConfig   `mapstructure:"retry" json:"retry"`
	Filter  FilterConfig  `mapstructure:"filter" json:"filter"`
	Detect  DetectConfig  `mapstructure:"detect" json:"detect"`
	Model   ModelConfig   `mapstructure:"model" json:"model"`
	Log     LogConfig     `mapstructure:"log" json:"log"`
	Server  ServerConfig  `mapstructure:"server" json:"server"`

	// Per-provider overrides keyed by provider ID.
	Providers map[string]ProviderOverride `mapstructure:"providers" json:"providers,omitempty"`

	// Resolved at load time from overrides and the conventional env vars.
	APIKeys map[provider.ID]string `mapstructure:"-" json:"-"`

	// File the configuration was read from, if any.
	ConfigFile string `mapstructure:"-" json:"-"`
}

// CacheConfig controls the model catalog cache.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl" json:"ttl" validate:"gt=0"`
	// RetryAfter is how long stale models are served after a failed refresh.
	RetryAfter time.Duration `mapstructure:"retry_after" json:"retry_after" validate:"gt=0"`
}

// CatalogConfig bounds a catalog refresh.
type CatalogConfig struct {
	MaxParallel     int           `mapstructure:"max_parallel" json:"max_parallel" validate:"gte=1,lte=32"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout" json:"provider_timeout" validate:"gt=0"`
}

// BreakerConfig configures circuit breaking on model calls.
type BreakerConfig struct {
	Threshold int           `mapstructure:"threshold" json:"threshold" validate:"gte=1"`
	Cooldown  time.Duration `mapstructure:"cooldown" json:"cooldown" validate:"gt=0"`
	// Scope is "provider" (one breaker per provider) or "model" (per provider/model).
	Scope string `mapstructure:"scope" json:"scope" validate:"oneof=provider model"`
}

// RetryConfig configures retry on upstream calls.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=1,lte=10"`
	BaseDelay      time.Duration `mapstructure:"base_delay" json:"base_delay" validate:"gt=0"`
	MaxDelay       time.Duration `mapstructure:"max_delay" json:"max_delay" validate:"gtefield=BaseDelay"`
	Multiplier     float64       `mapstructure:"multiplier" json:"multiplier" validate:"gte=1"`
	Jitter         float64       `mapstructure:"jitter" json:"jitter" validate:"gte=0,lt=1"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" json:"attempt_timeout" validate:"gt=0"`
}

// FilterConfig adjusts the model keyword filter.
type FilterConfig struct {
	Strict         bool     `mapstructure:"strict" json:"strict"`
	CustomExcludes []string `mapstructure:"custom_excludes" json:"custom_excludes,omitempty"`
	// Include and Exclude replace the built-in tables when non-empty.
	Include []string `mapstructure:"include" json:"include,omitempty"`
	Exclude []string `mapstructure:"exclude" json:"exclude,omitempty"`
}

// DetectConfig tunes language detection and auto-translate routing.
type DetectConfig struct {
	Threshold float64 `mapstructure:"threshold" json:"threshold" validate:"gt=0,lte=1"`
	MinLength int     `mapstructure:"min_length" json:"min_length" validate:"gte=1"`
	ShortCap  float64 `mapstructure:"short_cap" json:"short_cap" validate:"gte=0,lte=1"`
}

// ModelConfig holds completion parameters.
type ModelConfig struct {
	Default     string  `mapstructure:"default" json:"default,omitempty"`
	Temperature float64 `mapstructure:"temperature" json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens" validate:"gt=0,lte=1000000"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" json:"format" validate:"oneof=console json"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host         string        `mapstructure:"host" json:"host"`
	Port         int           `mapstructure:"port" json:"port" validate:"gte=1,lte=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" json:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout" validate:"gt=0"`
}

// ProviderOverride allows per-provider customization
type ProviderOverride struct {
	APIKey   string        `mapstructure:"api_key" json:"api_key,omitempty"`
	BaseURL  string        `mapstructure:"base_url" json:"base_url,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
	Disabled bool          `mapstructure:"disabled" json:"disabled,omitempty"`
}

// LoadOptions points Load at explicit files; zero values use the defaults.
type LoadOptions struct {
	ConfigFile      string
	EnvFile         string
	CredentialsFile string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.retry_after", time.Minute)
	v.SetDefault("catalog.max_parallel", 4)
	v.SetDefault("catalog.provider_timeout", 15*time.Second)
	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.cooldown", 30*time.Second)
	v.SetDefault("breaker.scope", "model")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 10*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.2)
	v.SetDefault("retry.attempt_timeout", 60*time.Second)
	v.SetDefault("filter.strict", true)
	v.SetDefault("filter.custom_excludes", []string{})
	v.SetDefault("filter.include", []string{})
	v.SetDefault("filter.exclude", []string{})
	v.SetDefault("detect.threshold", 0.70)
	v.SetDefault("detect.min_length", 10)
	v.SetDefault("detect.short_cap", 0.3)
	v.SetDefault("model.default", "")
	v.SetDefault("model.temperature", 0.7)
	v.SetDefault("model.max_tokens", 2048)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 4097)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
}

// Default returns the built-in configuration without reading any file or
// environment variable.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	cfg.APIKeys = map[provider.ID]string{}
	return &cfg
}

// Load reads configuration: defaults, then the config file, then
// AIREFINER_* environment variables. A .env file is loaded first so its
// values behave like real environment variables.
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)

	configFile := opts.ConfigFile
	if configFile == "" {
		configFile = os.Getenv(EnvConfig)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if dir := os.Getenv(EnvConfigDir); dir != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(GetConfigDir())
		v.AddConfigPath(".")
		v.SetConfigName("airefiner")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	credsPath := opts.CredentialsFile
	if credsPath == "" {
		credsPath = GetCredentialsPath()
	}
	creds, err := LoadCredentials(credsPath)
	if err != nil {
		return nil, err
	}
	cfg.resolveAPIKeys(creds)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveAPIKeys fills APIKeys from provider overrides, then the
// conventional environment variables, then stored credentials.
func (c *Config) resolveAPIKeys(creds *Credentials) {
	c.APIKeys = make(map[provider.ID]string, len(provider.All))
	for _, id := range provider.All {
		if po, ok := c.Providers[string(id)]; ok && po.APIKey != "" {
			c.APIKeys[id] = po.APIKey
			continue
		}
		if key := os.Getenv(provider.EnvVar(id)); key != "" {
			c.APIKeys[id] = key
			continue
		}
		if id == provider.Google {
			if key := os.Getenv("GEMINI_API_KEY"); key != "" {
				c.APIKeys[id] = key
				continue
			}
		}
		if creds != nil && creds.Keys[id] != "" {
			c.APIKeys[id] = creds.Keys[id]
		}
	}
}

// GetAPIKey returns the resolved key for a provider.
func (c *Config) GetAPIKey(id provider.ID) string {
	return c.APIKeys[id]
}

// ProviderConfig builds the adapter configuration for id.
func (c *Config) ProviderConfig(id provider.ID) provider.Config {
	po := c.Providers[string(id)]
	return provider.Config{
		APIKey:  c.GetAPIKey(id),
		BaseURL: po.BaseURL,
		Timeout: po.Timeout,
	}
}

// IsProviderEnabled reports whether id has a key and is not disabled.
func (c *Config) IsProviderEnabled(id provider.ID) bool {
	if po, ok := c.Providers[string(id)]; ok && po.Disabled {
		return false
	}
	return c.GetAPIKey(id) != ""
}

// ListAvailableProviders returns the enabled providers in presentation order.
func (c *Config) ListAvailableProviders() []provider.ID {
	var out []provider.ID
	for _, id := range provider.All {
		if c.IsProviderEnabled(id) {
			out = append(out, id)
		}
	}
	return out
}

// GetConfigDir returns the airefiner config directory
func GetConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "airefiner")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".airefiner"
	}
	return filepath.Join(home, ".config", "airefiner")
}

// SaveConfig writes the config to a JSON file
func (c *Config) SaveConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c.redacted(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) redacted() *Config {
	out := *c
	if len(c.Providers) > 0 {
		out.Providers = make(map[string]ProviderOverride, len(c.Providers))
		for k, po := range c.Providers {
			if po.APIKey != "" {
				po.APIKey = "****"
			}
			out.Providers[k] = po
		}
	}
	return &out
}

// String returns the configuration as indented JSON with keys masked.
func (c *Config) String() string {
	data, err := json.MarshalIndent(c.redacted(), "", "  ")
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}
