// Package config loads vellum settings with Viper from a .vellum.yml file,
// VELLUM_* environment variables and command-line flags.
//
// Keys follow <section>.<key>; the matching environment variable is
// VELLUM_<SECTION>_<KEY>, e.g. VELLUM_SERVER_PORT or
// VELLUM_TEMPLATES_CACHE_SIZE.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VELLUM"

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Templates   TemplatesConfig   `mapstructure:"templates" yaml:"templates" json:"templates"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server" json:"server"`
	Development DevelopmentConfig `mapstructure:"development" yaml:"development" json:"development"`
	Security    SecurityConfig    `mapstructure:"security" yaml:"security" json:"security"`
	Log         LogConfig         `mapstructure:"log" yaml:"log" json:"log"`
}

type TemplatesConfig struct {
	Dir       string `mapstructure:"dir" yaml:"dir" json:"dir"`
	Extension string `mapstructure:"extension" yaml:"extension" json:"extension"`
	CacheSize int    `mapstructure:"cache_size" yaml:"cache_size" json:"cache_size"`
}

type ServerConfig struct {
	Host           string    `mapstructure:"host" yaml:"host" json:"host"`
	Port           int       `mapstructure:"port" yaml:"port" json:"port"`
	Environment    string    `mapstructure:"environment" yaml:"environment" json:"environment"`
	AllowedOrigins []string  `mapstructure:"allowed_origins" yaml:"allowed_origins" json:"allowed_origins"`
	RateLimit      RateLimit `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimit throttles requests per client IP. Zero RequestsPerMinute
// disables it.
type RateLimit struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	Burst             int `mapstructure:"burst" yaml:"burst" json:"burst"`
}

type DevelopmentConfig struct {
	HotReload    bool          `mapstructure:"hot_reload" yaml:"hot_reload" json:"hot_reload"`
	ReloadPath   string        `mapstructure:"reload_path" yaml:"reload_path" json:"reload_path"`
	Debounce     time.Duration `mapstructure:"debounce" yaml:"debounce" json:"debounce"`
	ErrorOverlay bool          `mapstructure:"error_overlay" yaml:"error_overlay" json:"error_overlay"`
}

type SecurityConfig struct {
	// CSRFKey is the 32-byte authentication key for CSRF cookies. When
	// empty a random key is generated at startup.
	CSRFKey       string `mapstructure:"csrf_key" yaml:"csrf_key" json:"-"`
	EnableNonce   bool   `mapstructure:"enable_nonce" yaml:"enable_nonce" json:"enable_nonce"`
	SecureCookies bool   `mapstructure:"secure_cookies" yaml:"secure_cookies" json:"secure_cookies"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Server.Environment, EnvDevelopment)
}

// Addr returns host:port for the HTTP listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LoggerConfig converts the log section for logging.NewLogger.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	if c.Log.Format != "" {
		cfg.Format = c.Log.Format
	}
	return cfg
}

// SetDefaults registers every key with its default so environment
// overrides resolve through AutomaticEnv.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("templates.dir", "templates")
	v.SetDefault("templates.extension", ".html")
	v.SetDefault("templates.cache_size", 256)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", EnvDevelopment)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.rate_limit.requests_per_minute", 0)
	v.SetDefault("server.rate_limit.burst", 20)

	v.SetDefault("development.hot_reload", true)
	v.SetDefault("development.reload_path", "/__vellum/reload")
	v.SetDefault("development.debounce", 300*time.Millisecond)
	v.SetDefault("development.error_overlay", true)

	v.SetDefault("security.csrf_key", "")
	v.SetDefault("security.enable_nonce", true)
	v.SetDefault("security.secure_cookies", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Setup points v at the config file and environment. cfgFile wins over
// VELLUM_CONFIG_FILE, which wins over .vellum.yml in the working directory.
// A missing default file is not an error.
func Setup(v *viper.Viper, cfgFile string, getenv func(string) string) error {
	SetDefaults(v)

	explicit := true
	switch {
	case cfgFile != "":
		v.SetConfigFile(cfgFile)
	case getenv(EnvPrefix+"_CONFIG_FILE") != "":
		v.SetConfigFile(getenv(EnvPrefix + "_CONFIG_FILE"))
	default:
		explicit = false
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".vellum")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && !explicit {
			return nil
		}
		return errors.Wrap(err, errors.ErrorTypeConfig, errors.ErrCodeConfigInvalid,
			"failed to read config file")
	}
	return nil
}

// Load decodes the global Viper instance into a validated Config.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom decodes v into a validated Config.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, errors.ErrCodeConfigInvalid,
			"failed to decode configuration")
	}

	// Env overrides of list values arrive as one space-separated string.
	if v.IsSet("server.allowed_origins") && len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	cfg.applyDefaults()

	if result := Validate(&cfg); result.HasErrors() {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			"invalid configuration:\n"+result.String())
	}
	return &cfg, nil
}

// applyDefaults fills zero values left by an empty or partial source.
func (c *Config) applyDefaults() {
	if c.Templates.Dir == "" {
		c.Templates.Dir = "templates"
	}
	if c.Templates.Extension == "" {
		c.Templates.Extension = ".html"
	}
	if !strings.HasPrefix(c.Templates.Extension, ".") {
		c.Templates.Extension = "." + c.Templates.Extension
	}
	if c.Server.Environment == "" {
		c.Server.Environment = EnvDevelopment
	}
	c.Server.Environment = strings.ToLower(c.Server.Environment)
	if c.Development.ReloadPath == "" {
		c.Development.ReloadPath = "/__vellum/reload"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadFrom(v)
	if err != nil {
		panic(fmt.Sprintf("config: defaults are invalid: %v", err))
	}
	return cfg
}
