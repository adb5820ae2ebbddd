// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Backend names accepted by browser.backend.
const (
	BackendStatic = "static"
	BackendChrome = "chrome"
)

// EnvPrefix prefixes every environment variable read by the command line.
const EnvPrefix = "DOMQUERY"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Query() QueryConfig
	Pool() PoolConfig

	// Flag overrides
	SetBrowserBackend(string)
	SetBrowserHeadless(bool)
	SetQueryWait(time.Duration)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	QueryCfg   QueryConfig   `mapstructure:"query" yaml:"query"`
	PoolCfg    PoolConfig    `mapstructure:"pool" yaml:"pool"`
}

var _ Interface = (*Config)(nil)

// --- Getters ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Query() QueryConfig     { return c.QueryCfg }
func (c *Config) Pool() PoolConfig       { return c.PoolCfg }

// --- Setters ---

func (c *Config) SetBrowserBackend(b string)   { c.BrowserCfg.Backend = b }
func (c *Config) SetBrowserHeadless(b bool)    { c.BrowserCfg.Headless = b }
func (c *Config) SetQueryWait(d time.Duration) { c.QueryCfg.Wait = d }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig selects and configures the driver backing a session.
type BrowserConfig struct {
	Backend         string         `mapstructure:"backend" yaml:"backend"`
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Viewport        ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	LaunchTimeout   time.Duration  `mapstructure:"launch_timeout" yaml:"launch_timeout"`
}

// ViewportConfig is the emulated window size of a browser tab.
type ViewportConfig struct {
	Width  int64 `mapstructure:"width" yaml:"width"`
	Height int64 `mapstructure:"height" yaml:"height"`
}

// QueryConfig holds the session-wide wait budget.
type QueryConfig struct {
	Wait         time.Duration `mapstructure:"wait" yaml:"wait"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// PoolConfig bounds how drivers are launched and kept for reuse.
type PoolConfig struct {
	MaxIdle      int     `mapstructure:"max_idle" yaml:"max_idle"`
	MaxLaunching int64   `mapstructure:"max_launching" yaml:"max_launching"`
	LaunchRate   float64 `mapstructure:"launch_rate" yaml:"launch_rate"`
	LaunchBurst  int     `mapstructure:"launch_burst" yaml:"launch_burst"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "domquery")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.backend", BackendStatic)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 800)
	v.SetDefault("browser.launch_timeout", "30s")

	// -- Query --
	v.SetDefault("query.wait", "0s")
	v.SetDefault("query.poll_interval", "100ms")

	// -- Pool --
	v.SetDefault("pool.max_idle", 2)
	v.SetDefault("pool.max_launching", 2)
	v.SetDefault("pool.launch_rate", 1.0)
	v.SetDefault("pool.launch_burst", 2)
}

// BindEnv makes every known key overridable through DOMQUERY_* variables,
// e.g. DOMQUERY_BROWSER_BACKEND for browser.backend.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.LoggerCfg.LogFile != "" {
		expanded, err := homedir.Expand(cfg.LoggerCfg.LogFile)
		if err != nil {
			return nil, fmt.Errorf("invalid logger.log_file: %w", err)
		}
		cfg.LoggerCfg.LogFile = expanded
	}
	if cfg.BrowserCfg.ExecPath != "" {
		expanded, err := homedir.Expand(cfg.BrowserCfg.ExecPath)
		if err != nil {
			return nil, fmt.Errorf("invalid browser.exec_path: %w", err)
		}
		cfg.BrowserCfg.ExecPath = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.LoggerCfg.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logger.format must be json or console, got %q", c.LoggerCfg.Format)
	}
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if c.QueryCfg.Wait < 0 {
		return fmt.Errorf("query.wait must not be negative")
	}
	if c.QueryCfg.PollInterval <= 0 {
		return fmt.Errorf("query.poll_interval must be a positive duration")
	}
	if c.PoolCfg.MaxIdle < 0 {
		return fmt.Errorf("pool.max_idle must not be negative")
	}
	if c.PoolCfg.MaxLaunching <= 0 {
		return fmt.Errorf("pool.max_launching must be a positive integer")
	}
	if c.PoolCfg.LaunchRate < 0 {
		return fmt.Errorf("pool.launch_rate must not be negative")
	}
	return nil
}

// Validate checks the browser section.
func (b *BrowserConfig) Validate() error {
	switch strings.ToLower(b.Backend) {
	case BackendStatic:
		return nil
	case BackendChrome:
	default:
		return fmt.Errorf("backend must be %s or %s, got %q", BackendStatic, BackendChrome, b.Backend)
	}
	if b.LaunchTimeout <= 0 {
		return fmt.Errorf("launch_timeout must be a positive duration")
	}
	if b.Viewport.Width < 0 || b.Viewport.Height < 0 {
		return fmt.Errorf("viewport dimensions must not be negative")
	}
	return nil
}
