// Package config provides configuration management for codecconf using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort          = 8090
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultMaxOpenConns        = 10
	defaultMaxIdleConns        = 5
	defaultConnMaxIdleTime     = 30 * time.Minute
	defaultPollTimeout         = 5 * time.Millisecond
	defaultMismatchReportLimit = 20
	defaultSlots               = 4
	defaultMaxInputSize        = "1MiB"
	defaultReorderDepth        = 4
	defaultCaseTimeout         = 2 * time.Minute
	defaultResultsRetention    = "4w"
)

// Config holds all configuration for the application.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Driver   DriverConfig   `mapstructure:"driver"`
	Device   DeviceConfig   `mapstructure:"device"`
	Suite    SuiteConfig    `mapstructure:"suite"`
	Results  ResultsConfig  `mapstructure:"results"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// DriverConfig holds work-loop defaults.
type DriverConfig struct {
	Mode                string        `mapstructure:"mode"` // async, sync
	PollTimeout         time.Duration `mapstructure:"poll_timeout"`
	EOSWithLastFrame    bool          `mapstructure:"eos_with_last_frame"`
	MismatchReportLimit int           `mapstructure:"mismatch_report_limit"`
}

// DeviceConfig sizes the software reference devices.
type DeviceConfig struct {
	InputSlots  int `mapstructure:"input_slots"`
	OutputSlots int `mapstructure:"output_slots"`
	// MaxInputSize caps a single input buffer when the format does not carry
	// max-input-size. Supports values like "1MiB", "512KB" or raw byte counts.
	MaxInputSize  ByteSize `mapstructure:"max_input_size"`
	ReorderDepth  int      `mapstructure:"reorder_depth"`
	FuseOutputEOS bool     `mapstructure:"fuse_output_eos"`
}

// SuiteConfig holds conformance suite configuration.
type SuiteConfig struct {
	Parallelism int           `mapstructure:"parallelism"`
	VectorsDir  string        `mapstructure:"vectors_dir"`
	ReportPath  string        `mapstructure:"report_path"`
	FrameLimit  int           `mapstructure:"frame_limit"` // 0 = whole stream
	CaseTimeout time.Duration `mapstructure:"case_timeout"`
	Cases       []string      `mapstructure:"cases"` // empty = all
	Schedule    string        `mapstructure:"schedule"` // 6-field cron, empty disables
}

// ResultsConfig holds stored-result housekeeping.
type ResultsConfig struct {
	// Retention is how long runs are kept. Supports "30d", "2w" and Go
	// durations. Zero keeps everything.
	Retention Duration `mapstructure:"retention"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// CORSOrigins lists the browser origins allowed to call the API. Empty
	// allows any origin.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with CODECCONF_ and use underscores for
// nesting. Example: CODECCONF_DRIVER_MODE=sync.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("codecconf")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/codecconf")
		v.AddConfigPath("$HOME/.codecconf")
	}

	v.SetEnvPrefix("CODECCONF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Driver defaults
	v.SetDefault("driver.mode", "async")
	v.SetDefault("driver.poll_timeout", defaultPollTimeout)
	v.SetDefault("driver.eos_with_last_frame", false)
	v.SetDefault("driver.mismatch_report_limit", defaultMismatchReportLimit)

	// Device defaults
	v.SetDefault("device.input_slots", defaultSlots)
	v.SetDefault("device.output_slots", defaultSlots)
	v.SetDefault("device.max_input_size", defaultMaxInputSize)
	v.SetDefault("device.reorder_depth", defaultReorderDepth)
	v.SetDefault("device.fuse_output_eos", false)

	// Suite defaults
	v.SetDefault("suite.parallelism", runtime.NumCPU())
	v.SetDefault("suite.vectors_dir", "")
	v.SetDefault("suite.report_path", "")
	v.SetDefault("suite.frame_limit", 0)
	v.SetDefault("suite.case_timeout", defaultCaseTimeout)
	v.SetDefault("suite.cases", []string{})
	v.SetDefault("suite.schedule", "")

	v.SetDefault("results.retention", defaultResultsRetention)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "codecconf.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Driver.Mode != "async" && c.Driver.Mode != "sync" {
		return fmt.Errorf("driver.mode must be one of: async, sync")
	}
	if c.Driver.PollTimeout <= 0 {
		return fmt.Errorf("driver.poll_timeout must be positive")
	}
	if c.Driver.MismatchReportLimit < 0 {
		return fmt.Errorf("driver.mismatch_report_limit must not be negative")
	}

	if c.Device.InputSlots < 1 || c.Device.OutputSlots < 1 {
		return fmt.Errorf("device.input_slots and device.output_slots must be at least 1")
	}
	if c.Device.MaxInputSize <= 0 {
		return fmt.Errorf("device.max_input_size must be positive")
	}
	if c.Device.ReorderDepth < 0 {
		return fmt.Errorf("device.reorder_depth must not be negative")
	}

	if c.Suite.Parallelism < 1 {
		return fmt.Errorf("suite.parallelism must be at least 1")
	}
	if c.Suite.FrameLimit < 0 {
		return fmt.Errorf("suite.frame_limit must not be negative")
	}
	if c.Results.Retention < 0 {
		return fmt.Errorf("results.retention must not be negative")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
