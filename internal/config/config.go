// Package config provides configuration management for clipforge using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort       = 8080
	defaultServerTimeout    = 30 * time.Second
	defaultWriteTimeout     = 5 * time.Minute
	defaultShutdownTimeout  = 10 * time.Second
	defaultMaxOpenConns     = 25
	defaultMaxIdleConns     = 10
	defaultConnMaxIdleTime  = 30 * time.Minute
	defaultProbeTimeout     = 30 * time.Second
	defaultLogTailLines     = 20
	defaultSeekSettle       = 150 * time.Millisecond
	defaultMinFreeMemory    = 256 << 20
	defaultMaxDimension     = 3840
	defaultRetentionSched   = "@hourly"
	defaultOutputRetention  = "7d"
	defaultRequestBodyLimit = "16MiB"
)

// Config holds all configuration for the application.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	Export   ExportConfig   `mapstructure:"export" yaml:"export"`
	Text     TextConfig     `mapstructure:"text" yaml:"text"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // trace, debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	// MaxRequestSize caps export request bodies. Supports values like "16MiB".
	MaxRequestSize ByteSize `mapstructure:"max_request_size" yaml:"max_request_size"`
}

// DatabaseConfig holds export history database configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"` // silent, error, warn, info
}

// StorageConfig holds frame staging and output configuration.
type StorageConfig struct {
	BaseDir    string `mapstructure:"base_dir" yaml:"base_dir"`
	StagingDir string `mapstructure:"staging_dir" yaml:"staging_dir"`
	OutputDir  string `mapstructure:"output_dir" yaml:"output_dir"`
	// OutputRetention is how long finished exports are kept. Zero disables
	// the retention job. Supports values like "7d" or "2w".
	OutputRetention   Duration `mapstructure:"output_retention" yaml:"output_retention"`
	RetentionSchedule string   `mapstructure:"retention_schedule" yaml:"retention_schedule"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath      string        `mapstructure:"binary_path" yaml:"binary_path"` // empty = auto-detect
	ProbePath       string        `mapstructure:"probe_path" yaml:"probe_path"`   // empty = auto-detect
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	HWAccelPriority []string      `mapstructure:"hwaccel_priority" yaml:"hwaccel_priority"`
	LogTailLines    int           `mapstructure:"log_tail_lines" yaml:"log_tail_lines"`
}

// ExportConfig holds render and encode settings.
type ExportConfig struct {
	Backend    string        `mapstructure:"backend" yaml:"backend"`         // auto, software, hardware
	FrameReady string        `mapstructure:"frame_ready" yaml:"frame_ready"` // auto, accurate, fast
	SeekSettle time.Duration `mapstructure:"seek_settle" yaml:"seek_settle"`
	// MinFreeMemory must remain available once an export's working set is
	// allocated.
	MinFreeMemory ByteSize `mapstructure:"min_free_memory" yaml:"min_free_memory"`
	FrameFormat   string   `mapstructure:"frame_format" yaml:"frame_format"` // jpeg, png
	MaxWidth      int      `mapstructure:"max_width" yaml:"max_width"`
	MaxHeight     int      `mapstructure:"max_height" yaml:"max_height"`
	Quality       string   `mapstructure:"quality" yaml:"quality"` // default tier when a request omits it
}

// TextConfig holds text layer settings.
type TextConfig struct {
	// FontPath is an optional TTF/OTF file; empty uses the Go fonts.
	FontPath string `mapstructure:"font_path" yaml:"font_path"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with CLIPFORGE_ and use underscores for nesting.
// Example: CLIPFORGE_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/clipforge")
		v.AddConfigPath("$HOME/.clipforge")
	}

	v.SetEnvPrefix("CLIPFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file not found is OK - we'll use defaults and env vars
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// decodeHook lets ByteSize and Duration parse their human-readable forms.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultWriteTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_request_size", defaultRequestBodyLimit)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "clipforge.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.staging_dir", "staging")
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.output_retention", defaultOutputRetention)
	v.SetDefault("storage.retention_schedule", defaultRetentionSched)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.probe_timeout", defaultProbeTimeout)
	v.SetDefault("ffmpeg.hwaccel_priority", []string{"vaapi", "nvenc", "qsv", "videotoolbox"})
	v.SetDefault("ffmpeg.log_tail_lines", defaultLogTailLines)

	// Export defaults
	v.SetDefault("export.backend", "auto")
	v.SetDefault("export.frame_ready", "auto")
	v.SetDefault("export.seek_settle", defaultSeekSettle)
	v.SetDefault("export.min_free_memory", defaultMinFreeMemory)
	v.SetDefault("export.frame_format", "jpeg")
	v.SetDefault("export.max_width", defaultMaxDimension)
	v.SetDefault("export.max_height", defaultMaxDimension)
	v.SetDefault("export.quality", "medium")

	// Text defaults
	v.SetDefault("text.font_path", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Logging validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Server.MaxRequestSize < 0 {
		return fmt.Errorf("server.max_request_size must not be negative")
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// Storage validation
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Storage.OutputRetention < 0 {
		return fmt.Errorf("storage.output_retention must not be negative")
	}
	if c.Storage.OutputRetention > 0 {
		if _, err := cron.ParseStandard(c.Storage.RetentionSchedule); err != nil {
			return fmt.Errorf("storage.retention_schedule: %w", err)
		}
	}

	// FFmpeg validation
	if c.FFmpeg.LogTailLines < 1 {
		return fmt.Errorf("ffmpeg.log_tail_lines must be at least 1")
	}

	// Export validation
	validBackends := map[string]bool{"auto": true, "software": true, "hardware": true}
	if !validBackends[c.Export.Backend] {
		return fmt.Errorf("export.backend must be one of: auto, software, hardware")
	}
	validStrategies := map[string]bool{"auto": true, "accurate": true, "fast": true}
	if !validStrategies[c.Export.FrameReady] {
		return fmt.Errorf("export.frame_ready must be one of: auto, accurate, fast")
	}
	validFrameFormats := map[string]bool{"jpeg": true, "png": true}
	if !validFrameFormats[c.Export.FrameFormat] {
		return fmt.Errorf("export.frame_format must be one of: jpeg, png")
	}
	validQualities := map[string]bool{"high": true, "medium": true, "low": true}
	if !validQualities[c.Export.Quality] {
		return fmt.Errorf("export.quality must be one of: high, medium, low")
	}
	if c.Export.MaxWidth < 2 || c.Export.MaxHeight < 2 {
		return fmt.Errorf("export.max_width and export.max_height must be at least 2")
	}
	if c.Export.MinFreeMemory < 0 {
		return fmt.Errorf("export.min_free_memory must not be negative")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StagingPath returns the directory frames are staged in while encoding.
func (c *StorageConfig) StagingPath() string {
	return filepath.Join(c.BaseDir, c.StagingDir)
}

// OutputPath returns the directory finished exports are published to.
func (c *StorageConfig) OutputPath() string {
	return filepath.Join(c.BaseDir, c.OutputDir)
}
