// Package config provides configuration management for audex using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort        = 8090
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 10
	defaultMaxIdleConns      = 5
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultMaxUploadSize     = 4 * 1024 * 1024 * 1024 // 4GB
	defaultMirrorTimeout     = 60 * time.Second
	defaultLoadTimeout       = 3 * time.Minute
	defaultManifestEstimate  = 1024
	defaultBinaryEstimate    = 32 * 1024 * 1024
	defaultMaxArtifactSize   = 256 * 1024 * 1024
	defaultChunkSize         = 10 * 1024 * 1024
	defaultSizeThreshold     = 25 * 1024 * 1024
	defaultMinOutputBytes    = 1000
	defaultExtractionTimeout = 5 * time.Minute
	defaultReencodeRate      = 16000
	defaultDiagnosticsLines  = 200
)

// DefaultMirrors is the ordered list of engine mirrors used when none are configured.
// {os} and {arch} are replaced with the running platform.
var DefaultMirrors = []string{
	"https://dl.audex.dev/engine/{os}-{arch}/",
	"https://github.com/jmylchreest/audex-engine/releases/latest/download/{os}-{arch}/",
}

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Retention  RetentionConfig  `mapstructure:"retention"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
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

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir    string `mapstructure:"base_dir"`
	SandboxDir string `mapstructure:"sandbox_dir"` // engine filesystem, relative to base_dir
	UploadDir  string `mapstructure:"upload_dir"`
	OutputDir  string `mapstructure:"output_dir"`
	// MaxUploadSize caps multipart uploads accepted by the HTTP API.
	MaxUploadSize ByteSize `mapstructure:"max_upload_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string   `mapstructure:"level"`  // debug, info, warn, error
	Format     string   `mapstructure:"format"` // json, text
	AddSource  bool     `mapstructure:"add_source"`
	TimeFormat string   `mapstructure:"time_format"`
	Redact     []string `mapstructure:"redact"` // attribute names masked in log output
}

// EngineConfig controls how the codec engine is fetched and run.
type EngineConfig struct {
	Mirrors       []string      `mapstructure:"mirrors"`
	ManifestName  string        `mapstructure:"manifest_name"`
	BinaryName    string        `mapstructure:"binary_name"`
	MirrorTimeout time.Duration `mapstructure:"mirror_timeout"`
	LoadTimeout   time.Duration `mapstructure:"load_timeout"`
	// Estimates are used for progress when a mirror omits Content-Length.
	EstimatedManifestSize ByteSize `mapstructure:"estimated_manifest_size"`
	EstimatedBinarySize   ByteSize `mapstructure:"estimated_binary_size"`
	MaxArtifactSize       ByteSize `mapstructure:"max_artifact_size"`
	RetryAttempts         int      `mapstructure:"retry_attempts"`
	UserAgent             string   `mapstructure:"user_agent"`
	// MemoryLimit kills an engine process whose RSS exceeds it (0 = unlimited).
	MemoryLimit ByteSize `mapstructure:"memory_limit"`
	Preload     bool     `mapstructure:"preload"` // warm the engine when serving
}

// ExtractionConfig holds the extraction policy.
type ExtractionConfig struct {
	ChunkSize          ByteSize      `mapstructure:"chunk_size"`
	SizeThreshold      ByteSize      `mapstructure:"size_threshold"`
	MinOutputBytes     int64         `mapstructure:"min_output_bytes"`
	Timeout            time.Duration `mapstructure:"timeout"`
	ReencodeCodec      string        `mapstructure:"reencode_codec"`
	ReencodeBitrate    string        `mapstructure:"reencode_bitrate"`
	ReencodeSampleRate int           `mapstructure:"reencode_sample_rate"`
	ReencodeChannels   int           `mapstructure:"reencode_channels"`
	DiagnosticsLines   int           `mapstructure:"diagnostics_lines"`
	// MinFreeMemory is the available memory below which extraction is reported unsupported.
	MinFreeMemory ByteSize `mapstructure:"min_free_memory"`
}

// RetentionConfig holds job history retention configuration.
type RetentionConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Schedule string   `mapstructure:"schedule"` // 6-field cron expression
	MaxAge   Duration `mapstructure:"max_age"`
}

// EnvPrefix prefixes environment overrides. Nested keys use underscores,
// so AUDEX_SERVER_PORT sets server.port.
const EnvPrefix = "AUDEX"

// searchPaths are tried in order when no config file is named.
var searchPaths = []string{".", "$HOME/.config/audex", "/etc/audex"}

// Prepare installs defaults and environment overrides on v and reads the
// config file at path, or the first config.yaml found on the search paths.
// A missing file is only an error when path names one. It returns the file
// used, or "".
func Prepare(v *viper.Viper, path string) (string, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, dir := range searchPaths {
			v.AddConfigPath(dir)
		}
	}

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		return v.ConfigFileUsed(), nil
	case path == "" && errors.As(err, &notFound):
		return "", nil
	default:
		return "", fmt.Errorf("reading config file: %w", err)
	}
}

// Load prepares a fresh viper instance from path and decodes it.
func Load(path string) (*Config, error) {
	v := viper.New()
	if _, err := Prepare(v, path); err != nil {
		return nil, err
	}
	return Decode(v)
}

// Decode unmarshals and validates the configuration held by v.
func Decode(v *viper.Viper) (*Config, error) {
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

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Decode(v)
	if err != nil {
		// Defaults always validate; a failure here is a programming error.
		panic(err)
	}
	return cfg
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", 0) // downloads and SSE are long-lived
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "audex.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.sandbox_dir", "sandbox")
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.output_dir", "outputs")
	v.SetDefault("storage.max_upload_size", defaultMaxUploadSize)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.redact", []string{"password", "token", "secret", "authorization", "dsn"})

	v.SetDefault("engine.mirrors", DefaultMirrors)
	v.SetDefault("engine.manifest_name", "engine.yaml")
	v.SetDefault("engine.binary_name", "ffmpeg.xz")
	v.SetDefault("engine.mirror_timeout", defaultMirrorTimeout)
	v.SetDefault("engine.load_timeout", defaultLoadTimeout)
	v.SetDefault("engine.estimated_manifest_size", defaultManifestEstimate)
	v.SetDefault("engine.estimated_binary_size", defaultBinaryEstimate)
	v.SetDefault("engine.max_artifact_size", defaultMaxArtifactSize)
	v.SetDefault("engine.retry_attempts", 0)
	v.SetDefault("engine.user_agent", "")
	v.SetDefault("engine.memory_limit", 0)
	v.SetDefault("engine.preload", false)

	v.SetDefault("extraction.chunk_size", defaultChunkSize)
	v.SetDefault("extraction.size_threshold", defaultSizeThreshold)
	v.SetDefault("extraction.min_output_bytes", defaultMinOutputBytes)
	v.SetDefault("extraction.timeout", defaultExtractionTimeout)
	v.SetDefault("extraction.reencode_codec", "libmp3lame")
	v.SetDefault("extraction.reencode_bitrate", "64k")
	v.SetDefault("extraction.reencode_sample_rate", defaultReencodeRate)
	v.SetDefault("extraction.reencode_channels", 1)
	v.SetDefault("extraction.diagnostics_lines", defaultDiagnosticsLines)
	v.SetDefault("extraction.min_free_memory", 0)

	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.schedule", "0 0 * * * *") // hourly
	v.SetDefault("retention.max_age", "7d")
}

var (
	validDrivers   = []string{"sqlite", "postgres", "mysql"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
	validFormats   = []string{"json", "text"}
)

// Validate reports every invalid setting, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	oneOf := func(key, value string, allowed []string) {
		check(slices.Contains(allowed, value), "%s must be one of: %s", key, strings.Join(allowed, ", "))
	}

	const maxPort = 65535
	check(c.Server.Port >= 1 && c.Server.Port <= maxPort, "server.port must be between 1 and %d", maxPort)

	oneOf("database.driver", c.Database.Driver, validDrivers)
	check(c.Database.DSN != "", "database.dsn is required")
	check(c.Storage.BaseDir != "", "storage.base_dir is required")

	oneOf("logging.level", c.Logging.Level, validLogLevels)
	oneOf("logging.format", c.Logging.Format, validFormats)

	e := c.Engine
	check(len(e.Mirrors) > 0, "engine.mirrors must list at least one mirror")
	check(e.ManifestName != "" && e.BinaryName != "", "engine.manifest_name and engine.binary_name are required")
	check(e.MirrorTimeout > 0 && e.LoadTimeout > 0, "engine.mirror_timeout and engine.load_timeout must be positive")
	check(e.RetryAttempts >= 0, "engine.retry_attempts must not be negative")

	x := c.Extraction
	check(x.ChunkSize > 0, "extraction.chunk_size must be positive")
	check(x.MinOutputBytes >= 0, "extraction.min_output_bytes must not be negative")
	check(x.Timeout > 0, "extraction.timeout must be positive")
	check(x.ReencodeSampleRate > 0 && x.ReencodeChannels > 0,
		"extraction.reencode_sample_rate and extraction.reencode_channels must be positive")
	check(x.DiagnosticsLines >= 1, "extraction.diagnostics_lines must be at least 1")

	check(!c.Retention.Enabled || c.Retention.Schedule != "", "retention.schedule is required when retention is enabled")

	return errors.Join(errs...)
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SandboxPath returns the full path to the engine sandbox.
func (c *StorageConfig) SandboxPath() string {
	return filepath.Join(c.BaseDir, c.SandboxDir)
}

// UploadPath returns the full path to the upload spool directory.
func (c *StorageConfig) UploadPath() string {
	return filepath.Join(c.BaseDir, c.UploadDir)
}

// OutputPath returns the full path to the stored outputs directory.
func (c *StorageConfig) OutputPath() string {
	return filepath.Join(c.BaseDir, c.OutputDir)
}
