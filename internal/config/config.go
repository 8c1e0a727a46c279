package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"weather-archive/internal/models"
)

const (
	DefaultBaseURL = "https://dap.ceda.ac.uk/badc/ukmo-midas-open/data"
	DefaultAuthURL = "https://services-beta.ceda.ac.uk/api/token/create/"
	DefaultVersion = "202407"
)

// Config is the full process configuration
type Config struct {
	AppEnv      string
	Logging     LoggingConfig
	Archive     ArchiveConfig
	Credentials CredentialsConfig
	Transport   TransportConfig
	Output      OutputConfig
	Server      ServerConfig
	Database    DatabaseConfig
}

type LoggingConfig struct {
	Level string
}

// ArchiveConfig describes the remote archive layout
type ArchiveConfig struct {
	BaseURL string `yaml:"-"`
	AuthURL string `yaml:"-"`
	Version string `yaml:"version"`

	// Tables maps a logical table name to its archive slug
	Tables map[string]string `yaml:"tables"`
	// Columns maps a logical table name to its default column subset
	Columns map[string][]string `yaml:"columns"`
	// DateColumns are parsed into timestamps when present in a file
	DateColumns []string `yaml:"date_columns"`
}

type CredentialsConfig struct {
	User     string
	Password string
	Token    string
}

type TransportConfig struct {
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	Workers     int
}

type OutputConfig struct {
	Dir    string
	Format string
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// settingsFile is the on-disk YAML layout
type settingsFile struct {
	Midas       ArchiveConfig `yaml:"midas"`
	CacheDir    string        `yaml:"cache_dir"`
	CacheFormat string        `yaml:"cache_format"`
}

// OutputFormats lists the serialization formats the output package provides
var OutputFormats = []string{"csv", "json", "excel"}

// DefaultArchive returns the built-in table and column settings
func DefaultArchive() ArchiveConfig {
	return ArchiveConfig{
		BaseURL: DefaultBaseURL,
		AuthURL: DefaultAuthURL,
		Version: DefaultVersion,
		Tables: map[string]string{
			"temperature": "uk-daily-temperature-obs",
			"rain":        "uk-daily-rain-obs",
			"wind":        "uk-mean-wind-obs",
			"radiation":   "uk-radiation-obs",
		},
		Columns: map[string][]string{
			"temperature": {"ob_end_time", "src_id", "max_air_temp", "min_air_temp"},
			"rain":        {"ob_date", "src_id", "prcp_amt"},
			"wind":        {"ob_end_time", "src_id", "mean_wind_dir", "mean_wind_speed"},
			"radiation":   {"ob_end_time", "src_id", "glbl_irad_amt"},
		},
		DateColumns: []string{"ob_end_time", "ob_date", "meto_stmp_time"},
	}
}

// Load reads .env (if present), the environment and the optional YAML
// settings file named by ARCHIVE_SETTINGS.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		AppEnv:  getenvDefault("APP_ENV", "dev"),
		Logging: LoggingConfig{Level: getenvDefault("LOG_LEVEL", "info")},
		Archive: DefaultArchive(),
		Credentials: CredentialsConfig{
			User:     strings.TrimSpace(os.Getenv("CEDA_USER")),
			Password: os.Getenv("CEDA_PASS"),
			Token:    strings.TrimSpace(os.Getenv("CEDA_TOKEN")),
		},
		Output: OutputConfig{
			Dir:    getenvDefault("OUTPUT_DIR", "./midas_cache"),
			Format: getenvDefault("OUTPUT_FORMAT", "csv"),
		},
		Server: ServerConfig{
			Host: getenvDefault("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Driver: getenvDefault("DB_DRIVER", "sqlite3"),
			DSN:    getenvDefault("DB_DSN", "file:station_map.db"),
		},
	}

	var err error
	cfg.Archive.BaseURL = strings.TrimRight(getenvDefault("ARCHIVE_BASE_URL", DefaultBaseURL), "/")
	cfg.Archive.AuthURL = getenvDefault("ARCHIVE_AUTH_URL", DefaultAuthURL)

	if path := strings.TrimSpace(os.Getenv("ARCHIVE_SETTINGS")); path != "" {
		if err := cfg.applySettingsFile(path); err != nil {
			return nil, err
		}
	}
	if v := strings.TrimSpace(os.Getenv("ARCHIVE_VERSION")); v != "" {
		cfg.Archive.Version = v
	}

	if cfg.Transport.Timeout, err = getenvDuration("HTTP_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.Transport.BackoffBase, err = getenvDuration("BACKOFF_BASE", time.Second); err != nil {
		return nil, err
	}
	if cfg.Transport.MaxRetries, err = getenvInt("MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.Transport.Workers, err = getenvInt("DOWNLOAD_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.Server.Port, err = getenvInt("SERVER_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.Server.ReadTimeout, err = getenvDuration("SERVER_READ_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	// resolve requests can run for minutes
	if cfg.Server.WriteTimeout, err = getenvDuration("SERVER_WRITE_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Server.IdleTimeout, err = getenvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.Database.MaxOpenConns, err = getenvInt("DB_MAX_OPEN_CONNS", 4); err != nil {
		return nil, err
	}
	if cfg.Database.MaxIdleConns, err = getenvInt("DB_MAX_IDLE_CONNS", 2); err != nil {
		return nil, err
	}
	if cfg.Database.ConnMaxLifetime, err = getenvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applySettingsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read settings file: %w", err)
	}
	var file settingsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return &models.ConfigurationError{Field: "ARCHIVE_SETTINGS", Message: "invalid YAML", Err: err}
	}

	if file.Midas.Version != "" {
		c.Archive.Version = file.Midas.Version
	}
	if len(file.Midas.Tables) > 0 {
		c.Archive.Tables = file.Midas.Tables
		c.Archive.Columns = map[string][]string{}
	}
	for table, cols := range file.Midas.Columns {
		c.Archive.Columns[table] = cols
	}
	if len(file.Midas.DateColumns) > 0 {
		c.Archive.DateColumns = file.Midas.DateColumns
	}
	if file.CacheDir != "" {
		c.Output.Dir = file.CacheDir
	}
	if file.CacheFormat != "" {
		c.Output.Format = file.CacheFormat
	}
	return nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.AppEnv {
	case "dev", "prod":
	default:
		return &models.ConfigurationError{Field: "APP_ENV", Message: fmt.Sprintf("invalid value %q (allowed: dev, prod)", c.AppEnv)}
	}
	if len(c.Archive.Tables) == 0 {
		return &models.ConfigurationError{Field: "tables", Message: "no archive tables configured"}
	}
	for table := range c.Archive.Columns {
		if _, ok := c.Archive.Tables[table]; !ok {
			return &models.ConfigurationError{Field: "columns", Message: fmt.Sprintf("columns configured for unknown table %q", table)}
		}
	}
	if c.Archive.Version == "" {
		return &models.ConfigurationError{Field: "version", Message: "archive dataset version is empty"}
	}
	if !isOutputFormat(c.Output.Format) {
		return &models.ConfigurationError{
			Field:   "OUTPUT_FORMAT",
			Message: fmt.Sprintf("unsupported format %q (allowed: %s)", c.Output.Format, strings.Join(OutputFormats, ", ")),
		}
	}
	if c.Transport.MaxRetries < 1 {
		return &models.ConfigurationError{Field: "MAX_RETRIES", Message: "must be at least 1"}
	}
	if c.Transport.Workers < 1 {
		return &models.ConfigurationError{Field: "DOWNLOAD_WORKERS", Message: "must be at least 1"}
	}
	return nil
}

// TableNames returns configured logical table names in sorted order
func (a ArchiveConfig) TableNames() []string {
	names := make([]string, 0, len(a.Tables))
	for name := range a.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isOutputFormat(format string) bool {
	for _, f := range OutputFormats {
		if f == format {
			return true
		}
	}
	return false
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
