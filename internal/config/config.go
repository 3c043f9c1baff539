// Package config loads daemon configuration from command-line flags,
// environment variables, a .env file and an optional YAML file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends for the simulated remote.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Config holds the application configuration.
type Config struct {
	App      AppConfig
	Logger   LoggerConfig
	Remote   RemoteConfig
	Commands CommandsConfig
	Sync     SyncConfig
	Server   ServerConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// RemoteConfig describes the simulated remote store.
type RemoteConfig struct {
	Backend      string        // file, badger or sqlite (default: file)
	DataPath     string        // directory holding the backend's data
	AddressBook  string        // active collection name (default: addressbook)
	QuotaCeiling int           // requests per window (default: 5000)
	QuotaWindow  time.Duration // quota reset interval (default: 1h)
	CacheSize    int           // fingerprint cache entries (default: 256)
}

// CommandsConfig configures change command timing.
type CommandsConfig struct {
	GracePeriod  int           // seconds before a change is sent (default: 5)
	TickInterval time.Duration // length of one grace second (default: 1s)
}

// SyncConfig configures the background update task.
type SyncConfig struct {
	Enabled           bool
	Schedule          string  // cron spec (default: @every 1m)
	PageSize          int     // persons per page (default: 50)
	RequestsPerSecond float64 // outbound pacing (default: 5)
	Attempts          uint    // retries of transient failures (default: 3)
}

// ServerConfig holds control API configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// fileConfig mirrors the optional YAML file. Values there sit just above the
// built-in defaults.
type fileConfig struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
	Remote   struct {
		Backend      string `yaml:"backend"`
		DataPath     string `yaml:"data_path"`
		AddressBook  string `yaml:"address_book"`
		QuotaCeiling string `yaml:"quota_ceiling"`
		QuotaWindow  string `yaml:"quota_window"`
		CacheSize    string `yaml:"cache_size"`
	} `yaml:"remote"`
	Commands struct {
		GracePeriod  string `yaml:"grace_period"`
		TickInterval string `yaml:"tick_interval"`
	} `yaml:"commands"`
	Sync struct {
		Enabled           string `yaml:"enabled"`
		Schedule          string `yaml:"schedule"`
		PageSize          string `yaml:"page_size"`
		RequestsPerSecond string `yaml:"requests_per_second"`
		Attempts          string `yaml:"attempts"`
	} `yaml:"sync"`
	Server struct {
		Port         string `yaml:"port"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
		IdleTimeout  string `yaml:"idle_timeout"`
	} `yaml:"server"`
}

// LoadConfig loads configuration with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. YAML config file.
// 5. Default values (lowest priority).
func LoadConfig(args []string) (*Config, error) {
	fs := flag.NewFlagSet("addressbook", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	envFile := fs.String("env-file", ".env", "Path to .env file")
	configFile := fs.String("config", "", "Path to YAML config file")

	backend := fs.String("backend", "", "Remote storage backend: file, badger, sqlite (default: file)")
	dataPath := fs.String("data-path", "", "Directory for remote data")
	addressBook := fs.String("address-book", "", "Active address book name")
	quotaCeiling := fs.String("quota-ceiling", "", "Remote requests per window (default: 5000)")
	quotaWindow := fs.String("quota-window", "", "Remote quota window (default: 1h)")
	cacheSize := fs.String("cache-size", "", "Fingerprint cache entries (default: 256)")

	gracePeriod := fs.String("grace-period", "", "Seconds before a change reaches the remote (default: 5)")
	tickInterval := fs.String("tick-interval", "", "Length of one grace second (default: 1s)")

	syncEnabled := fs.String("sync-enabled", "", "Run the periodic update task (default: true)")
	syncSchedule := fs.String("sync-schedule", "", "Cron schedule of the update task (default: @every 1m)")
	syncPageSize := fs.String("sync-page-size", "", "Persons per page when syncing (default: 50)")
	syncRPS := fs.String("sync-rps", "", "Remote requests per second while syncing (default: 5)")
	syncAttempts := fs.String("sync-attempts", "", "Attempts for transient remote failures (default: 3)")

	serverPort := fs.String("port", "", "Server port (default: 8080)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 15s)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// A missing .env file is fine; existing environment variables win.
	_ = godotenv.Load(*envFile)

	var file fileConfig
	if path := getConfigValue(*configFile, "CONFIG_FILE", ""); path != "" {
		loaded, err := loadFileConfig(path)
		if err != nil {
			return nil, err
		}
		file = *loaded
	}

	cfg := &Config{
		App:    AppConfig{Environment: getConfigValue(*env, "ENV", or(file.Env, "development"))},
		Logger: LoggerConfig{Level: getConfigValue(*logLevel, "LOG_LEVEL", or(file.LogLevel, "info"))},
		Remote: RemoteConfig{
			Backend:      getConfigValue(*backend, "REMOTE_BACKEND", or(file.Remote.Backend, BackendFile)),
			DataPath:     getConfigValue(*dataPath, "REMOTE_DATA_PATH", file.Remote.DataPath),
			AddressBook:  getConfigValue(*addressBook, "ADDRESS_BOOK", or(file.Remote.AddressBook, "addressbook")),
			QuotaCeiling: getIntConfigValue(*quotaCeiling, "REMOTE_QUOTA_CEILING", intOr(file.Remote.QuotaCeiling, 5000)),
			CacheSize:    getIntConfigValue(*cacheSize, "REMOTE_CACHE_SIZE", intOr(file.Remote.CacheSize, 256)),
		},
		Commands: CommandsConfig{
			GracePeriod: getIntConfigValue(*gracePeriod, "GRACE_PERIOD", intOr(file.Commands.GracePeriod, 5)),
		},
		Sync: SyncConfig{
			Enabled:  getBoolConfigValue(*syncEnabled, "SYNC_ENABLED", boolOr(file.Sync.Enabled, true)),
			Schedule: getConfigValue(*syncSchedule, "SYNC_SCHEDULE", or(file.Sync.Schedule, "@every 1m")),
			PageSize: getIntConfigValue(*syncPageSize, "SYNC_PAGE_SIZE", intOr(file.Sync.PageSize, 50)),
			Attempts: uint(getIntConfigValue(*syncAttempts, "SYNC_ATTEMPTS", intOr(file.Sync.Attempts, 3))), //nolint:gosec // validated below
		},
		Server: ServerConfig{
			Port: getConfigValue(*serverPort, "SERVER_PORT", or(file.Server.Port, "8080")),
		},
	}

	rps, err := strconv.ParseFloat(getConfigValue(*syncRPS, "SYNC_RPS", or(file.Sync.RequestsPerSecond, "5")), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid sync rps: %w", err)
	}
	cfg.Sync.RequestsPerSecond = rps

	durations := []struct {
		name   string
		value  string
		target *time.Duration
	}{
		{"quota window", getConfigValue(*quotaWindow, "REMOTE_QUOTA_WINDOW", or(file.Remote.QuotaWindow, "1h")), &cfg.Remote.QuotaWindow},
		{"tick interval", getConfigValue(*tickInterval, "TICK_INTERVAL", or(file.Commands.TickInterval, "1s")), &cfg.Commands.TickInterval},
		{"read timeout", getConfigValue(*readTimeout, "SERVER_READ_TIMEOUT", or(file.Server.ReadTimeout, "15s")), &cfg.Server.ReadTimeout},
		{"write timeout", getConfigValue(*writeTimeout, "SERVER_WRITE_TIMEOUT", or(file.Server.WriteTimeout, "15s")), &cfg.Server.WriteTimeout},
		{"idle timeout", getConfigValue(*idleTimeout, "SERVER_IDLE_TIMEOUT", or(file.Server.IdleTimeout, "60s")), &cfg.Server.IdleTimeout},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
		*d.target = parsed
	}

	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	switch c.App.Environment {
	case "development", "staging", "production":
	case "":
		return errors.New("ENV is required")
	default:
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	switch strings.ToLower(c.Logger.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	switch c.Remote.Backend {
	case BackendFile, BackendBadger, BackendSQLite:
	default:
		return fmt.Errorf("invalid remote backend: %s (must be file, badger, or sqlite)", c.Remote.Backend)
	}

	if c.Remote.DataPath == "" {
		return errors.New("remote data path cannot be empty after expansion")
	}
	if strings.TrimSpace(c.Remote.AddressBook) == "" {
		return errors.New("address book name is required")
	}
	if c.Remote.QuotaCeiling <= 0 {
		return fmt.Errorf("quota ceiling must be positive, got %d", c.Remote.QuotaCeiling)
	}
	if c.Remote.QuotaWindow <= 0 {
		return fmt.Errorf("quota window must be positive, got %s", c.Remote.QuotaWindow)
	}
	if c.Commands.GracePeriod < 0 {
		return fmt.Errorf("grace period cannot be negative, got %d", c.Commands.GracePeriod)
	}
	if c.Commands.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", c.Commands.TickInterval)
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("sync page size must be positive, got %d", c.Sync.PageSize)
	}
	if c.Sync.RequestsPerSecond <= 0 {
		return fmt.Errorf("sync rps must be positive, got %v", c.Sync.RequestsPerSecond)
	}
	if c.Sync.Attempts == 0 {
		return errors.New("sync attempts must be at least 1")
	}

	return nil
}

func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- config file path is operator input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty, defaultPath is returned unchanged.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	expanded, err := expandPath(c.Remote.DataPath, filepath.Join(homeDir, ".addressbook-sync", "remote"))
	if err != nil {
		return err
	}
	c.Remote.DataPath = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	return parseBool(strValue)
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strings.TrimSpace(strValue))
	if err != nil {
		return defaultValue
	}
	return result
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}

func or(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func intOr(value string, fallback int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return n
	}
	return fallback
}

func boolOr(value string, fallback bool) bool {
	if value == "" {
		return fallback
	}
	return parseBool(value)
}
