package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable LoadConfig consults so the host
// environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENV", "LOG_LEVEL", "CONFIG_FILE", "REMOTE_BACKEND", "REMOTE_DATA_PATH", "ADDRESS_BOOK",
		"REMOTE_QUOTA_CEILING", "REMOTE_QUOTA_WINDOW", "REMOTE_CACHE_SIZE", "GRACE_PERIOD",
		"TICK_INTERVAL", "SYNC_ENABLED", "SYNC_SCHEDULE", "SYNC_PAGE_SIZE", "SYNC_RPS",
		"SYNC_ATTEMPTS", "SERVER_PORT", "SERVER_READ_TIMEOUT", "SERVER_WRITE_TIMEOUT",
		"SERVER_IDLE_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func validConfig() *Config {
	return &Config{
		App:      AppConfig{Environment: "development"},
		Logger:   LoggerConfig{Level: "info"},
		Remote:   RemoteConfig{Backend: BackendFile, DataPath: "/data", AddressBook: "friends", QuotaCeiling: 10, QuotaWindow: time.Hour},
		Commands: CommandsConfig{GracePeriod: 5, TickInterval: time.Second},
		Sync:     SyncConfig{PageSize: 10, RequestsPerSecond: 1, Attempts: 1},
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := LoadConfig([]string{"-env-file", filepath.Join(dir, "missing.env"), "-data-path", dir})
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, BackendFile, cfg.Remote.Backend)
	assert.Equal(t, dir, cfg.Remote.DataPath)
	assert.Equal(t, "addressbook", cfg.Remote.AddressBook)
	assert.Equal(t, 5000, cfg.Remote.QuotaCeiling)
	assert.Equal(t, time.Hour, cfg.Remote.QuotaWindow)
	assert.Equal(t, 5, cfg.Commands.GracePeriod)
	assert.Equal(t, time.Second, cfg.Commands.TickInterval)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, "@every 1m", cfg.Sync.Schedule)
	assert.Equal(t, 50, cfg.Sync.PageSize)
	assert.InDelta(t, 5.0, cfg.Sync.RequestsPerSecond, 0.0001)
	assert.Equal(t, uint(3), cfg.Sync.Attempts)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.IdleTimeout)
}

func TestLoadConfig_Precedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
log_level: warn
remote:
  backend: sqlite
  address_book: from-yaml
  quota_ceiling: "40"
commands:
  grace_period: "3"
server:
  port: "7000"
`), 0o600))

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("ADDRESS_BOOK=from-dotenv\nGRACE_PERIOD=4\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("ADDRESS_BOOK") //nolint:errcheck // Test cleanup
		os.Unsetenv("GRACE_PERIOD") //nolint:errcheck // Test cleanup
	})
	// godotenv never overrides a variable that is already set.
	os.Unsetenv("ADDRESS_BOOK") //nolint:errcheck // Test setup
	os.Unsetenv("GRACE_PERIOD") //nolint:errcheck // Test setup
	t.Setenv("REMOTE_QUOTA_CEILING", "30")

	cfg, err := LoadConfig([]string{
		"-config", yamlPath,
		"-env-file", envPath,
		"-data-path", dir,
		"-port", "9000",
	})
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logger.Level, "yaml beats default")
	assert.Equal(t, BackendSQLite, cfg.Remote.Backend, "yaml beats default")
	assert.Equal(t, "from-dotenv", cfg.Remote.AddressBook, ".env beats yaml")
	assert.Equal(t, 4, cfg.Commands.GracePeriod, ".env beats yaml")
	assert.Equal(t, 30, cfg.Remote.QuotaCeiling, "env beats yaml")
	assert.Equal(t, "9000", cfg.Server.Port, "flag beats yaml")
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := LoadConfig([]string{"-env-file", filepath.Join(dir, "none"), "-data-path", dir, "-tick-interval", "soon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid tick interval")
}

func TestLoadConfig_BadYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("remote: [unclosed"), 0o600))

	_, err := LoadConfig([]string{"-env-file", filepath.Join(dir, "none"), "-config", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown environment", mutate: func(c *Config) { c.App.Environment = "test" }, wantErr: "invalid environment"},
		{name: "empty environment", mutate: func(c *Config) { c.App.Environment = "" }, wantErr: "ENV is required"},
		{name: "uppercase level ok", mutate: func(c *Config) { c.Logger.Level = "DEBUG" }},
		{name: "bad level", mutate: func(c *Config) { c.Logger.Level = "trace" }, wantErr: "invalid log level"},
		{name: "bad backend", mutate: func(c *Config) { c.Remote.Backend = "postgres" }, wantErr: "invalid remote backend"},
		{name: "empty data path", mutate: func(c *Config) { c.Remote.DataPath = "" }, wantErr: "data path"},
		{name: "blank address book", mutate: func(c *Config) { c.Remote.AddressBook = "  " }, wantErr: "address book"},
		{name: "zero quota", mutate: func(c *Config) { c.Remote.QuotaCeiling = 0 }, wantErr: "quota ceiling"},
		{name: "negative grace", mutate: func(c *Config) { c.Commands.GracePeriod = -1 }, wantErr: "grace period"},
		{name: "zero grace ok", mutate: func(c *Config) { c.Commands.GracePeriod = 0 }},
		{name: "zero page size", mutate: func(c *Config) { c.Sync.PageSize = 0 }, wantErr: "page size"},
		{name: "zero attempts", mutate: func(c *Config) { c.Sync.Attempts = 0 }, wantErr: "attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpandDataPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := &Config{}
	require.NoError(t, cfg.expandDataPath())
	assert.Equal(t, filepath.Join(homeDir, ".addressbook-sync", "remote"), cfg.Remote.DataPath)

	cfg = &Config{Remote: RemoteConfig{DataPath: "~/books"}}
	require.NoError(t, cfg.expandDataPath())
	assert.Equal(t, filepath.Join(homeDir, "books"), cfg.Remote.DataPath)

	cfg = &Config{Remote: RemoteConfig{DataPath: "relative/path"}}
	require.NoError(t, cfg.expandDataPath())
	assert.True(t, filepath.IsAbs(cfg.Remote.DataPath))
}

func TestGetConfigValue_Precedence(t *testing.T) {
	t.Setenv("TEST_ENV_KEY", "env-value")

	assert.Equal(t, "flag-value", getConfigValue("flag-value", "TEST_ENV_KEY", "default"))
	assert.Equal(t, "env-value", getConfigValue("", "TEST_ENV_KEY", "default"))
	assert.Equal(t, "default", getConfigValue("", "NONEXISTENT_KEY_FOR_TEST", "default"))
}

func TestTypedConfigValues(t *testing.T) {
	assert.True(t, getBoolConfigValue("YES", "UNUSED_BOOL_KEY", false))
	assert.False(t, getBoolConfigValue("off", "UNUSED_BOOL_KEY", true))
	assert.True(t, getBoolConfigValue("", "UNUSED_BOOL_KEY", true))

	assert.Equal(t, 12, getIntConfigValue("12", "UNUSED_INT_KEY", 1))
	assert.Equal(t, 1, getIntConfigValue("twelve", "UNUSED_INT_KEY", 1))

	assert.Equal(t, 7, intOr(" 7 ", 2))
	assert.Equal(t, 2, intOr("", 2))
	assert.False(t, boolOr("no", true))
	assert.True(t, boolOr("", true))
}
