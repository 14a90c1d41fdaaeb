package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/extmgr-labs/extmgr/internal/branding"
	"github.com/spf13/viper"
)

const (
	fileName = "config"
	fileType = "yaml"
)

// Configuration keys.
const (
	KeyStorageBackend  = "storage.backend"
	KeyStorageDir      = "storage.dir"
	KeySQLitePath      = "storage.sqlite_path"
	KeyRedisURL        = "storage.redis_url"
	KeyRedisPrefix     = "storage.redis_prefix"
	KeyHostInventory   = "host.inventory"
	KeyLocale          = "locale"
	KeyLogDebug        = "log.debug"
	KeyLogJSON         = "log.json"
	KeyRollbackOnError = "extensions.rollback_on_error"
)

const (
	defaultBackend       = "file"
	defaultLocale        = "en"
	defaultRedisURL      = "redis://localhost:6379/0"
	defaultRedisPrefix   = "extmgr"
	defaultInventory     = "inventory.yaml"
	defaultSQLiteFile    = "extmgr.db"
	defaultStorageSubdir = "data"
)

// Settings is the resolved view of every key the application reads.
type Settings struct {
	StorageBackend  string
	StorageDir      string
	SQLitePath      string
	RedisURL        string
	RedisPrefix     string
	HostInventory   string
	Locale          string
	LogDebug        bool
	LogJSON         bool
	RollbackOnError bool
}

// Dir returns the path to the config directory (~/.extmgr/).
// EXTMGR_HOME overrides it.
func Dir() string {
	if v := os.Getenv(branding.EnvVar("HOME")); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", branding.HomeDir())
	}
	return filepath.Join(home, branding.HomeDir())
}

// FilePath returns the full path to the config file (~/.extmgr/config.yaml).
func FilePath() string {
	return filepath.Join(Dir(), fileName+"."+fileType)
}

// EnsureDir creates the config directory if it does not exist.
func EnsureDir() error {
	dir := Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return nil
}

// Load initializes Viper to read from the config file and environment.
func Load() {
	viper.SetConfigFile(FilePath())
	viper.SetConfigType(fileType)
	viper.SetEnvPrefix(branding.EnvPrefix())
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault(KeyStorageBackend, defaultBackend)
	viper.SetDefault(KeyStorageDir, filepath.Join(Dir(), defaultStorageSubdir))
	viper.SetDefault(KeySQLitePath, filepath.Join(Dir(), defaultSQLiteFile))
	viper.SetDefault(KeyRedisURL, defaultRedisURL)
	viper.SetDefault(KeyRedisPrefix, defaultRedisPrefix)
	viper.SetDefault(KeyHostInventory, filepath.Join(Dir(), defaultInventory))
	viper.SetDefault(KeyLocale, defaultLocale)

	// Ignore error if config file doesn't exist yet.
	_ = viper.ReadInConfig()
}

// Current returns the settings resolved from defaults, file, and environment.
// Load must have been called first.
func Current() Settings {
	return Settings{
		StorageBackend:  strings.ToLower(viper.GetString(KeyStorageBackend)),
		StorageDir:      viper.GetString(KeyStorageDir),
		SQLitePath:      viper.GetString(KeySQLitePath),
		RedisURL:        viper.GetString(KeyRedisURL),
		RedisPrefix:     viper.GetString(KeyRedisPrefix),
		HostInventory:   viper.GetString(KeyHostInventory),
		Locale:          viper.GetString(KeyLocale),
		LogDebug:        viper.GetBool(KeyLogDebug),
		LogJSON:         viper.GetBool(KeyLogJSON),
		RollbackOnError: viper.GetBool(KeyRollbackOnError),
	}
}

// Get returns a config value by key. Returns empty string if not set.
func Get(key string) string {
	return viper.GetString(key)
}

// Set writes a config key-value pair and saves the config file.
func Set(key, value string) error {
	if err := EnsureDir(); err != nil {
		return err
	}

	viper.Set(key, value)

	configFile := FilePath()

	// Create the file if it doesn't exist.
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("creating config file %s: %w", configFile, err)
		}
		f.Close()
	}

	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
