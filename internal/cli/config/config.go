package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conduit-lang/persistence/internal/orm/exec"
	"github.com/conduit-lang/persistence/internal/orm/query"
	"github.com/conduit-lang/persistence/internal/orm/unit"
)

// FileNames are the configuration file names searched for, in order
var FileNames = []string{"persistence.yml", "persistence.yaml"}

// EnvPrefix prefixes environment overrides, e.g. PERSIST_DATABASE_URL
const EnvPrefix = "PERSIST"

// Config represents a persistence unit configuration
type Config struct {
	Unit     UnitConfig     `mapstructure:"unit"`
	Database DatabaseConfig `mapstructure:"database"`
	Mapping  MappingConfig  `mapstructure:"mapping"`
}

// UnitConfig names the persistence unit and its pass-through settings
type UnitConfig struct {
	Name            string `mapstructure:"name"`
	TransactionType string `mapstructure:"transaction_type"`
	FlushMode       string `mapstructure:"flush_mode"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Retries         int           `mapstructure:"retries"`
}

// MappingConfig locates the mapping source
type MappingConfig struct {
	File string `mapstructure:"file"`
}

// Load loads the configuration from path, or from the nearest
// persistence.yml when path is empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("unit.name", "default")
	v.SetDefault("unit.transaction_type", unit.DefaultTransactionType.String())
	v.SetDefault("unit.flush_mode", unit.DefaultFlushMode.String())
	v.SetDefault("database.driver", "pgx")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.max_idle_conns", 0)
	v.SetDefault("database.conn_max_lifetime", 0)
	v.SetDefault("database.timeout", 0)
	v.SetDefault("database.retries", 0)
	v.SetDefault("mapping.file", "mapping.yml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, err
	}

	if path == "" {
		if found, err := FindConfigFile(); err == nil {
			path = found
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Relative mapping paths are relative to the config file
	if path != "" && config.Mapping.File != "" && !filepath.IsAbs(config.Mapping.File) {
		config.Mapping.File = filepath.Join(filepath.Dir(path), config.Mapping.File)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// FindConfigFile looks for a configuration file in the working directory
// and its parents
func FindConfigFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("no persistence.yml found")
		}
		dir = parent
	}
}

// TransactionType returns the unit's parsed transaction type
func (c *Config) TransactionType() unit.TransactionType {
	t, _ := unit.ParseTransactionType(c.Unit.TransactionType)
	return t
}

// FlushMode returns the unit's parsed flush mode
func (c *Config) FlushMode() unit.FlushMode {
	m, _ := unit.ParseFlushMode(c.Unit.FlushMode)
	return m
}

// Dialect returns the dialect of the configured driver
func (c *Config) Dialect() query.Dialect {
	d, _ := query.DialectForDriver(c.Database.Driver)
	return d
}

// ExecConfig returns the connection settings of the database section
func (c *Config) ExecConfig() exec.Config {
	return exec.Config{
		Driver:          c.Database.Driver,
		URL:             c.Database.URL,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if _, err := unit.ParseTransactionType(cfg.Unit.TransactionType); err != nil {
		return fmt.Errorf("unit.transaction_type: %w", err)
	}
	if _, err := unit.ParseFlushMode(cfg.Unit.FlushMode); err != nil {
		return fmt.Errorf("unit.flush_mode: %w", err)
	}
	if _, err := query.DialectForDriver(cfg.Database.Driver); err != nil {
		return fmt.Errorf("database.driver: %w", err)
	}
	if cfg.Database.Retries < 0 {
		return fmt.Errorf("database.retries must not be negative, got: %d", cfg.Database.Retries)
	}
	return nil
}
