// Package config loads flowctl settings from a YAML file, FLOWCTL_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// AppName is used for the default config file name.
	AppName = "flowctl"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "FLOWCTL"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config holds the application configuration.
type Config struct {
	// TemplatesDir holds workflow templates named <id>.json|.yaml|.yml.
	TemplatesDir string `mapstructure:"templates_dir"`

	Store struct {
		Driver string `mapstructure:"driver"` // memory, sqlite or mysql
		DSN    string `mapstructure:"dsn"`    // file path for sqlite
	} `mapstructure:"store"`

	Log struct {
		Format string `mapstructure:"format"` // json or human
		Debug  bool   `mapstructure:"debug"`
		File   string `mapstructure:"file"`
	} `mapstructure:"log"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// Load builds a Config. cfgFile names an explicit config file; when empty,
// flowctl.yaml is searched in the working directory and ~/.flowctl. flags,
// when non-nil, override file and environment values for the flags they
// define (see BindFlags).
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/." + AppName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// flagKeys maps config keys to the flag names registered by BindFlags.
var flagKeys = map[string]string{
	"templates_dir": "templates",
	"store.driver":  "store",
	"store.dsn":     "dsn",
	"log.format":    "log-format",
	"log.debug":     "debug",
	"log.file":      "log-file",
}

// BindFlags registers the flags that override config values.
func BindFlags(flags *pflag.FlagSet) {
	flags.String("templates", "", "directory holding workflow templates")
	flags.String("store", "", "store driver: memory, sqlite or mysql")
	flags.String("dsn", "", "store data source (sqlite file or mysql DSN)")
	flags.String("log-format", "", "log format: json or human")
	flags.Bool("debug", false, "enable debug logging")
	flags.String("log-file", "", "also write logs to this file")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("templates_dir", "templates")
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dsn", "flowctl.db")
	v.SetDefault("log.format", "human")
	v.SetDefault("log.debug", false)
	v.SetDefault("log.file", "")
	v.SetDefault("metrics.enabled", false)
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverMySQL:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}

	switch c.Log.Format {
	case "json", "human":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Log.Format)
	}
	return nil
}
