package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Output formats supported by the collector.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// ErrHelp is returned by Load when -h/--help was given; usage has already been printed.
var ErrHelp = pflag.ErrHelp

// Config holds the application configuration loaded from .env, environment variables and flags.
type Config struct {
	AppName  string `mapstructure:"app_name"`
	Env      string `mapstructure:"app_env"`
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`

	// APIKey and the FORTIOS_* keys describe a single device when no devices file is given.
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"fortios_base_url"`
	Version   string `mapstructure:"fortios_version"`
	VerifySSL bool   `mapstructure:"fortios_verify_ssl"`

	DevicesFile  string `mapstructure:"devices_file"`
	Interface    string `mapstructure:"interface"`
	OutputFormat string `mapstructure:"output_format"`
	// Last prints archived reports instead of querying devices.
	Last bool `mapstructure:"last"`

	StorageType            string        `mapstructure:"storage_type"`
	BBoltPath              string        `mapstructure:"bbolt_path"`
	StorageTTLSeconds      int64         `mapstructure:"storage_ttl_seconds"`
	StorageCleanupSeconds  int64         `mapstructure:"storage_cleanup_interval_seconds"`
	StorageTTL             time.Duration `mapstructure:"-"`
	StorageCleanupInterval time.Duration `mapstructure:"-"`
}

// String hides the API key so the config can be logged.
func (c Config) String() string {
	key := ""
	if c.APIKey != "" {
		key = "****"
	}
	return fmt.Sprintf("Config{env: %s, base_url: %s, version: %s, devices_file: %s, api_key: %s}",
		c.Env, c.BaseURL, c.Version, c.DevicesFile, key)
}

// Load reads configuration from .env, environment variables and command line args.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()

	v.SetDefault("app_name", "fortiwrap")
	v.SetDefault("app_env", "development")
	v.SetDefault("debug", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("api_key", "")
	v.SetDefault("fortios_base_url", "")
	v.SetDefault("fortios_version", "7.2")
	v.SetDefault("fortios_verify_ssl", true)
	v.SetDefault("devices_file", "")
	v.SetDefault("interface", "")
	v.SetDefault("output_format", FormatYAML)
	v.SetDefault("last", false)
	v.SetDefault("storage_type", "none")
	v.SetDefault("bbolt_path", "./data/snapshots.db")
	v.SetDefault("storage_ttl_seconds", int64((30*24*time.Hour)/time.Second))
	v.SetDefault("storage_cleanup_interval_seconds", int64((12*time.Hour)/time.Second))

	v.AutomaticEnv()

	fs := pflag.NewFlagSet("fortiwrap", pflag.ContinueOnError)
	fs.String("devices", "", "path to a YAML/JSON devices file")
	fs.String("interface", "", "fetch only the named interface")
	fs.String("format", "", "output format (yaml|json)")
	fs.String("log-level", "", "log level (debug|info|warn|error)")
	fs.Bool("last", false, "print the latest archived report per device without contacting it")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	for key, flag := range map[string]string{
		"devices_file":  "devices",
		"interface":     "interface",
		"output_format": "format",
		"log_level":     "log-level",
		"last":          "last",
	} {
		if f := fs.Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	cfg.OutputFormat = strings.ToLower(strings.TrimSpace(cfg.OutputFormat))
	_, levelFromEnv := os.LookupEnv("LOG_LEVEL")
	if cfg.Debug && !fs.Changed("log-level") && !levelFromEnv {
		cfg.LogLevel = "debug"
	}

	if cfg.Env == "production" && cfg.APIKey == "" && cfg.DevicesFile == "" {
		return nil, fmt.Errorf("API_KEY must be set in production")
	}
	if cfg.OutputFormat != FormatYAML && cfg.OutputFormat != FormatJSON {
		return nil, fmt.Errorf("invalid output_format %q (expected yaml or json)", cfg.OutputFormat)
	}

	if cfg.StorageTTLSeconds <= 0 {
		return nil, fmt.Errorf("invalid storage_ttl_seconds (must be positive seconds)")
	}
	if cfg.StorageCleanupSeconds <= 0 {
		return nil, fmt.Errorf("invalid storage_cleanup_interval_seconds (must be positive seconds)")
	}
	cfg.StorageTTL = time.Duration(cfg.StorageTTLSeconds) * time.Second
	cfg.StorageCleanupInterval = time.Duration(cfg.StorageCleanupSeconds) * time.Second

	return &cfg, nil
}
