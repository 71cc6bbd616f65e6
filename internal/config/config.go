// Package config loads the UVDM license server and client configuration
// from environment variables (UVDM_ prefix) with an optional YAML file
// overlay.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config is the complete application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	Admin   AdminConfig   `yaml:"admin" envconfig:"ADMIN"`
	Storage StorageConfig `yaml:"storage" envconfig:"STORAGE"`
	Client  ClientConfig  `yaml:"client" envconfig:"CLIENT"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	RateLimitRPM    int           `yaml:"rate_limit_rpm" envconfig:"RATE_LIMIT_RPM"`
}

// AdminConfig contains the admin guard configuration. An empty Key leaves
// the guard disabled; this is a development default, loudly reported at
// startup.
type AdminConfig struct {
	Key string `yaml:"key" envconfig:"KEY"`
}

// StorageConfig contains persistence configuration.
type StorageConfig struct {
	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR"`
}

// ClientConfig contains the license client configuration.
type ClientConfig struct {
	ServerURL string        `yaml:"server_url" envconfig:"LICENSE_SERVER"`
	Timeout   time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	CacheFile string        `yaml:"cache_file" envconfig:"CACHE_FILE"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// defaultConfig returns the built-in defaults. They are applied before
// the file and environment overlays so that envconfig.Process only
// touches fields whose UVDM_* variables are actually set.
func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"*"},
			RateLimitRPM:    60,
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		Client: ClientConfig{
			ServerURL: "http://localhost:5000",
			Timeout:   10 * time.Second,
			CacheFile: "data/license_cache.json",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/uvdm.log",
		},
	}
}

// Load builds the configuration in precedence order: built-in defaults,
// then the YAML config file when one exists at path, then UVDM_*
// environment variables. Environment values win.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if err := envconfig.Process("UVDM", &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Client.Timeout <= 0 {
		return fmt.Errorf("client timeout must be positive, got %s", c.Client.Timeout)
	}
	if c.Client.ServerURL == "" {
		return fmt.Errorf("client server URL must not be empty")
	}
	return nil
}

// ListenAddr returns the server listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// AdminGuardEnabled reports whether an admin secret is configured.
func (c *Config) AdminGuardEnabled() bool {
	return c.Admin.Key != ""
}
