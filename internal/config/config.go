// Package config loads and validates PertScan configuration files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/freaksdesign/PertScan/internal/db"
	"github.com/freaksdesign/PertScan/internal/errors"
	"github.com/freaksdesign/PertScan/internal/scanning"
)

const (
	defaultQueueSize = 200
	defaultAPIPort   = 8080
	maxTCPPort       = 65535

	configDirPerm  = 0750
	configFilePerm = 0600
)

// Config represents the complete PertScan configuration.
type Config struct {
	// Scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Service registry configuration
	Services ServicesConfig `yaml:"services" json:"services"`

	// Database configuration
	Database db.Config `yaml:"database" json:"database"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Scheduled scans
	Schedules []ScheduleConfig `yaml:"schedules" json:"schedules"`
}

// ScanningConfig holds settings for the scan engine and session.
type ScanningConfig struct {
	// Number of concurrent probes per scan
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// Capacity of the probe work queue
	QueueSize int `yaml:"queue_size" json:"queue_size"`

	// Timeout for a single TCP connect attempt
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout"`

	// Interval between completion checks
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`

	// Default target host
	DefaultTarget string `yaml:"default_target" json:"default_target"`

	// Default port range, "lo-hi"
	DefaultPorts string `yaml:"default_ports" json:"default_ports"`
}

// ServicesConfig holds settings for the port metadata registry.
type ServicesConfig struct {
	// Optional YAML file overriding the embedded registry
	RegistryFile string `yaml:"registry_file" json:"registry_file"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// Listen port
	Port int `yaml:"port" json:"port"`

	// Allowed CORS origins
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`

	// Request timeout
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// Maximum request size
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Enable request logging for API
	RequestLogging bool `yaml:"request_logging" json:"request_logging"`
}

// ScheduleConfig describes one cron-driven scan.
type ScheduleConfig struct {
	Name   string `yaml:"name" json:"name"`
	Cron   string `yaml:"cron" json:"cron"`
	Target string `yaml:"target" json:"target"`
	Ports  string `yaml:"ports" json:"ports"`
	Save   bool   `yaml:"save" json:"save"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			PoolSize:      scanning.DefaultPoolSize,
			QueueSize:     defaultQueueSize,
			ProbeTimeout:  scanning.DefaultProbeTimeout,
			PollInterval:  scanning.DefaultPollInterval,
			DefaultTarget: "127.0.0.1",
			DefaultPorts:  "1-1023",
		},
		Database: db.DefaultConfig(),
		API: APIConfig{
			ListenAddr:     "127.0.0.1",
			Port:           defaultAPIPort,
			AllowedOrigins: []string{"*"},
			RequestTimeout: 30 * time.Second,
			MaxRequestSize: 1024 * 1024, // 1MB
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			Output:         "stderr",
			RequestLogging: true,
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// JSON is a subset of YAML, so one decoder serves both extensions.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Scanning.PoolSize <= 0 || c.Scanning.PoolSize > scanning.MaxPoolSize {
		return errors.ErrConfigInvalid("scanning.pool_size", c.Scanning.PoolSize)
	}
	if c.Scanning.QueueSize <= 0 {
		return errors.ErrConfigInvalid("scanning.queue_size", c.Scanning.QueueSize)
	}
	if c.Scanning.ProbeTimeout <= 0 {
		return errors.ErrConfigInvalid("scanning.probe_timeout", c.Scanning.ProbeTimeout)
	}
	if c.Scanning.PollInterval <= 0 {
		return errors.ErrConfigInvalid("scanning.poll_interval", c.Scanning.PollInterval)
	}
	if _, err := scanning.ParsePortRange(c.Scanning.DefaultPorts); err != nil {
		return errors.ErrConfigInvalid("scanning.default_ports", c.Scanning.DefaultPorts)
	}

	if c.API.Port <= 0 || c.API.Port > maxTCPPort {
		return errors.ErrConfigInvalid("api.port", c.API.Port)
	}
	if c.API.ListenAddr == "" {
		return errors.ErrConfigInvalid("api.listen_addr", c.API.ListenAddr)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	seen := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		field := fmt.Sprintf("schedules[%d]", i)
		if s.Name == "" || seen[s.Name] {
			return errors.ErrConfigInvalid(field+".name", s.Name)
		}
		seen[s.Name] = true
		if s.Cron == "" {
			return errors.ErrConfigInvalid(field+".cron", s.Cron)
		}
		if s.Target == "" {
			return errors.ErrConfigInvalid(field+".target", s.Target)
		}
		if s.Ports != "" {
			if _, err := scanning.ParsePortRange(s.Ports); err != nil {
				return errors.ErrConfigInvalid(field+".ports", s.Ports)
			}
		}
	}

	return nil
}

// HasDatabase reports whether enough database settings are present to connect.
func (c *Config) HasDatabase() bool {
	return c.Database.Host != "" && c.Database.Database != "" && c.Database.Username != ""
}

// GetAPIAddress returns the full API address.
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}
