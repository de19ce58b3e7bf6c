package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/profile/dfu"
)

// Transport names accepted in Config.Transport.
const (
	TransportGoBLE = "goble"
	TransportBlueZ = "bluez"
)

// Config holds application configuration
type Config struct {
	Transport string       `yaml:"transport" default:"goble"`
	Adapter   string       `yaml:"adapter" default:"hci0"`
	LogLevel  logrus.Level `yaml:"log_level"`

	ConnectTimeout     time.Duration `yaml:"connect_timeout" default:"30s"`
	NotifyTimeout      time.Duration `yaml:"notify_timeout" default:"15s"`
	OperationTimeout   time.Duration `yaml:"operation_timeout" default:"10s"`
	NotifyQueueSize    uint32        `yaml:"notify_queue_size" default:"256"`
	ChunkSize          int           `yaml:"chunk_size" default:"20"`
	DFUResponseTimeout time.Duration `yaml:"dfu_response_timeout" default:"15s"`

	OutputFormat string `yaml:"output_format" default:"text"` // text, json
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	c := &Config{LogLevel: logrus.InfoLevel}
	defaults.SetDefaults(c)
	return c
}

// Load reads a YAML file over the defaults. An empty path yields the
// defaults; a path that does not exist is an error.
func Load(path string) (*Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks enumerations and that every timeout and size is positive.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Transport) {
	case TransportGoBLE, TransportBlueZ:
	default:
		errs = append(errs, fmt.Errorf("transport %q: want %s or %s", c.Transport, TransportGoBLE, TransportBlueZ))
	}
	switch c.OutputFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("output_format %q: want text or json", c.OutputFormat))
	}
	for name, d := range map[string]time.Duration{
		"connect_timeout":      c.ConnectTimeout,
		"notify_timeout":       c.NotifyTimeout,
		"operation_timeout":    c.OperationTimeout,
		"dfu_response_timeout": c.DFUResponseTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize))
	}
	if c.NotifyQueueSize < 2 {
		errs = append(errs, fmt.Errorf("notify_queue_size must be at least 2, got %d", c.NotifyQueueSize))
	}
	return errors.Join(errs...)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// GattOptions builds device options from c.
func (c *Config) GattOptions(registry *gatt.Registry, logger *logrus.Logger) *gatt.Options {
	return &gatt.Options{
		ConnectTimeout:   c.ConnectTimeout,
		NotifyTimeout:    c.NotifyTimeout,
		OperationTimeout: c.OperationTimeout,
		NotifyQueueSize:  c.NotifyQueueSize,
		Registry:         registry,
		Logger:           logger,
	}
}

// DFUOptions builds firmware update options from c.
func (c *Config) DFUOptions(progress dfu.ProgressFunc) dfu.Options {
	return dfu.Options{
		ChunkSize:       c.ChunkSize,
		ResponseTimeout: c.DFUResponseTimeout,
		Progress:        progress,
	}
}
