// Package config provides configuration handling for the mcastrec front-end.
// The engine itself takes explicit parameters and never reads the
// environment; only this package does.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/irctrakz/mcastrec/pkg/core"
	"github.com/irctrakz/mcastrec/pkg/logging"
	"github.com/irctrakz/mcastrec/pkg/socket"
	"gopkg.in/yaml.v3"
)

// Default multicast group and port.
const (
	DefaultAddress = "224.0.0.1"
	DefaultPort    = 62040
)

// Config represents the complete front-end configuration.
type Config struct {
	// Capture contains the default capture parameters.
	Capture core.CaptureConfig `json:"capture" yaml:"capture"`

	// Replay contains the default replay parameters.
	Replay core.ReplayConfig `json:"replay" yaml:"replay"`

	// Socket contains multicast socket options.
	Socket SocketConfig `json:"socket" yaml:"socket"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Stats contains the periodic reporter and health endpoint settings.
	Stats StatsConfig `json:"stats" yaml:"stats"`
}

// SocketConfig contains multicast socket options.
type SocketConfig struct {
	// Interface is the NIC name for joins and multicast egress.
	Interface string `json:"interface" yaml:"interface"`

	// TTL is the multicast hop limit for replayed datagrams.
	TTL int `json:"ttl" yaml:"ttl"`

	// Loopback delivers replayed multicast to listeners on this host.
	Loopback bool `json:"loopback" yaml:"loopback"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// File is the log file path.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`

	// JSON switches the formatter to JSON.
	JSON bool `json:"json" yaml:"json"`
}

// StatsConfig controls the stats reporter and health endpoint.
type StatsConfig struct {
	// Interval between stats lines, as a Go duration; "0" disables.
	Interval string `json:"interval" yaml:"interval"`

	// Format is "text" or "json".
	Format string `json:"format" yaml:"format"`

	// HealthAddr is the listen address of the HTTP health endpoint; empty disables.
	HealthAddr string `json:"healthAddr" yaml:"healthAddr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Capture: core.CaptureConfig{
			BindAddress: DefaultAddress,
			Port:        DefaultPort,
		},
		Replay: core.ReplayConfig{
			DestAddress: DefaultAddress,
			DestPort:    DefaultPort,
		},
		Socket: SocketConfig{
			TTL:      1,
			Loopback: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Stats: StatsConfig{
			Interval: "5s",
			Format:   "text",
		},
	}
}

// LoadFromFile loads configuration from a file.
func LoadFromFile(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Determine file format based on extension
	switch {
	case strings.HasSuffix(path, ".json"):
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	return nil
}

func envBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// LoadFromEnv loads MCASTREC_* overrides from the environment.
func LoadFromEnv(config *Config) {
	// Capture
	if val := os.Getenv("MCASTREC_CAPTURE_ADDRESS"); val != "" {
		config.Capture.BindAddress = val
	}
	if val := os.Getenv("MCASTREC_CAPTURE_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Capture.Port = port
		}
	}
	if val := os.Getenv("MCASTREC_CAPTURE_FILE"); val != "" {
		config.Capture.Path = val
	}

	// Replay
	if val := os.Getenv("MCASTREC_REPLAY_ADDRESS"); val != "" {
		config.Replay.DestAddress = val
	}
	if val := os.Getenv("MCASTREC_REPLAY_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Replay.DestPort = port
		}
	}
	if val := os.Getenv("MCASTREC_REPLAY_FILE"); val != "" {
		config.Replay.Path = val
	}
	if val := os.Getenv("MCASTREC_REPLAY_LOOP"); val != "" {
		config.Replay.Loop = envBool(val)
	}

	// Socket
	if val := os.Getenv("MCASTREC_INTERFACE"); val != "" {
		config.Socket.Interface = val
	}
	if val := os.Getenv("MCASTREC_TTL"); val != "" {
		if ttl, err := strconv.Atoi(val); err == nil {
			config.Socket.TTL = ttl
		}
	}
	if val := os.Getenv("MCASTREC_LOOPBACK"); val != "" {
		config.Socket.Loopback = envBool(val)
	}

	// Logging
	if val := os.Getenv("MCASTREC_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("MCASTREC_LOG_FILE"); val != "" {
		config.Logging.File = val
	}
	if val := os.Getenv("MCASTREC_LOG_JSON"); val != "" {
		config.Logging.JSON = envBool(val)
	}

	// Stats
	if val := os.Getenv("MCASTREC_STATS_INTERVAL"); val != "" {
		config.Stats.Interval = val
	}
	if val := os.Getenv("MCASTREC_HEALTH_ADDR"); val != "" {
		config.Stats.HealthAddr = val
	}
}

// Validate checks the settings shared by every command. Session parameters
// are validated when a session starts.
func (c *Config) Validate() error {
	if c.Socket.TTL < 0 || c.Socket.TTL > 255 {
		return fmt.Errorf("invalid multicast TTL: %d", c.Socket.TTL)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	if _, err := c.StatsInterval(); err != nil {
		return err
	}
	switch c.Stats.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid stats format: %s", c.Stats.Format)
	}

	return nil
}

// StatsInterval parses Stats.Interval. Empty or "0" means disabled.
func (c *Config) StatsInterval() (time.Duration, error) {
	s := strings.TrimSpace(c.Stats.Interval)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid stats interval %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid stats interval %q", s)
	}
	return d, nil
}

// SocketOptions converts the socket section to socket.Config.
func (c *Config) SocketOptions() socket.Config {
	sc := socket.DefaultConfig()
	sc.Interface = c.Socket.Interface
	if c.Socket.TTL > 0 {
		sc.TTL = c.Socket.TTL
	}
	sc.Loopback = c.Socket.Loopback
	return sc
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return err
	}
	logging.SetLevel(level)
	logging.SetJSON(c.Logging.JSON)

	// Enable file logging if configured
	if c.Logging.File != "" {
		err := logging.EnableFileLogging(
			c.Logging.File,
			c.Logging.MaxSize,
			c.Logging.MaxBackups,
			c.Logging.MaxAge,
		)
		if err != nil {
			return fmt.Errorf("failed to enable file logging: %w", err)
		}
	}

	return nil
}

// SaveToFile saves the configuration to a file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	// Determine file format based on extension
	switch {
	case strings.HasSuffix(path, ".json"):
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		data, err = yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
