// Package config loads YAML configuration for an msplink client: which
// transport to dial, which MSP wire version to speak, and the dispatcher's
// default request timeout and reconnect behavior.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete client configuration.
type Config struct {
	Transport   TransportConfig `yaml:"transport"`
	MSP         MSPConfig       `yaml:"msp"`
	Reconnect   ReconnectConfig `yaml:"reconnect"`
	LogLevel    string          `yaml:"log_level"`
	MetricsAddr string          `yaml:"metrics_addr"`
}

// TransportConfig selects and configures the byte stream the dispatcher
// runs over.
type TransportConfig struct {
	// Kind is "serial" or "tcp".
	Kind   string       `yaml:"kind"`
	Serial SerialConfig `yaml:"serial"`
	TCP    TCPConfig    `yaml:"tcp"`
}

// SerialConfig holds serial port settings.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// TCPConfig holds TCP connection settings, for flight-controller
// simulators and TCP-to-serial bridge rigs (§6, "any bidirectional byte
// stream").
type TCPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// MSPConfig holds protocol-level settings.
type MSPConfig struct {
	// Version is "v1" or "v2". MSPv2 is the dispatcher default (§4.4).
	Version string `yaml:"version"`

	// DefaultTimeout is the per-request deadline applied at submission.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// ReconnectConfig controls the supervisor's reconnect policy.
type ReconnectConfig struct {
	// Delay between reconnect attempts.
	Delay time.Duration `yaml:"delay"`

	// MaxAttempts bounds the total number of connection attempts; 0 means
	// unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Kind: "serial",
			Serial: SerialConfig{
				Port: "/dev/ttyACM0",
				Baud: 115200,
			},
			TCP: TCPConfig{
				Host: "127.0.0.1",
				Port: 5760,
			},
		},
		MSP: MSPConfig{
			Version:        "v2",
			DefaultTimeout: 500 * time.Millisecond,
		},
		Reconnect: ReconnectConfig{
			Delay:       2 * time.Second,
			MaxAttempts: 0,
		},
		LogLevel:    "info",
		MetricsAddr: "",
	}
}

// Load loads configuration from a YAML file, starting from DefaultConfig
// and overlaying whatever the file sets. Environment variables referenced
// as ${VAR} in the file are expanded before parsing, matching the
// teacher's own config-loading convention.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case "serial":
		if c.Transport.Serial.Port == "" {
			return fmt.Errorf("transport.serial.port is required")
		}
	case "tcp":
		if c.Transport.TCP.Host == "" {
			return fmt.Errorf("transport.tcp.host is required")
		}
		if c.Transport.TCP.Port <= 0 {
			return fmt.Errorf("transport.tcp.port must be positive")
		}
	default:
		return fmt.Errorf("transport.kind must be 'serial' or 'tcp', got %q", c.Transport.Kind)
	}

	switch c.MSP.Version {
	case "v1", "v2":
	default:
		return fmt.Errorf("msp.version must be 'v1' or 'v2', got %q", c.MSP.Version)
	}

	if c.MSP.DefaultTimeout <= 0 {
		return fmt.Errorf("msp.default_timeout must be positive")
	}

	if c.Reconnect.Delay <= 0 {
		return fmt.Errorf("reconnect.delay must be positive")
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
