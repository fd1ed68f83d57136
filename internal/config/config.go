// Package config loads the pico YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/SlappyBacon/pico/internal/channel"
	"github.com/SlappyBacon/pico/internal/protocol"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Channel   ChannelConfig   `yaml:"channel"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Connector ConnectorConfig `yaml:"connector"`
	Store     StoreConfig     `yaml:"store"`
	Transfer  TransferConfig  `yaml:"transfer"`
	Log       LogConfig       `yaml:"log"`
}

type BrokerConfig struct {
	Host       string     `yaml:"host"`
	AssignPort int        `yaml:"assign_port"`
	ServePorts []int      `yaml:"serve_ports"`
	PortRange  *PortRange `yaml:"port_range"`
	Mirrors    []string   `yaml:"mirrors"`
}

type PortRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

type ChannelConfig struct {
	KeySize      int `yaml:"key_size"`
	BufferSize   int `yaml:"buffer_size"`
	MaxFrameSize int `yaml:"max_frame_size"`
}

type TimeoutConfig struct {
	Dial        time.Duration `yaml:"dial"`
	Handshake   time.Duration `yaml:"handshake"`
	Reservation time.Duration `yaml:"reservation"`
}

type ConnectorConfig struct {
	MaxHops          int           `yaml:"max_hops"`
	MaxRetries       int           `yaml:"max_retries"`
	MaxRetryInterval time.Duration `yaml:"max_retry_interval"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type TransferConfig struct {
	Dir string `yaml:"dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			AssignPort: 7000,
			PortRange:  &PortRange{Min: 7001, Max: 7004},
		},
		Channel: ChannelConfig{
			KeySize:      protocol.DefaultKeySize,
			BufferSize:   protocol.DefaultBufferSize,
			MaxFrameSize: protocol.DefaultMaxFrameSize,
		},
		Timeouts: TimeoutConfig{
			Dial:        10 * time.Second,
			Handshake:   10 * time.Second,
			Reservation: 5 * time.Second,
		},
		Connector: ConnectorConfig{
			MaxHops:          8,
			MaxRetryInterval: 5 * time.Second,
		},
		Store:    StoreConfig{Path: "pico.sqlite3"},
		Transfer: TransferConfig{Dir: "shared"},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// ServePorts expands the slot list: explicit ports win over the range.
func (c *Config) ServePorts() ([]int, error) {
	if len(c.Broker.ServePorts) > 0 {
		return c.Broker.ServePorts, nil
	}
	r := c.Broker.PortRange
	if r == nil {
		return nil, fmt.Errorf("broker needs serve_ports or port_range")
	}
	if r.Min > r.Max {
		return nil, fmt.Errorf("port_range min %d is above max %d", r.Min, r.Max)
	}
	ports := make([]int, 0, r.Max-r.Min+1)
	for p := r.Min; p <= r.Max; p++ {
		ports = append(ports, p)
	}
	return ports, nil
}

func (c *Config) Validate() error {
	ports, err := c.ServePorts()
	if err != nil {
		return err
	}
	if c.Broker.AssignPort < 0 || c.Broker.AssignPort > 65535 {
		return fmt.Errorf("assign_port %d out of range", c.Broker.AssignPort)
	}

	seen := make(map[int]bool, len(ports))
	for _, p := range ports {
		if p < 1 || p > 65535 {
			return fmt.Errorf("serve port %d out of range", p)
		}
		if seen[p] {
			return fmt.Errorf("duplicate serve port %d", p)
		}
		if p == c.Broker.AssignPort {
			return fmt.Errorf("serve port %d is also the assign port", p)
		}
		seen[p] = true
	}

	for _, m := range c.Broker.Mirrors {
		if _, err := protocol.ParseMirror(m); err != nil {
			return fmt.Errorf("mirror %q: %w", m, err)
		}
	}

	if c.Channel.KeySize < 1 {
		return fmt.Errorf("key_size must be at least 1")
	}
	if c.Channel.BufferSize < 1 {
		return fmt.Errorf("buffer_size must be at least 1")
	}
	if c.Connector.MaxHops < 1 {
		return fmt.Errorf("max_hops must be at least 1")
	}
	if c.Connector.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	return nil
}

func (c *Config) ChannelOptions() channel.Options {
	return channel.Options{
		KeySize:      c.Channel.KeySize,
		BufferSize:   c.Channel.BufferSize,
		MaxFrameSize: c.Channel.MaxFrameSize,
	}
}
