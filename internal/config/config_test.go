package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pico.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	ports, err := cfg.ServePorts()
	if err != nil {
		t.Fatal(err)
	}
	if len(ports) != 4 || ports[0] != 7001 || ports[3] != 7004 {
		t.Errorf("unexpected default ports %v", ports)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Broker.AssignPort != 7000 {
		t.Errorf("expected default assign port, got %d", cfg.Broker.AssignPort)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
broker:
  host: 127.0.0.1
  assign_port: 9000
  serve_ports: [9001, 9002]
  mirrors:
    - mirror.example.org:9000
channel:
  buffer_size: 4096
timeouts:
  handshake: 3s
connector:
  max_retries: 2
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Broker.Host != "127.0.0.1" || cfg.Broker.AssignPort != 9000 {
		t.Errorf("broker not loaded: %+v", cfg.Broker)
	}
	ports, _ := cfg.ServePorts()
	if len(ports) != 2 || ports[0] != 9001 || ports[1] != 9002 {
		t.Errorf("expected explicit ports, got %v", ports)
	}
	if cfg.Channel.BufferSize != 4096 {
		t.Errorf("expected buffer size 4096, got %d", cfg.Channel.BufferSize)
	}
	if cfg.Channel.KeySize != 256 {
		t.Errorf("expected default key size to survive, got %d", cfg.Channel.KeySize)
	}
	if cfg.Timeouts.Handshake != 3*time.Second {
		t.Errorf("expected 3s handshake, got %s", cfg.Timeouts.Handshake)
	}
	if cfg.Timeouts.Dial != 10*time.Second {
		t.Errorf("expected default dial timeout, got %s", cfg.Timeouts.Dial)
	}
	if cfg.Connector.MaxRetries != 2 || cfg.Connector.MaxHops != 8 {
		t.Errorf("connector not loaded: %+v", cfg.Connector)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug level, got %q", cfg.Log.Level)
	}

	opts := cfg.ChannelOptions()
	if opts.BufferSize != 4096 || opts.KeySize != 256 {
		t.Errorf("unexpected channel options %+v", opts)
	}
}

func TestLoadPortRange(t *testing.T) {
	path := writeConfig(t, `
broker:
  port_range: {min: 6000, max: 6002}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	ports, _ := cfg.ServePorts()
	if len(ports) != 3 || ports[0] != 6000 || ports[2] != 6002 {
		t.Errorf("unexpected ports %v", ports)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no ports", func(c *Config) { c.Broker.PortRange = nil }, "serve_ports or port_range"},
		{"inverted range", func(c *Config) { c.Broker.PortRange = &PortRange{Min: 10, Max: 5} }, "above max"},
		{"duplicate port", func(c *Config) { c.Broker.ServePorts = []int{7001, 7001} }, "duplicate"},
		{"port out of range", func(c *Config) { c.Broker.ServePorts = []int{70000} }, "out of range"},
		{"assign clash", func(c *Config) { c.Broker.ServePorts = []int{7000} }, "assign port"},
		{"bad mirror", func(c *Config) { c.Broker.Mirrors = []string{"nowhere"} }, "mirror"},
		{"zero key", func(c *Config) { c.Channel.KeySize = 0 }, "key_size"},
		{"zero buffer", func(c *Config) { c.Channel.BufferSize = 0 }, "buffer_size"},
		{"zero hops", func(c *Config) { c.Connector.MaxHops = 0 }, "max_hops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	if _, err := Load(writeConfig(t, "broker: [not, a, map]")); err == nil {
		t.Error("expected parse error")
	}

	if _, err := Load(writeConfig(t, "channel:\n  key_size: -1\n")); err == nil {
		t.Error("expected validation error")
	}
}
