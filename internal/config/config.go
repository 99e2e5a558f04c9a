// Package config holds the flag-populated configuration for each binary.
// Every struct carries a Default*() constructor supplying the baked-in
// defaults (ports, timeouts, cache durations); flags and an optional YAML
// overlay adjust them from there.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Server is the front door's configuration.
type Server struct {
	NodeID     string        `yaml:"node_id"`
	BindAddr   string        `yaml:"bind_address"`
	Port       int           `yaml:"port"`
	Capacity   int           `yaml:"capacity"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	RetryEvery time.Duration `yaml:"retry_interval"`
	LogLevel   string        `yaml:"log_level"`
}

// DefaultServerConfig returns the front door defaults: well-known
// port 9999, 4-player lobbies, 30 s lobby cache timeout.
func DefaultServerConfig() Server {
	return Server{
		BindAddr:   "::",
		Port:       9999,
		Capacity:   4,
		CacheTTL:   30 * time.Second,
		RetryEvery: time.Second,
		LogLevel:   "info",
	}
}

// Client is the client transport's configuration.
type Client struct {
	NodeID      string        `yaml:"node_id"`
	Address     string        `yaml:"address"`
	GatewayAddr string        `yaml:"gateway"`
	Mobile      bool          `yaml:"mobile"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	RetryEvery  time.Duration `yaml:"retry_interval"`
	LogLevel    string        `yaml:"log_level"`
}

// DefaultClientConfig returns the client defaults: 10 s client
// cache timeout, 1 s retransmit retry.
func DefaultClientConfig() Client {
	return Client{
		CacheTTL:   10 * time.Second,
		RetryEvery: time.Second,
		LogLevel:   "info",
	}
}

// Gateway is the DTN gateway relay's configuration.
type Gateway struct {
	NodeID      string        `yaml:"node_id"`
	ServerAddr  string        `yaml:"server_address"`
	McastGroup  string        `yaml:"mcast_group"`
	McastPort   int           `yaml:"mcast_port"`
	BeaconEvery time.Duration `yaml:"beacon_interval"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	RetryEvery  time.Duration `yaml:"retry_interval"`
	LogLevel    string        `yaml:"log_level"`
}

// DefaultGatewayConfig returns the gateway defaults: the DTN
// multicast group and port, a 1 Hz beacon, 20 s gateway cache timeout.
func DefaultGatewayConfig() Gateway {
	return Gateway{
		McastGroup:  "ff15:1234:5678:9101:1121:3141:5161:0001",
		McastPort:   9998,
		BeaconEvery: time.Second,
		CacheTTL:    20 * time.Second,
		RetryEvery:  time.Second,
		LogLevel:    "info",
	}
}

// LoadOverrides applies a YAML overlay at path onto cfg. A missing file is
// not an error: cfg (the caller's already-flag-populated value) is returned
// unchanged.
func LoadOverrides(path string, cfg any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}
