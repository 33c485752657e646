package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk daemon configuration, grounded on the teacher's
// DaemonConfig shape (daemon/network/encryption/peer/nat sections) but
// generalized from one hardcoded peer to a discovery-driven mesh.
type Config struct {
	Daemon struct {
		ListenAddress string `yaml:"listen_address"` // HTTP control API
		TunnelAddress string `yaml:"tunnel_address"`  // TCP address tunnels are accepted on
		LogLevel      string `yaml:"log_level"`
		HostID        string `yaml:"host_id"`
	} `yaml:"daemon"`

	Identity struct {
		KeyPath    string `yaml:"key_path"`
		Passphrase string `yaml:"passphrase"`
	} `yaml:"identity"`

	Encryption struct {
		Key string `yaml:"key"` // hex-encoded pre-shared key, 32 bytes
	} `yaml:"encryption"`

	Discovery struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"discovery"`

	Peer struct {
		Address string `yaml:"address"` // optional static peer to dial at startup
		HostID  string `yaml:"host_id"`
	} `yaml:"peer"`

	Timers struct {
		ConnMgrPeriod    string `yaml:"connmgr_period"`
		MaxPendingAge    string `yaml:"max_pending_age"`
		MaxIdleAge       string `yaml:"max_idle_age"`
		RotationInterval string `yaml:"rotation_interval"` // "" disables automatic rotation
	} `yaml:"timers"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	if cfg.Daemon.ListenAddress == "" {
		cfg.Daemon.ListenAddress = "127.0.0.1:9090"
	}
	if cfg.Daemon.TunnelAddress == "" {
		cfg.Daemon.TunnelAddress = "0.0.0.0:9001"
	}
	if cfg.Daemon.LogLevel == "" {
		cfg.Daemon.LogLevel = "info"
	}
	if cfg.Timers.ConnMgrPeriod == "" {
		cfg.Timers.ConnMgrPeriod = "5s"
	}
	if cfg.Timers.MaxPendingAge == "" {
		cfg.Timers.MaxPendingAge = "25s"
	}
	if cfg.Timers.MaxIdleAge == "" {
		cfg.Timers.MaxIdleAge = "10s"
	}

	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Daemon.HostID == "" {
		return fmt.Errorf("daemon.host_id is required")
	}
	if len(cfg.Encryption.Key) != 64 {
		return fmt.Errorf("encryption.key must be 64 hex characters (32 bytes)")
	}
	return nil
}

func (c *Config) connMgrPeriod() time.Duration      { return parseDurationOr(c.Timers.ConnMgrPeriod, 5*time.Second) }
func (c *Config) connMgrMaxPending() time.Duration  { return parseDurationOr(c.Timers.MaxPendingAge, 25*time.Second) }
func (c *Config) connMgrMaxIdle() time.Duration     { return parseDurationOr(c.Timers.MaxIdleAge, 10*time.Second) }
func (c *Config) connMgrRotationInterval() time.Duration {
	if c.Timers.RotationInterval == "" {
		return 0
	}
	return parseDurationOr(c.Timers.RotationInterval, 0)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
