// Package config loads this node's runtime configuration, grounded on
// _examples/tos-network-tos-pool/internal/config/config.go's viper-based
// layered loading (file → environment → defaults, mapstructure tags,
// post-load Validate).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for a p2pool-go node.
type Config struct {
	Node     NodeConfig     `mapstructure:"node"`
	P2P      P2PConfig      `mapstructure:"p2p"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Emission EmissionConfig `mapstructure:"emission"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

// NodeConfig selects the network and on-disk state location.
type NodeConfig struct {
	Network string `mapstructure:"network"`
	DataDir string `mapstructure:"data_dir"`
}

// P2PConfig configures the libp2p transport, discovery and gossip.
type P2PConfig struct {
	ListenPort int      `mapstructure:"listen_port"`
	EnableMDNS bool     `mapstructure:"enable_mdns"`
	Bootnodes  []string `mapstructure:"bootnodes"`
}

// SyncConfig tunes the locator-based sync driver.
type SyncConfig struct {
	PeerSyncInterval time.Duration `mapstructure:"peer_sync_interval"`
}

// EmissionConfig tunes the Stratum→Chain bridge channel.
type EmissionConfig struct {
	ChannelCapacity int `mapstructure:"channel_capacity"`
}

// MetricsConfig configures the Prometheus /metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bind    string `mapstructure:"bind"`
}

// LogConfig configures zap's output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from configPath (if non-empty), then
// P2POOL_-prefixed environment variables, falling back to defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/p2pool-go")
	}

	v.SetEnvPrefix("P2POOL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.network", "signet")
	v.SetDefault("node.data_dir", "./data")

	v.SetDefault("p2p.listen_port", 9735)
	v.SetDefault("p2p.enable_mdns", true)
	v.SetDefault("p2p.bootnodes", []string{})

	v.SetDefault("sync.peer_sync_interval", "30s")

	v.SetDefault("emission.channel_capacity", 256)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.bind", "127.0.0.1:9090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate checks configuration for errors the rest of the program would
// otherwise only discover at startup time via a confusing panic.
func (c *Config) Validate() error {
	switch c.Node.Network {
	case "mainnet", "signet", "testnet4":
	default:
		return fmt.Errorf("node.network %q is not a supported network", c.Node.Network)
	}
	if c.Node.DataDir == "" {
		return fmt.Errorf("node.data_dir is required")
	}
	if c.P2P.ListenPort <= 0 || c.P2P.ListenPort > 65535 {
		return fmt.Errorf("p2p.listen_port must be between 1 and 65535")
	}
	if c.Sync.PeerSyncInterval <= 0 {
		return fmt.Errorf("sync.peer_sync_interval must be positive")
	}
	if c.Emission.ChannelCapacity <= 0 {
		return fmt.Errorf("emission.channel_capacity must be positive")
	}
	return nil
}
