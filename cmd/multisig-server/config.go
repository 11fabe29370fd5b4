package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the server configuration, loaded from a JSON file and overridable
// by flags.
type Config struct {
	Listen          string `json:"listen"`
	NodeURL         string `json:"nodeUrl"`
	EngineURL       string `json:"engineUrl"`
	Network         string `json:"network"`
	SnapshotPath    string `json:"snapshotPath"`
	BroadcastTickMS int    `json:"broadcastTickMs"`
	RPCTimeoutMS    int    `json:"rpcTimeoutMs"`
	LogLevel        string `json:"logLevel"`
}

// DefaultConfig mirrors the original deployment defaults: a one-minute
// broadcast sweep and short node RPC timeouts.
func DefaultConfig() Config {
	return Config{
		Listen:          ":8080",
		NodeURL:         "http://127.0.0.1:9053",
		EngineURL:       "http://127.0.0.1:9055",
		Network:         "mainnet",
		SnapshotPath:    "",
		BroadcastTickMS: 60_000,
		RPCTimeoutMS:    1_000,
		LogLevel:        "info",
	}
}

// LoadConfig reads path over the defaults. An empty path returns defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.NodeURL == "" {
		return fmt.Errorf("config: node URL is required")
	}
	if c.EngineURL == "" {
		return fmt.Errorf("config: engine URL is required")
	}
	if c.BroadcastTickMS <= 0 {
		return fmt.Errorf("config: broadcast tick must be positive")
	}
	if c.RPCTimeoutMS <= 0 {
		return fmt.Errorf("config: rpc timeout must be positive")
	}
	return nil
}

func (c Config) BroadcastTick() time.Duration { return time.Duration(c.BroadcastTickMS) * time.Millisecond }
func (c Config) RPCTimeout() time.Duration    { return time.Duration(c.RPCTimeoutMS) * time.Millisecond }
