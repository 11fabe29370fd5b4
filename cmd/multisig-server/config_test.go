package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Listen)
	require.Equal(t, time.Minute, cfg.BroadcastTick())
	require.Equal(t, time.Second, cfg.RPCTimeout())
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"listen": ":9000",
		"nodeUrl": "http://node:9053",
		"broadcastTickMs": 5000,
		"network": "testnet"
	}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Listen)
	require.Equal(t, "http://node:9053", cfg.NodeURL)
	require.Equal(t, 5*time.Second, cfg.BroadcastTick())
	require.Equal(t, "testnet", cfg.Network)
	// Untouched fields keep their defaults.
	require.Equal(t, "http://127.0.0.1:9055", cfg.EngineURL)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"broadcastTickMs": -1}`), 0o600))

	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "broadcast tick")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
