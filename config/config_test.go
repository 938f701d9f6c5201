package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDecode(t *testing.T) {
	path := writeConfig(t, `{
		"main": {"data-folder": "/var/lib/texmesh", "metrics": true},
		"p2p": {
			"listen": "/ip4/127.0.0.1/tcp/7000",
			"bootnodes": ["/ip4/10.0.0.1/tcp/7613/p2p/12D3KooWRkZMjGNrQfRyeKQC9U58cUwAfyQMtjNsupixkBFag8AY"],
			"sync-timeout": "3s",
			"mdns": true,
			"dht": {"enable": true, "period": "5s"}
		},
		"branch": {"recovery-timeout": "1m"},
		"coordinator": {"direct-fanout": 5},
		"checkpoint": {"interval": "10s", "export-dir": "/srv/papers"},
		"logging": {"log-level": "debug", "components": {"crdt": "warn"}}
	}`)
	vip := viper.New()
	require.NoError(t, ReadFile(path, vip))
	cfg := DefaultConfig()
	require.NoError(t, Decode(vip, &cfg))

	require.Equal(t, "/var/lib/texmesh", cfg.DataDir())
	require.True(t, cfg.CollectMetrics)
	require.Equal(t, "/ip4/127.0.0.1/tcp/7000", cfg.P2P.Listen)
	require.Len(t, cfg.P2P.Bootnodes, 1)
	require.Equal(t, 3*time.Second, cfg.P2P.SyncTimeout)
	require.True(t, cfg.P2P.MDNS)
	require.True(t, cfg.P2P.DHT.Enable)
	require.Equal(t, 5*time.Second, cfg.P2P.DHT.Period)
	require.True(t, cfg.P2P.DHT.Public, "unset keys keep defaults")
	require.Equal(t, time.Minute, cfg.Branch.RecoveryTimeout)
	require.Equal(t, 5, cfg.Coordinator.DirectFanout)
	require.Equal(t, 10*time.Second, cfg.Checkpoint.Interval)
	require.Equal(t, "/srv/papers", cfg.Checkpoint.ExportDir)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, map[string]string{"crdt": "warn"}, cfg.Logging.Components)

	defaults := DefaultConfig()
	require.Equal(t, defaults.P2P.SyncAttempts, cfg.P2P.SyncAttempts)
	require.Equal(t, defaults.Coordinator.SnapshotCacheSize, cfg.Coordinator.SnapshotCacheSize)
	require.Equal(t, defaults.CRDT, cfg.CRDT)
}

func TestDecodeUnknownKey(t *testing.T) {
	path := writeConfig(t, `{"p2p": {"listen-address": "/ip4/127.0.0.1/tcp/7000"}}`)
	vip := viper.New()
	require.NoError(t, ReadFile(path, vip))
	cfg := DefaultConfig()
	require.ErrorContains(t, Decode(vip, &cfg), "listen-address")
}

func TestReadMissingFile(t *testing.T) {
	err := ReadFile(filepath.Join(t.TempDir(), "missing.json"), viper.New())
	require.ErrorContains(t, err, "read config file")
}
