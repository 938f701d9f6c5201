// Package config contains go-texmesh node configuration definitions.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/texmesh/go-texmesh/branch"
	"github.com/texmesh/go-texmesh/checkpoint"
	"github.com/texmesh/go-texmesh/coordinator"
	"github.com/texmesh/go-texmesh/crdt"
	"github.com/texmesh/go-texmesh/filesystem"
	"github.com/texmesh/go-texmesh/log"
	"github.com/texmesh/go-texmesh/p2p"
)

const defaultDataDirName = "texmesh"

var defaultDataDir = filepath.Join(filesystem.GetUserHomeDirectory(), defaultDataDirName)

// Config defines the top level configuration for a texmesh node.
type Config struct {
	BaseConfig  `mapstructure:"main"`
	Preset      string             `mapstructure:"preset"`
	P2P         p2p.Config         `mapstructure:"p2p"`
	CRDT        crdt.Config        `mapstructure:"crdt"`
	Branch      branch.Config      `mapstructure:"branch"`
	Coordinator coordinator.Config `mapstructure:"coordinator"`
	Checkpoint  checkpoint.Config  `mapstructure:"checkpoint"`
	Logging     log.Config         `mapstructure:"logging"`
}

// BaseConfig defines the default configuration options for the node.
type BaseConfig struct {
	DataDirParent string `mapstructure:"data-folder"`
	FileLock      string `mapstructure:"filelock"`

	DatabaseConnections     int  `mapstructure:"db-connections"`
	DatabaseLatencyMetering bool `mapstructure:"db-latency-metering"`
	DatabaseVacuum          bool `mapstructure:"db-vacuum"`

	CollectMetrics bool   `mapstructure:"metrics"`
	MetricsAddress string `mapstructure:"metrics-address"`
}

// DataDir returns the absolute path to use for the node's data.
func (cfg *BaseConfig) DataDir() string {
	return filesystem.GetCanonicalPath(cfg.DataDirParent)
}

// DefaultConfig returns the default configuration for a texmesh node.
func DefaultConfig() Config {
	return Config{
		BaseConfig:  defaultBaseConfig(),
		P2P:         p2p.DefaultConfig(),
		CRDT:        crdt.DefaultConfig(),
		Branch:      branch.DefaultConfig(),
		Coordinator: coordinator.DefaultConfig(),
		Checkpoint:  checkpoint.DefaultConfig(),
		Logging:     log.DefaultConfig(),
	}
}

func defaultBaseConfig() BaseConfig {
	return BaseConfig{
		DataDirParent:       defaultDataDir,
		FileLock:            filepath.Join(defaultDataDir, "LOCK"),
		DatabaseConnections: 16,
		MetricsAddress:      "127.0.0.1:7614",
	}
}

// ReadFile reads the config file into vip.
func ReadFile(path string, vip *viper.Viper) error {
	vip.SetConfigFile(path)
	if err := vip.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	return nil
}

// Decode unmarshals values loaded into vip on top of cfg. Fields missing in vip keep
// their current values, unknown keys are an error.
func Decode(vip *viper.Viper, cfg *Config) error {
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)
	opts := []viper.DecoderConfigOption{
		viper.DecodeHook(hook),
		withIgnoreUntagged(),
		withErrorUnused(),
	}
	if err := vip.Unmarshal(cfg, opts...); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func withIgnoreUntagged() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.IgnoreUntaggedFields = true
	}
}

func withErrorUnused() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
	}
}
