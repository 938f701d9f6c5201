// Package log configures zap loggers for texmesh components.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	lp2plog "github.com/ipfs/go-log/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// ConsoleEncoder produces human readable logs.
	ConsoleEncoder = "console"
	// JSONEncoder produces one json object per line.
	JSONEncoder = "json"
)

// Config for logging.
type Config struct {
	Encoder string `mapstructure:"log-encoder"`
	// Level is a default level for all components.
	Level string `mapstructure:"log-level"`
	// P2PLevel overwrites level for libp2p internals, which are very chatty on debug.
	P2PLevel string `mapstructure:"p2p-log-level"`
	// Components overwrite level per named logger, e.g. {"crdt": "debug"}.
	Components map[string]string `mapstructure:"components"`
}

// DefaultConfig for logging.
func DefaultConfig() Config {
	return Config{
		Encoder:  ConsoleEncoder,
		Level:    zapcore.InfoLevel.String(),
		P2PLevel: zapcore.WarnLevel.String(),
	}
}

// where logs go by default.
var logWriter io.Writer = os.Stdout

// New creates a root logger from the config.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Encoder) {
	case JSONEncoder:
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case ConsoleEncoder, "":
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	default:
		return nil, fmt.Errorf("unknown log encoder %q", cfg.Encoder)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(logWriter), zap.NewAtomicLevelAt(zapcore.DebugLevel))
	return zap.New(&leveledCore{Core: core, lvl: level}), nil
}

// Named returns a child logger with a level from cfg.Components when it is set.
func Named(logger *zap.Logger, cfg Config, name string) *zap.Logger {
	named := logger.Named(name)
	lvl, ok := cfg.Components[name]
	if !ok {
		return named
	}
	level, err := zapcore.ParseLevel(lvl)
	if err != nil {
		logger.Warn("invalid component log level",
			zap.String("component", name),
			zap.String("level", lvl),
			zap.Error(err),
		)
		return named
	}
	return named.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		if lc, ok := core.(*leveledCore); ok {
			core = lc.Core
		}
		return &leveledCore{Core: core, lvl: level}
	}))
}

// RedirectLibp2p sends libp2p logs through the given logger core.
func RedirectLibp2p(logger *zap.Logger, cfg Config) error {
	lvl, err := lp2plog.LevelFromString(cfg.P2PLevel)
	if err != nil {
		return fmt.Errorf("parse p2p log level %q: %w", cfg.P2PLevel, err)
	}
	lp2plog.SetPrimaryCore(logger.Core())
	lp2plog.SetAllLoggers(lvl)
	return nil
}

// leveledCore filters entries below lvl, the wrapped core is always enabled.
type leveledCore struct {
	zapcore.Core
	lvl zapcore.Level
}

func (c *leveledCore) Enabled(level zapcore.Level) bool {
	return level >= c.lvl
}

func (c *leveledCore) With(fields []zapcore.Field) zapcore.Core {
	return &leveledCore{Core: c.Core.With(fields), lvl: c.lvl}
}

func (c *leveledCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return ce.AddCore(e, c.Core)
}
