package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	prev := logWriter
	logWriter = &buf
	t.Cleanup(func() { logWriter = prev })
	return &buf
}

func TestNew(t *testing.T) {
	t.Run("invalid level", func(t *testing.T) {
		_, err := New(Config{Level: "loud"})
		require.Error(t, err)
	})
	t.Run("invalid encoder", func(t *testing.T) {
		_, err := New(Config{Level: "info", Encoder: "xml"})
		require.Error(t, err)
	})
	t.Run("level filters", func(t *testing.T) {
		buf := captureLogs(t)
		logger, err := New(Config{Level: "info", Encoder: JSONEncoder})
		require.NoError(t, err)
		logger.Debug("hidden")
		logger.Info("visible")
		require.NoError(t, logger.Sync())
		require.NotContains(t, buf.String(), "hidden")
		require.Contains(t, buf.String(), "visible")
	})
}

func TestNamedComponentLevel(t *testing.T) {
	buf := captureLogs(t)
	cfg := Config{
		Level:      "info",
		Encoder:    JSONEncoder,
		Components: map[string]string{"crdt": "debug", "p2p": "nonsense"},
	}
	logger, err := New(cfg)
	require.NoError(t, err)

	Named(logger, cfg, "crdt").Debug("crdt debug")
	Named(logger, cfg, "branch").Debug("branch debug")
	Named(logger, cfg, "p2p").Info("p2p info")
	require.Contains(t, buf.String(), "crdt debug")
	require.NotContains(t, buf.String(), "branch debug")
	require.Contains(t, buf.String(), "invalid component log level")
	require.Contains(t, buf.String(), "p2p info")
}

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	_, ok := ExtractRequestID(ctx)
	require.False(t, ok)
	require.Empty(t, ContextFields(ctx))

	ctx = WithNewRequestID(ctx, zap.String("topic", "operations"))
	id, ok := ExtractRequestID(ctx)
	require.True(t, ok)
	require.NotEmpty(t, id)
	require.Len(t, ContextFields(ctx), 2)
}

func TestFatalError(t *testing.T) {
	reason := context.DeadlineExceeded
	err := ErrRetrieveIdentity(reason)
	require.ErrorIs(t, err, reason)
	require.Equal(t, "ERR_RETRIEVE_IDENTITY", err.Code)
	require.Contains(t, err.Error(), "could not retrieve identity")
}
