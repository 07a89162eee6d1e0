package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithRequestIDTagsContextLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	Replace(zap.New(core))
	t.Cleanup(func() { Replace(nil) })

	ctx := WithRequestID(context.Background(), "req-42")
	assert.Equal(t, "req-42", GetRequestID(ctx))

	WithContext(ctx).Info("hello")
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-42", entries[0].ContextMap()["request_id"])
}

func TestWithContextFallsBackToGlobal(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	Replace(zap.New(core))
	t.Cleanup(func() { Replace(nil) })

	WithContext(context.Background()).Warn("plain")
	Warn("global")
	assert.Equal(t, 2, logs.Len())
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestInitAcceptsUnknownLevel(t *testing.T) {
	require.NoError(t, Init(Config{Level: "loud", Format: "json", OutputPath: "stderr"}))
	t.Cleanup(func() { Replace(nil) })
	assert.True(t, L().Core().Enabled(zap.InfoLevel))
	assert.False(t, L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, Init(Config{Level: "debug", Format: "console", OutputPath: "stderr"}))
	assert.True(t, L().Core().Enabled(zap.DebugLevel))
	require.NoError(t, Init(Config{Level: "info", Format: "json", OutputPath: "stderr"}))
}
