package logx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewParsesLevel(t *testing.T) {
	l, err := New("warn", "prod")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	_, err = New("loud", "local")
	require.Error(t, err)
}

func TestHelpersWriteAtLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := zap.New(core)
	ctx := context.Background()

	Debug(ctx, l, "d")
	Info(ctx, l, "i", zap.String("order_id", "o-1"))
	Warn(ctx, l, "w")
	Error(ctx, l, "e")

	require.Equal(t, 4, logs.Len())
	entry := logs.All()[1]
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	assert.Equal(t, "o-1", entry.ContextMap()["order_id"])
	_, hasTrace := entry.ContextMap()["trace_id"]
	assert.False(t, hasTrace)
}
