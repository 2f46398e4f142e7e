package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("development"))
}

func TestGet_BeforeInitIsNoop(t *testing.T) {
	mu.Lock()
	prev := global
	global = nil
	mu.Unlock()
	defer func() {
		mu.Lock()
		global = prev
		mu.Unlock()
	}()

	l := Get()
	require.NotNil(t, l)
	l.Info("discarded")
}

func TestInit_SetsGlobal(t *testing.T) {
	require.NoError(t, Init(&Config{Level: "debug", ServiceName: "checkout-test"}))
	assert.True(t, Get().Core().Enabled(zapcore.DebugLevel))
}

func TestWith_KeepsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := New(zap.New(core)).With(zap.String("event_id", "evt-1"))

	l.Info("reserved")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "reserved", entries[0].Message)
	assert.Equal(t, "evt-1", entries[0].ContextMap()["event_id"])
}
