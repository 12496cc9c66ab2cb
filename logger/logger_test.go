package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSecurityEventIsErrorLevelAndTagged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core))

	SecurityEvent(l, "replay detected", map[string]any{"nonce": "0xabc"})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	ctx := entries[0].ContextMap()
	assert.Equal(t, true, ctx["security_event"])
	assert.Equal(t, "0xabc", ctx["nonce"])
}

func TestSecurityEventDoesNotMutateFields(t *testing.T) {
	fields := map[string]any{"nonce": "n"}
	SecurityEvent(NoopLogger{}, "x", fields)
	_, tagged := fields["security_event"]
	assert.False(t, tagged)
}

func TestNewZapLoggerUnknownLevel(t *testing.T) {
	l := NewZapLogger("verbose")
	require.NotNil(t, l)
	l.Debug("dropped", nil)
}
