package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewConfig(t *testing.T) {
	prod := newConfig("production", "warn", "json")
	assert.Equal(t, "json", prod.Encoding)
	assert.Equal(t, "timestamp", prod.EncoderConfig.TimeKey)
	assert.Equal(t, zapcore.WarnLevel, prod.Level.Level())
	assert.NotNil(t, prod.Sampling)
	assert.Equal(t, serviceName, prod.InitialFields["service"])

	dev := newConfig("development", "bogus", "console")
	assert.Equal(t, "console", dev.Encoding)
	assert.Equal(t, zapcore.InfoLevel, dev.Level.Level())
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLogLevel(""))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "a***@example.com", MaskEmail("alice@example.com"))
	assert.Equal(t, "***", MaskEmail("no-at-sign"))
	assert.Equal(t, "***", MaskEmail("@example.com"))
}

func TestReplaceRoutesGlobalHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Replace(zap.New(core))
	defer Replace(zap.NewNop())

	Warn("rate limited", Subject("bob@example.com"), Int("attempts", 6))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "rate limited", entry.Message)
	assert.Equal(t, "b***@example.com", entry.ContextMap()["subject"])
	assert.EqualValues(t, 6, entry.ContextMap()["attempts"])

	// Init keeps an already installed logger
	assert.Same(t, Get(), Init("production", "info", "json"))
}
