package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, level)

	level, err = ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewRespectsLevel(t *testing.T) {
	l, err := New(Config{Level: "warn", Service: "powertrack", Env: "test"})
	require.NoError(t, err)

	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	dev, err := New(Config{Development: true})
	require.NoError(t, err)
	assert.True(t, dev.Core().Enabled(zapcore.DebugLevel))

	_, err = New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestInitReplacesGlobal(t *testing.T) {
	t.Cleanup(func() {
		mu.Lock()
		global = nil
		mu.Unlock()
	})

	assert.False(t, L().Core().Enabled(zapcore.ErrorLevel))

	l, err := Init(Config{Level: "error", Encoding: "json"})
	require.NoError(t, err)
	assert.Same(t, l, L())
	assert.True(t, Component("settlement").Core().Enabled(zapcore.ErrorLevel))
	assert.False(t, Component("settlement").Core().Enabled(zapcore.WarnLevel))
}
