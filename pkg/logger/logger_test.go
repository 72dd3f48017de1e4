package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xhad/hrrag/pkg/logger"
)

func TestNew(t *testing.T) {
	for _, mode := range []string{"development", "production", ""} {
		l, err := logger.New(mode)
		require.NoError(t, err)
		assert.NotNil(t, l.SugaredLogger)
	}
}

func TestWithAddsFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	l.With("component", "engine").Warn("query log write failed", "error", "boom")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "query log write failed", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "engine", fields["component"])
	assert.Equal(t, "boom", fields["error"])
}

func TestNopDoesNotPanic(t *testing.T) {
	l := logger.NewNop()
	l.Info("hello", "k", 1)
	l.Sync()
}
