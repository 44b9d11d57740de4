package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		env   string
		level string
		want  zapcore.Level
	}{
		{"production", "info", zapcore.InfoLevel},
		{"development", "debug", zapcore.DebugLevel},
		{"staging", "warn", zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			l, err := New(tt.env, tt.level)
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.want))
			assert.False(t, l.Core().Enabled(tt.want-1))
		})
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("development", "loud")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestGooseAdapter_Printf(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	adapter := NewGooseAdapter(zap.New(core))

	adapter.Printf("OK   %s (%s)", "00001_create_users.sql", "1ms")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "OK   00001_create_users.sql (1ms)", entries[0].Message)
	assert.Equal(t, "migrations", entries[0].LoggerName)
}
