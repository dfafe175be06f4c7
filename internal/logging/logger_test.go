package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "defaults are valid", config: *DefaultConfig(), wantErr: false},
		{name: "console format", config: Config{Level: "debug", Format: "console"}, wantErr: false},
		{name: "bad level", config: Config{Level: "loud", Format: "json"}, wantErr: true},
		{name: "bad format", config: Config{Level: "info", Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(&Config{Level: "warn", Format: "json", Fields: map[string]string{"service": "veldt"}})
	require.NoError(t, err)

	assert.False(t, logger.Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Enabled(zapcore.WarnLevel))
}

func TestNewLoggerNilConfigUsesDefaults(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
}

func TestChildLoggers(t *testing.T) {
	logger := NewNop()
	child := logger.Named("labeling").With()
	require.NotNil(t, child)
	assert.NotSame(t, logger, child)
}
