package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, "veldtd", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestConfigValidate(t *testing.T) {
	disabled := Config{}
	require.NoError(t, disabled.Validate())

	bad := Config{Enabled: true, Endpoint: "localhost:4317", SampleRate: 1.5}
	require.Error(t, bad.Validate())

	noEndpoint := Config{Enabled: true}
	require.Error(t, noEndpoint.Validate())
}

func TestDisabledTelemetryIsNoop(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	degraded, reason := tel.Degraded()
	assert.False(t, degraded)
	assert.Empty(t, reason)

	require.NoError(t, tel.Shutdown(context.Background()))
}
