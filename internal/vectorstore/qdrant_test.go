package vectorstore

import (
	"errors"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestQdrantConfigDefaults(t *testing.T) {
	var cfg QdrantConfig
	cfg.ApplyDefaults()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBackoff)
	assert.Equal(t, 50*1024*1024, cfg.MaxMessageSize)
	require.NoError(t, cfg.Validate())
}

func TestQdrantConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     QdrantConfig
		wantErr bool
	}{
		{name: "valid", cfg: QdrantConfig{Host: "localhost", Port: 6334}},
		{name: "missing host", cfg: QdrantConfig{Port: 6334}, wantErr: true},
		{name: "port too high", cfg: QdrantConfig{Host: "localhost", Port: 70000}, wantErr: true},
		{name: "negative port", cfg: QdrantConfig{Host: "localhost", Port: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "unavailable", err: status.Error(grpccodes.Unavailable, "down"), want: true},
		{name: "deadline", err: status.Error(grpccodes.DeadlineExceeded, "slow"), want: true},
		{name: "aborted", err: status.Error(grpccodes.Aborted, "conflict"), want: true},
		{name: "resource exhausted", err: status.Error(grpccodes.ResourceExhausted, "quota"), want: true},
		{name: "not found", err: status.Error(grpccodes.NotFound, "missing"), want: false},
		{name: "invalid argument", err: status.Error(grpccodes.InvalidArgument, "bad"), want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransientError(tt.err))
		})
	}
}

func TestGRPCStatusHelpers(t *testing.T) {
	assert.True(t, isNotFound(status.Error(grpccodes.NotFound, "missing")))
	assert.False(t, isNotFound(status.Error(grpccodes.Internal, "boom")))
	assert.True(t, isAlreadyExists(status.Error(grpccodes.AlreadyExists, "dup")))
	assert.False(t, isAlreadyExists(errors.New("plain")))
}

func TestQdrantDistanceMapping(t *testing.T) {
	assert.Equal(t, qdrant.Distance_Cosine, qdrantDistance(DistanceCosine))
	assert.Equal(t, qdrant.Distance_Euclid, qdrantDistance(DistanceEuclid))
	assert.Equal(t, qdrant.Distance_Dot, qdrantDistance(DistanceDot))
	// Unknown values fall back to cosine.
	assert.Equal(t, qdrant.Distance_Cosine, qdrantDistance(Distance("weird")))
}
