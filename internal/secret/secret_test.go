package secret

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretRedaction(t *testing.T) {
	s := Secret("sk-very-secret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "sk-very-secret", s.Value())
	assert.True(t, s.IsSet())

	out, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "very-secret")

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestSecretFormatting(t *testing.T) {
	s := Secret("sk-very-secret")
	assert.NotContains(t, fmt.Sprintf("%v", s), "very-secret")
	assert.NotContains(t, fmt.Sprintf("%+v", s), "very-secret")
	assert.NotContains(t, fmt.Sprintf("%#v", s), "very-secret")
}

func TestSecretInStruct(t *testing.T) {
	type creds struct {
		APIKey Secret `json:"apiKey"`
	}

	c := creds{APIKey: "sk-very-secret"}
	assert.NotContains(t, fmt.Sprintf("%+v", c), "very-secret")

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "very-secret")

	var decoded creds
	require.NoError(t, decoded.APIKey.UnmarshalText([]byte("sk-new")))
	assert.Equal(t, "sk-new", decoded.APIKey.Value())
}
