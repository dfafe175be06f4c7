package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	out, err := Render("Analyze this chunk:\n{{.chunk}}\n\nProject context: {{.globalPrompt}}", map[string]any{
		"chunk":        "AI chips improve cloud efficiency",
		"globalPrompt": "Focus on technology entities.",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "AI chips improve cloud efficiency")
	assert.Contains(t, out, "Focus on technology entities.")
}

func TestRenderInvalidTemplate(t *testing.T) {
	_, err := Render("{{.chunk", map[string]any{"chunk": "x"})
	assert.Error(t, err)
}

func TestRenderNoVariables(t *testing.T) {
	out, err := Render("static prompt", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "static prompt", out)
}
