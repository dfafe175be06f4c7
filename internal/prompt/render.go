// Package prompt renders labeling prompt templates.
//
// Rendering is a pure collaborator: template in, variables in, string out.
// Templates use Go template syntax ({{.chunk}}, {{.globalPrompt}}).
package prompt

import (
	"fmt"

	"github.com/tmc/langchaingo/prompts"
)

// Render renders template with vars. A syntactically invalid template is
// an error; variables the template references must be present in vars.
func Render(template string, vars map[string]any) (string, error) {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}

	tmpl := prompts.PromptTemplate{
		Template:       template,
		InputVariables: names,
		TemplateFormat: prompts.TemplateFormatGoTemplate,
	}

	out, err := tmpl.Format(vars)
	if err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return out, nil
}
