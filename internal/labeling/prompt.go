package labeling

import (
	"fmt"

	"github.com/veldtlabs/veldt/internal/schema"
	"github.com/veldtlabs/veldt/internal/store"
)

// DefaultPromptTemplate asks the model to label one chunk. The response
// contract mirrors DocumentAnalysisShape exactly; the validator is the
// source of truth for what is accepted. Project-level prompt fragments
// render before the chunk text when present.
const DefaultPromptTemplate = `You are a knowledge extraction engine. Analyze the text below and respond with a single JSON object, no prose, no code fences.
{{if .globalPrompt}}
Project context:
{{.globalPrompt}}
{{end}}{{if .domainPrompt}}
Domain guidance:
{{.domainPrompt}}
{{end}}
The object must have these fields:
- "summary": one or two sentences describing the text
- "domain": the broad subject area
- "subDomain": the narrower topic within the domain
- "tags": a list of short lowercase keywords (may be empty)
- "entities": a list of objects with "type", "name" and "normalizedId", where normalizedId is a stable lowercase identifier for the entity (may be empty)
- "relations": a list of objects with "source", "target" and "label", where source and target are normalizedIds from the entities list (may be empty)

Text:
{{.content}}`

// analysis is the validated labeling result for one chunk.
type analysis struct {
	metadata  store.ChunkMetadata
	entities  []store.ExtractedEntity
	relations []store.ExtractedRelation
}

// buildAnalysis converts a validated response object into typed rows.
// The object has already passed shape validation, so field types are
// trusted here.
func buildAnalysis(obj map[string]any) analysis {
	a := analysis{
		metadata: store.ChunkMetadata{
			Summary:   stringField(obj, schema.FieldSummary),
			Domain:    stringField(obj, schema.FieldDomain),
			SubDomain: stringField(obj, schema.FieldSubDomain),
		},
	}

	if raw, ok := obj[schema.FieldTags].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok && s != "" {
				a.metadata.Tags = append(a.metadata.Tags, s)
			}
		}
	}

	if raw, ok := obj[schema.FieldEntities].([]any); ok {
		for _, e := range raw {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}
			a.entities = append(a.entities, store.ExtractedEntity{
				Type:         stringField(m, "type"),
				SurfaceName:  stringField(m, "name"),
				NormalizedID: stringField(m, "normalizedId"),
			})
		}
	}

	if raw, ok := obj[schema.FieldRelations].([]any); ok {
		for _, r := range raw {
			m, ok := r.(map[string]any)
			if !ok {
				continue
			}
			a.relations = append(a.relations, store.ExtractedRelation{
				SourceNormalizedID: stringField(m, "source"),
				TargetNormalizedID: stringField(m, "target"),
				Label:              stringField(m, "label"),
			})
		}
	}

	return a
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// correctionPrompt asks the model to repair an invalid response.
func correctionPrompt(raw string, err error) string {
	return fmt.Sprintf(`Your previous response was not valid:

%v

Previous response:
%s

Respond again with only the corrected JSON object, following the original field contract exactly.`, err, raw)
}
