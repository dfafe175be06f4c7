package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

const malformedSnippetLimit = 120

// Validate parses raw model output and validates it against shape.
//
// A single fenced code block wrapping the payload is stripped regardless of
// its language tag. If shape expects an array but the payload is a single
// object, the object is wrapped in a one-element array. If shape expects an
// object but the payload is a non-empty array, the first element is taken
// and the rest discarded; this is lossy on purpose and not an error.
//
// The returned value is a map[string]any for ObjectShape and a
// []map[string]any for ArrayShape.
func Validate(raw string, shape Schema) (any, error) {
	text := stripCodeFence(strings.TrimSpace(raw))

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v in %q", ErrMalformedOutput, err, snippet(text))
	}

	switch s := shape.(type) {
	case ObjectShape:
		return validateAsObject(parsed, s)
	case *ObjectShape:
		return validateAsObject(parsed, *s)
	case ArrayShape:
		return validateAsArray(parsed, s)
	case *ArrayShape:
		return validateAsArray(parsed, *s)
	default:
		return nil, fmt.Errorf("%w: unsupported schema variant %T", ErrSchemaViolation, shape)
	}
}

func validateAsObject(parsed any, shape ObjectShape) (map[string]any, error) {
	// Reconcile: take the first element of a non-empty array.
	if list, ok := parsed.([]any); ok {
		if len(list) == 0 {
			return nil, &ViolationError{Violations: []Violation{
				{Path: "$", Expected: "object", Received: "empty array"},
			}}
		}
		parsed = list[0]
	}

	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, &ViolationError{Violations: []Violation{
			{Path: "$", Expected: "object", Received: typeName(parsed)},
		}}
	}

	var violations []Violation
	validateObject(obj, shape, "$", &violations)
	if len(violations) > 0 {
		return nil, &ViolationError{Violations: violations}
	}
	return obj, nil
}

func validateAsArray(parsed any, shape ArrayShape) ([]map[string]any, error) {
	// Reconcile: wrap a bare object into a one-element array.
	if obj, ok := parsed.(map[string]any); ok {
		parsed = []any{obj}
	}

	list, ok := parsed.([]any)
	if !ok {
		return nil, &ViolationError{Violations: []Violation{
			{Path: "$", Expected: "array", Received: typeName(parsed)},
		}}
	}

	var violations []Violation
	out := make([]map[string]any, 0, len(list))
	for i, elem := range list {
		path := fmt.Sprintf("$[%d]", i)
		obj, ok := elem.(map[string]any)
		if !ok {
			violations = append(violations, Violation{Path: path, Expected: "object", Received: typeName(elem)})
			continue
		}
		validateObject(obj, shape.Elem, path, &violations)
		out = append(out, obj)
	}
	if len(violations) > 0 {
		return nil, &ViolationError{Violations: violations}
	}
	return out, nil
}

func validateObject(obj map[string]any, shape ObjectShape, path string, violations *[]Violation) {
	for _, field := range shape.Fields {
		fieldPath := path + "." + field.Name
		value, present := obj[field.Name]

		if !present || value == nil {
			if field.Required {
				*violations = append(*violations, Violation{Path: fieldPath, Expected: field.Kind.String(), Received: "missing or null"})
			}
			continue
		}

		switch field.Kind {
		case KindString:
			if _, ok := value.(string); !ok {
				*violations = append(*violations, Violation{Path: fieldPath, Expected: "string", Received: typeName(value)})
			}
		case KindNumber:
			if _, ok := value.(float64); !ok {
				*violations = append(*violations, Violation{Path: fieldPath, Expected: "number", Received: typeName(value)})
			}
		case KindBool:
			if _, ok := value.(bool); !ok {
				*violations = append(*violations, Violation{Path: fieldPath, Expected: "bool", Received: typeName(value)})
			}
		case KindStringList:
			list, ok := value.([]any)
			if !ok {
				*violations = append(*violations, Violation{Path: fieldPath, Expected: "string list", Received: typeName(value)})
				continue
			}
			for i, elem := range list {
				if _, ok := elem.(string); !ok {
					*violations = append(*violations, Violation{
						Path:     fmt.Sprintf("%s[%d]", fieldPath, i),
						Expected: "string",
						Received: typeName(elem),
					})
				}
			}
		case KindObjectList:
			list, ok := value.([]any)
			if !ok {
				*violations = append(*violations, Violation{Path: fieldPath, Expected: "object list", Received: typeName(value)})
				continue
			}
			for i, elem := range list {
				elemPath := fmt.Sprintf("%s[%d]", fieldPath, i)
				obj, ok := elem.(map[string]any)
				if !ok {
					*violations = append(*violations, Violation{Path: elemPath, Expected: "object", Received: typeName(elem)})
					continue
				}
				if field.Elem != nil {
					validateObject(obj, *field.Elem, elemPath, violations)
				}
			}
		}
	}
}

// stripCodeFence removes one leading/trailing fenced code block, keeping the
// payload. The language tag after the opening fence is ignored.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}

	rest := text[len("```"):]
	// Drop the language tag line (e.g. "json") if present.
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(rest[:idx])
		if !strings.ContainsAny(firstLine, "{}[]\"") {
			rest = rest[idx+1:]
		}
	}

	rest = strings.TrimSuffix(strings.TrimSpace(rest), "```")
	return strings.TrimSpace(rest)
}

func snippet(text string) string {
	if len(text) > malformedSnippetLimit {
		return text[:malformedSnippetLimit] + "..."
	}
	return text
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "bool"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
