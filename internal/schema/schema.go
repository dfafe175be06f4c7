// Package schema validates raw LLM text output against a declared shape.
//
// LLM output is noisy: fenced code blocks around the JSON, a bare object
// where an array was requested, missing or mistyped fields. Validate
// tolerates the formatting noise, reconciles array/object mismatches, and
// reports structural violations with per-field detail. It is pure and does
// no I/O.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for validation failures.
var (
	// ErrMalformedOutput indicates the raw text is not parseable JSON.
	ErrMalformedOutput = errors.New("malformed model output")

	// ErrSchemaViolation indicates parseable JSON with the wrong structure.
	ErrSchemaViolation = errors.New("schema violation")
)

// FieldKind is the expected type of a schema field.
type FieldKind int

const (
	KindString FieldKind = iota
	KindNumber
	KindBool
	KindStringList
	KindObjectList
)

// String returns the kind name used in violation messages.
func (k FieldKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindStringList:
		return "string list"
	case KindObjectList:
		return "object list"
	default:
		return "unknown"
	}
}

// Field declares one expected field of an object shape.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool

	// Elem declares the element shape for KindObjectList fields.
	Elem *ObjectShape
}

// Schema is the declared shape of expected model output.
// It is a closed variant: ObjectShape or ArrayShape.
type Schema interface {
	isSchema()
}

// ObjectShape expects a single JSON object with the declared fields.
type ObjectShape struct {
	Fields []Field
}

func (ObjectShape) isSchema() {}

// ArrayShape expects a JSON array whose elements match Elem.
type ArrayShape struct {
	Elem ObjectShape
}

func (ArrayShape) isSchema() {}

// Violation describes a single structural mismatch.
type Violation struct {
	Path     string
	Expected string
	Received string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: expected %s, got %s", v.Path, v.Expected, v.Received)
}

// ViolationError aggregates all violations found in one validation pass.
type ViolationError struct {
	Violations []Violation
}

func (e *ViolationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("%v: %s", ErrSchemaViolation, strings.Join(msgs, "; "))
}

func (e *ViolationError) Unwrap() error {
	return ErrSchemaViolation
}
