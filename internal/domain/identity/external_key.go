package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// KeyTransform is applied to a field value before it becomes part of an external key
type KeyTransform int

const (
	// Verbatim keeps the value unchanged
	Verbatim KeyTransform = iota
	// Upper upper-cases the value
	Upper
	// StripWhitespace removes every whitespace rune
	StripWhitespace
	// UpperStrip upper-cases the value and removes every whitespace rune
	UpperStrip
)

// ExternalKeyField is one component of an external key
type ExternalKeyField struct {
	Name      string
	Transform KeyTransform
}

// ExternalKeySpec reproduces the key encoding of an external identity authority.
// Field order and separator are significant: any divergence yields a different key
// and therefore a second identity for the same entity.
type ExternalKeySpec struct {
	Separator string
	Fields    []ExternalKeyField
}

// NewExternalKeySpec creates a spec joining the given fields with sep
func NewExternalKeySpec(sep string, fields ...ExternalKeyField) ExternalKeySpec {
	return ExternalKeySpec{Separator: sep, Fields: fields}
}

// FieldNames returns the component names in key order
func (s ExternalKeySpec) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Build encodes values into the external key. A field that is absent or empty after
// its transform yields a *MissingComponentError.
func (s ExternalKeySpec) Build(values map[string]string) (string, error) {
	// cases.Caser is stateful; one per call
	upper := cases.Upper(language.Und)

	parts := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		v := applyTransform(upper, f.Transform, values[f.Name])
		if v == "" {
			return "", &MissingComponentError{Field: f.Name}
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, s.Separator), nil
}

func applyTransform(upper cases.Caser, t KeyTransform, v string) string {
	switch t {
	case Upper:
		return upper.String(v)
	case StripWhitespace:
		return stripWhitespace(v)
	case UpperStrip:
		return stripWhitespace(upper.String(v))
	default:
		return v
	}
}

func stripWhitespace(v string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, v)
}
