// Package record defines the boundary between identity resolution and the feed-specific
// code that reads source records and files built resources.
package record

import (
	"context"

	"github.com/google/uuid"
)

// KeyValue is one business key carried by a source record
type KeyValue struct {
	Key   string
	Value string
}

// SourceRecord is a single row of a source feed as seen by identity resolution
type SourceRecord interface {
	// RecordID identifies the record for error attribution (e.g. file and line)
	RecordID() string

	// MappingType tags the kind of association the record's keys describe
	MappingType() string

	// Keys returns the business key/value pairs carried by the record
	Keys() []KeyValue

	// Active is false for deletion-only records
	Active() bool

	// Field returns a free-form field value used to build external keys
	Field(name string) (string, bool)
}

// Filer persists a built resource under its global identifier
type Filer[B any] interface {
	File(ctx context.Context, entityKey string, globalID uuid.UUID, resource B) error
}

// Static is a SourceRecord backed by plain values
type Static struct {
	ID        string
	Type      string
	KeyValues []KeyValue
	Inactive  bool
	Fields    map[string]string
}

func (r Static) RecordID() string    { return r.ID }
func (r Static) MappingType() string { return r.Type }
func (r Static) Keys() []KeyValue    { return r.KeyValues }
func (r Static) Active() bool        { return !r.Inactive }

func (r Static) Field(name string) (string, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

var _ SourceRecord = Static{}
