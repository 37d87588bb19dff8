// Package resource holds the mutable target-record builder that accumulates
// fields from several source feeds before it is filed under its global identifier.
package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// ErrEmptyField is returned when a field name is blank
var ErrEmptyField = errors.New("resource: field name is required")

// Builder accumulates the fields of one target resource during a run.
// A builder is shared by every caller that asks the cache for its entity key,
// so all methods lock.
type Builder struct {
	mu           sync.Mutex
	globalID     uuid.UUID
	resourceType string
	entityKey    string
	fields       map[string]any
	lists        map[string][]any
	removed      map[string]bool
	revision     int
}

// New creates an empty builder for a freshly minted or newly seen resource
func New(resourceType, entityKey string, globalID uuid.UUID) *Builder {
	return &Builder{
		globalID:     globalID,
		resourceType: resourceType,
		entityKey:    entityKey,
		fields:       make(map[string]any),
		lists:        make(map[string][]any),
		removed:      make(map[string]bool),
	}
}

// GlobalID returns the identifier the resource is filed under
func (b *Builder) GlobalID() uuid.UUID { return b.globalID }

// ResourceType returns the target resource type, e.g. "Patient"
func (b *Builder) ResourceType() string { return b.resourceType }

// EntityKey returns the run-local key the builder is cached under
func (b *Builder) EntityKey() string { return b.entityKey }

// Set replaces a scalar field
func (b *Builder) Set(field string, value any) error {
	if field == "" {
		return ErrEmptyField
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fields[field] = value
	delete(b.removed, field)
	b.revision++
	return nil
}

// Append adds value to a repeated field unless an equal value is already present
func (b *Builder) Append(field string, value any) error {
	if field == "" {
		return ErrEmptyField
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.lists[field] {
		if existing == value {
			return nil
		}
	}
	b.lists[field] = append(b.lists[field], value)
	delete(b.removed, field)
	b.revision++
	return nil
}

// Remove clears a field and records the removal, so deletion-only records
// survive a save and reload.
func (b *Builder) Remove(field string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.fields, field)
	delete(b.lists, field)
	b.removed[field] = true
	b.revision++
}

// Get returns a scalar field
func (b *Builder) Get(field string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.fields[field]
	return v, ok
}

// List returns a copy of a repeated field
func (b *Builder) List(field string) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.lists[field])
}

// Removed reports whether field was explicitly removed
func (b *Builder) Removed(field string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removed[field]
}

// Revision counts mutations since the builder was created or restored
func (b *Builder) Revision() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revision
}

type state struct {
	Fields  map[string]any   `json:"fields,omitempty"`
	Lists   map[string][]any `json:"lists,omitempty"`
	Removed []string         `json:"removed,omitempty"`
}

// MarshalState serialises the builder contents for persistence
func (b *Builder) MarshalState() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := slices.Sorted(maps.Keys(b.removed))
	data, err := json.Marshal(state{Fields: b.fields, Lists: b.lists, Removed: removed})
	if err != nil {
		return nil, fmt.Errorf("resource: marshal %s %s: %w", b.resourceType, b.globalID, err)
	}
	return data, nil
}

// Restore rebuilds a builder from state written by MarshalState
func Restore(resourceType, entityKey string, globalID uuid.UUID, data []byte) (*Builder, error) {
	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("resource: restore %s %s: %w", resourceType, globalID, err)
	}

	b := New(resourceType, entityKey, globalID)
	if s.Fields != nil {
		b.fields = s.Fields
	}
	if s.Lists != nil {
		b.lists = s.Lists
	}
	for _, f := range s.Removed {
		b.removed[f] = true
	}
	return b, nil
}
