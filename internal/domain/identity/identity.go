package identity

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MappingEntry associates a feed-local key with a local value under a mapping type.
// (MappingType, LocalKey) is unique; later writes replace earlier ones.
type MappingEntry struct {
	MappingType string
	LocalKey    string
	LocalValue  string
	UpdatedAt   time.Time
}

// IdentityKey addresses one identity record
type IdentityKey struct {
	Scope        string
	ResourceType string
	BusinessKey  string
}

// NewIdentityKey creates an identity key
func NewIdentityKey(scope, resourceType, businessKey string) IdentityKey {
	return IdentityKey{
		Scope:        scope,
		ResourceType: resourceType,
		BusinessKey:  businessKey,
	}
}

// Validate checks that every component of the key is set
func (k IdentityKey) Validate() error {
	switch {
	case strings.TrimSpace(k.Scope) == "":
		return ErrEmptyScope
	case strings.TrimSpace(k.ResourceType) == "":
		return ErrEmptyResourceType
	case k.BusinessKey == "":
		return ErrEmptyBusinessKey
	}
	return nil
}

// String returns the key in scope/type/key form
func (k IdentityKey) String() string {
	return k.Scope + "/" + k.ResourceType + "/" + k.BusinessKey
}

// IdentityRecord binds an identity key to its global identifier.
// Once created the GlobalID of a key never changes.
type IdentityRecord struct {
	IdentityKey
	GlobalID  uuid.UUID
	CreatedAt time.Time
}

// MappingRepository is the backing store contract beneath the key-value map store
type MappingRepository interface {
	// Upsert writes the entry, replacing any existing value for the same pair
	Upsert(ctx context.Context, entry MappingEntry) error

	// Find returns the entry for the pair, or ErrMappingNotFound
	Find(ctx context.Context, mappingType, localKey string) (*MappingEntry, error)
}

// IdentityRepository is the backing store contract beneath the identity authority
type IdentityRepository interface {
	// Find returns the record for the key, or ErrIdentityNotFound
	Find(ctx context.Context, key IdentityKey) (*IdentityRecord, error)

	// CreateIfAbsent atomically stores the record unless the key already exists.
	// It returns the record that is stored after the call and whether this call created it.
	CreateIfAbsent(ctx context.Context, record IdentityRecord) (*IdentityRecord, bool, error)
}
