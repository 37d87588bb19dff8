package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/recordlink/backend/internal/domain/identity"
)

// MappingEntryModel is the persistence model for one key/value mapping.
// The (mapping_type, local_key) pair is unique and upserts replace local_value.
type MappingEntryModel struct {
	MappingType string    `gorm:"type:varchar(100);primaryKey"`
	LocalKey    string    `gorm:"type:varchar(512);primaryKey"`
	LocalValue  string    `gorm:"type:text;not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (MappingEntryModel) TableName() string {
	return "mapping_entries"
}

// ToDomain converts the persistence model to a domain MappingEntry
func (m *MappingEntryModel) ToDomain() *identity.MappingEntry {
	return &identity.MappingEntry{
		MappingType: m.MappingType,
		LocalKey:    m.LocalKey,
		LocalValue:  m.LocalValue,
		UpdatedAt:   m.UpdatedAt,
	}
}

// MappingEntryModelFromDomain creates a persistence model from a domain MappingEntry
func MappingEntryModelFromDomain(e identity.MappingEntry) *MappingEntryModel {
	return &MappingEntryModel{
		MappingType: e.MappingType,
		LocalKey:    e.LocalKey,
		LocalValue:  e.LocalValue,
		UpdatedAt:   e.UpdatedAt,
	}
}

// IdentityRecordModel is the persistence model for a minted global identifier.
// Rows are insert-only; the composite primary key is the uniqueness guarantee.
type IdentityRecordModel struct {
	Scope        string    `gorm:"type:varchar(100);primaryKey"`
	ResourceType string    `gorm:"type:varchar(100);primaryKey"`
	BusinessKey  string    `gorm:"type:varchar(512);primaryKey"`
	GlobalID     uuid.UUID `gorm:"type:uuid;not null;index"`
	CreatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (IdentityRecordModel) TableName() string {
	return "identity_records"
}

// ToDomain converts the persistence model to a domain IdentityRecord
func (m *IdentityRecordModel) ToDomain() *identity.IdentityRecord {
	return &identity.IdentityRecord{
		IdentityKey: identity.NewIdentityKey(m.Scope, m.ResourceType, m.BusinessKey),
		GlobalID:    m.GlobalID,
		CreatedAt:   m.CreatedAt,
	}
}

// IdentityRecordModelFromDomain creates a persistence model from a domain IdentityRecord
func IdentityRecordModelFromDomain(r identity.IdentityRecord) *IdentityRecordModel {
	return &IdentityRecordModel{
		Scope:        r.Scope,
		ResourceType: r.ResourceType,
		BusinessKey:  r.BusinessKey,
		GlobalID:     r.GlobalID,
		CreatedAt:    r.CreatedAt,
	}
}
