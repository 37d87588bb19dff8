package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/recordlink/backend/internal/domain/identity"
	"github.com/recordlink/backend/internal/domain/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableNames(t *testing.T) {
	assert.Equal(t, "mapping_entries", MappingEntryModel{}.TableName())
	assert.Equal(t, "identity_records", IdentityRecordModel{}.TableName())
	assert.Equal(t, "resource_states", ResourceStateModel{}.TableName())
	assert.Len(t, All(), 3)
}

func TestIdentityRecordModel_Conversion(t *testing.T) {
	rec := identity.IdentityRecord{
		IdentityKey: identity.NewIdentityKey("LOCAL", "Patient", "P42"),
		GlobalID:    uuid.New(),
		CreatedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	m := IdentityRecordModelFromDomain(rec)
	assert.Equal(t, "LOCAL", m.Scope)
	assert.Equal(t, "Patient", m.ResourceType)
	assert.Equal(t, "P42", m.BusinessKey)

	assert.Equal(t, rec, *m.ToDomain())
}

func TestMappingEntryModel_Conversion(t *testing.T) {
	entry := identity.MappingEntry{
		MappingType: "NAME_TO_PERSON",
		LocalKey:    "SMITH-JOHN",
		LocalValue:  "P42",
		UpdatedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	assert.Equal(t, entry, *MappingEntryModelFromDomain(entry).ToDomain())
}

func TestResourceStateModel_Conversion(t *testing.T) {
	b := resource.New("Patient", "P42", uuid.New())
	require.NoError(t, b.Set("gender", "M"))

	m, err := ResourceStateModelFromDomain(b)
	require.NoError(t, err)
	assert.Equal(t, b.GlobalID(), m.GlobalID)
	assert.JSONEq(t, `{"fields":{"gender":"M"}}`, m.State)

	restored, err := m.ToDomain()
	require.NoError(t, err)
	gender, ok := restored.Get("gender")
	assert.True(t, ok)
	assert.Equal(t, "M", gender)
}
