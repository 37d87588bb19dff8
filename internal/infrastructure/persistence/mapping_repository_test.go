package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/recordlink/backend/internal/domain/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mockTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestGormMappingRepository_UpsertAndFind(t *testing.T) {
	db := newSQLiteDatabase(t)
	repo := NewGormMappingRepository(db.DB)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, identity.MappingEntry{
		MappingType: "NAME_TO_PERSON", LocalKey: "SMITH-JOHN", LocalValue: "P42",
	}))

	got, err := repo.Find(ctx, "NAME_TO_PERSON", "SMITH-JOHN")
	require.NoError(t, err)
	assert.Equal(t, "P42", got.LocalValue)
	assert.False(t, got.UpdatedAt.IsZero())

	t.Run("upsert replaces the value", func(t *testing.T) {
		require.NoError(t, repo.Upsert(ctx, identity.MappingEntry{
			MappingType: "NAME_TO_PERSON", LocalKey: "SMITH-JOHN", LocalValue: "P43",
		}))

		got, err := repo.Find(ctx, "NAME_TO_PERSON", "SMITH-JOHN")
		require.NoError(t, err)
		assert.Equal(t, "P43", got.LocalValue)

		var count int64
		require.NoError(t, db.DB.Table("mapping_entries").Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("mapping types are separate namespaces", func(t *testing.T) {
		_, err := repo.Find(ctx, "NAME_TO_ENCOUNTER", "SMITH-JOHN")
		assert.ErrorIs(t, err, identity.ErrMappingNotFound)
	})
}

func TestGormMappingRepository_StoreUnavailable(t *testing.T) {
	db, mock, mockDB := newMockDatabase(t)
	defer mockDB.Close()

	mock.ExpectExec(`INSERT INTO "mapping_entries" .* ON CONFLICT \("mapping_type","local_key"\) DO UPDATE`).
		WillReturnError(errors.New("connection refused"))
	mock.ExpectQuery(`SELECT \* FROM "mapping_entries"`).
		WillReturnError(errors.New("connection refused"))

	repo := NewGormMappingRepository(db.DB)

	err := repo.Upsert(context.Background(), identity.MappingEntry{MappingType: "T", LocalKey: "k", LocalValue: "v"})
	assert.ErrorIs(t, err, identity.ErrStoreUnavailable)

	_, err = repo.Find(context.Background(), "T", "k")
	assert.ErrorIs(t, err, identity.ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}
