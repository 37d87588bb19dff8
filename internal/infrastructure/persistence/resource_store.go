package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/recordlink/backend/internal/domain/identity"
	"github.com/recordlink/backend/internal/domain/record"
	"github.com/recordlink/backend/internal/domain/resource"
	"github.com/recordlink/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormResourceStore loads and files resource builders as JSON state rows
type GormResourceStore struct {
	db *gorm.DB
}

// NewGormResourceStore creates a new GormResourceStore
func NewGormResourceStore(db *gorm.DB) *GormResourceStore {
	return &GormResourceStore{db: db}
}

// Load returns the previously filed builder for globalID.
// found is false when nothing has been filed yet.
func (s *GormResourceStore) Load(ctx context.Context, entityKey string, globalID uuid.UUID) (*resource.Builder, bool, error) {
	var model models.ResourceStateModel
	err := s.db.WithContext(ctx).Where("global_id = ?", globalID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, identity.NewStoreError(identity.ErrCodeStoreRead,
			fmt.Sprintf("load resource %s (%s)", entityKey, globalID), err)
	}

	b, err := model.ToDomain()
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// File writes the builder state, replacing any earlier version
func (s *GormResourceStore) File(ctx context.Context, entityKey string, globalID uuid.UUID, b *resource.Builder) error {
	if b.GlobalID() != globalID {
		return fmt.Errorf("file resource %s: builder carries id %s, expected %s", entityKey, b.GlobalID(), globalID)
	}
	model, err := models.ResourceStateModelFromDomain(b)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "global_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"entity_key", "state", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return identity.NewStoreError(identity.ErrCodeStoreWrite,
			fmt.Sprintf("file resource %s (%s)", entityKey, globalID), err)
	}
	return nil
}

var _ record.Filer[*resource.Builder] = (*GormResourceStore)(nil)
