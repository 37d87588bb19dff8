package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/recordlink/backend/internal/domain/identity"
	"github.com/recordlink/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormMappingRepository implements identity.MappingRepository using GORM
type GormMappingRepository struct {
	db *gorm.DB
}

// NewGormMappingRepository creates a new GormMappingRepository
func NewGormMappingRepository(db *gorm.DB) *GormMappingRepository {
	return &GormMappingRepository{db: db}
}

// Upsert stores entry, replacing local_value when the pair already exists
func (r *GormMappingRepository) Upsert(ctx context.Context, entry identity.MappingEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}
	model := models.MappingEntryModelFromDomain(entry)

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "mapping_type"}, {Name: "local_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"local_value", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return identity.NewStoreError(identity.ErrCodeStoreWrite, "upsert mapping "+entry.MappingType, err)
	}
	return nil
}

// Find returns the entry for (mappingType, localKey)
func (r *GormMappingRepository) Find(ctx context.Context, mappingType, localKey string) (*identity.MappingEntry, error) {
	var model models.MappingEntryModel
	err := r.db.WithContext(ctx).
		Where("mapping_type = ? AND local_key = ?", mappingType, localKey).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identity.ErrMappingNotFound
		}
		return nil, identity.NewStoreError(identity.ErrCodeStoreRead, "find mapping "+mappingType, err)
	}
	return model.ToDomain(), nil
}

var _ identity.MappingRepository = (*GormMappingRepository)(nil)
