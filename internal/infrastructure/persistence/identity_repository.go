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

// GormIdentityRepository implements identity.IdentityRepository using GORM.
// Uniqueness of (scope, resource_type, business_key) is enforced by the primary key,
// so concurrent writers in separate processes agree on one identifier.
type GormIdentityRepository struct {
	db *gorm.DB
}

// NewGormIdentityRepository creates a new GormIdentityRepository
func NewGormIdentityRepository(db *gorm.DB) *GormIdentityRepository {
	return &GormIdentityRepository{db: db}
}

// Find returns the record stored for key
func (r *GormIdentityRepository) Find(ctx context.Context, key identity.IdentityKey) (*identity.IdentityRecord, error) {
	var model models.IdentityRecordModel
	err := r.db.WithContext(ctx).
		Where("scope = ? AND resource_type = ? AND business_key = ?", key.Scope, key.ResourceType, key.BusinessKey).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identity.ErrIdentityNotFound
		}
		return nil, identity.NewStoreError(identity.ErrCodeStoreRead, "find identity "+key.String(), err)
	}
	return model.ToDomain(), nil
}

// CreateIfAbsent inserts record with ON CONFLICT DO NOTHING. When the insert
// affects no rows another writer owns the key and its record is returned instead.
func (r *GormIdentityRepository) CreateIfAbsent(ctx context.Context, record identity.IdentityRecord) (*identity.IdentityRecord, bool, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	model := models.IdentityRecordModelFromDomain(record)

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model)
	if result.Error != nil {
		return nil, false, identity.NewStoreError(identity.ErrCodeStoreWrite, "create identity "+record.IdentityKey.String(), result.Error)
	}
	if result.RowsAffected > 0 {
		return model.ToDomain(), true, nil
	}

	existing, err := r.Find(ctx, record.IdentityKey)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			// the conflicting row vanished; identity rows are never deleted
			return nil, false, identity.NewStoreError(identity.ErrCodeStoreRead, "reload identity "+record.IdentityKey.String(), err)
		}
		return nil, false, err
	}
	return existing, false, nil
}

var _ identity.IdentityRepository = (*GormIdentityRepository)(nil)
