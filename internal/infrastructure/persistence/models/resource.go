package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/recordlink/backend/internal/domain/resource"
)

// ResourceStateModel stores the serialized state of a resource builder
type ResourceStateModel struct {
	GlobalID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ResourceType string    `gorm:"type:varchar(100);not null;index"`
	EntityKey    string    `gorm:"type:varchar(512);not null"`
	State        string    `gorm:"type:jsonb;not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ResourceStateModel) TableName() string {
	return "resource_states"
}

// ToDomain restores the builder held by the model
func (m *ResourceStateModel) ToDomain() (*resource.Builder, error) {
	return resource.Restore(m.ResourceType, m.EntityKey, m.GlobalID, []byte(m.State))
}

// ResourceStateModelFromDomain serializes b into a persistence model
func ResourceStateModelFromDomain(b *resource.Builder) (*ResourceStateModel, error) {
	data, err := b.MarshalState()
	if err != nil {
		return nil, err
	}
	return &ResourceStateModel{
		GlobalID:     b.GlobalID(),
		ResourceType: b.ResourceType(),
		EntityKey:    b.EntityKey(),
		State:        string(data),
		UpdatedAt:    time.Now(),
	}, nil
}
