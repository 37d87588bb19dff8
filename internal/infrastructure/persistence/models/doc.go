// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain types to keep the domain layer free of ORM concerns.
//
// Structure:
//   - base.go: model registry used by AutoMigrate in tests and development runs
//   - identity.go: mapping entries and identity records
//   - resource.go: serialized resource builder state
//
// Production schemas are owned by the SQL migrations under migrations/.
package models
