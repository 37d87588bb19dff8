package models

// All returns every persistence model, in dependency order
func All() []any {
	return []any{
		&MappingEntryModel{},
		&IdentityRecordModel{},
		&ResourceStateModel{},
	}
}
