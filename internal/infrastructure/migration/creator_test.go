package migration

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/recordlink/backend/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"add mapping index", "add_mapping_index"},
		{"Add-Mapping-Index", "add_mapping_index"},
		{"ADD_MAPPING_INDEX", "add_mapping_index"},
		{"add__mapping__index", "add_mapping_index"},
		{"Add Scope 123", "add_scope_123"},
		{"   spaces   ", "spaces"},
		{"special!@#$chars", "specialchars"},
		{"trailing_", "trailing"},
		{"_leading", "leading"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeName(tt.input))
		})
	}
}

func TestCreateMigration(t *testing.T) {
	dir := t.TempDir()

	first, err := CreateMigration(dir, "identity schema", "Create identity tables")
	require.NoError(t, err)
	assert.Equal(t, uint(1), first.Version)
	assert.Equal(t, filepath.Join(dir, "000001_identity_schema.up.sql"), first.UpPath)
	assert.Equal(t, filepath.Join(dir, "000001_identity_schema.down.sql"), first.DownPath)

	up, err := os.ReadFile(first.UpPath)
	require.NoError(t, err)
	assert.Contains(t, string(up), "identity_schema")
	assert.Contains(t, string(up), "Create identity tables")

	down, err := os.ReadFile(first.DownPath)
	require.NoError(t, err)
	assert.Contains(t, string(down), "Rollback")

	second, err := CreateMigration(dir, "add-resource-index", "")
	require.NoError(t, err)
	assert.Equal(t, uint(2), second.Version)

	list, err := ListMigrations(os.DirFS(dir))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "000001_identity_schema", list[0].String())
	assert.Equal(t, "000002_add_resource_index", list[1].String())
}

func TestCreateMigration_InvalidName(t *testing.T) {
	_, err := CreateMigration(t.TempDir(), "!!!", "")
	assert.Error(t, err)
}

func TestListMigrations(t *testing.T) {
	t.Run("orders by version and detects missing down files", func(t *testing.T) {
		fsys := fstest.MapFS{
			"000010_later.up.sql":    {},
			"000002_second.up.sql":   {},
			"000002_second.down.sql": {},
			"README.md":              {},
		}

		list, err := ListMigrations(fsys)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, Migration{Version: 2, Name: "second", HasDown: true}, list[0])
		assert.Equal(t, Migration{Version: 10, Name: "later"}, list[1])

		latest, err := Latest(fsys)
		require.NoError(t, err)
		assert.Equal(t, uint(10), latest)
	})

	t.Run("rejects files without a version", func(t *testing.T) {
		_, err := ListMigrations(fstest.MapFS{"schema.up.sql": {}})
		assert.Error(t, err)
	})

	t.Run("missing directory is empty", func(t *testing.T) {
		list, err := ListMigrations(os.DirFS(filepath.Join(t.TempDir(), "absent")))
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestEmbeddedMigrations(t *testing.T) {
	list, err := ListMigrations(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, list)

	for i, m := range list {
		assert.Equal(t, uint(i+1), m.Version, "versions are contiguous")
		assert.True(t, m.HasDown, "%s has a down migration", m)
	}

	up, err := migrations.FS.ReadFile("000001_identity_schema.up.sql")
	require.NoError(t, err)
	for _, table := range []string{"mapping_entries", "identity_records", "resource_states"} {
		assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS "+table)
	}
}

func TestStatus_Pending(t *testing.T) {
	assert.True(t, Status{Version: 1, Latest: 2}.Pending())
	assert.False(t, Status{Version: 2, Latest: 2}.Pending())
}
