package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsEmbedded(t *testing.T) {
	migrations, err := loadMigrations(migrationFiles)
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	assert.Equal(t, 1, migrations[0].version)
	assert.Equal(t, "initial", migrations[0].name)
	assert.Contains(t, migrations[0].sql, "CREATE TABLE IF NOT EXISTS recycle_bin_entries")
	assert.Contains(t, migrations[0].sql, "audit_entries is append-only")
}

func TestLoadMigrationsOrdering(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/010_indexes.up.sql": {Data: []byte("CREATE INDEX b;")},
		"migrations/002_policies.up.sql": {Data: []byte("CREATE TABLE a;")},
		"migrations/README.md":           {Data: []byte("ignored")},
	}

	migrations, err := loadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 2, migrations[0].version)
	assert.Equal(t, "policies", migrations[0].name)
	assert.Equal(t, 10, migrations[1].version)
	assert.Equal(t, 10, lastVersion(migrations))
}

func TestLoadMigrationsRejectsBadNames(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"no name":    {"migrations/003.up.sql": {Data: []byte("")}},
		"bad prefix": {"migrations/abc_x.up.sql": {Data: []byte("")}},
		"duplicate": {
			"migrations/004_a.up.sql":  {Data: []byte("")},
			"migrations/0004_b.up.sql": {Data: []byte("")},
		},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadMigrations(fsys)
			require.Error(t, err)
		})
	}
}
