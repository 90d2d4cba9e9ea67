package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "secret"
	assert.Equal(t,
		"host=localhost port=5432 dbname=battle64 user=postgres password=secret sslmode=disable connect_timeout=10",
		cfg.DSN(),
	)

	cfg.URL = "postgres://u:p@db:5432/points"
	assert.Equal(t, "postgres://u:p@db:5432/points", cfg.DSN())
}

func TestConfig_PoolConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConns = 7
	cfg.MaxConnIdleTime = 5 * time.Minute

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(7), pc.MaxConns)
	assert.Equal(t, int32(2), pc.MinConns)
	assert.Equal(t, 5*time.Minute, pc.MaxConnIdleTime)
}

func TestMigrations_OrderedAndReversible(t *testing.T) {
	m := NewMigratorWithMigrations(nil, []Migration{
		{Version: 3, Name: "c"},
		{Version: 1, Name: "a"},
		{Version: 2, Name: "b"},
	})
	assert.Equal(t, "a", m.migrations[0].Name)
	assert.Equal(t, "c", m.migrations[2].Name)

	seen := map[int]bool{}
	for i, mig := range GetMigrations() {
		assert.Equal(t, i+1, mig.Version)
		assert.False(t, seen[mig.Version])
		seen[mig.Version] = true
		assert.NotEmpty(t, mig.UpSQL, mig.Name)
		assert.NotEmpty(t, mig.DownSQL, mig.Name)
	}
}
