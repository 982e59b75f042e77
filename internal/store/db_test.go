package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndMigrate_CreatesTables(t *testing.T) {
	db, err := OpenAndMigrate(context.Background(), MemoryPath)
	require.NoError(t, err)
	defer db.Close()

	var names []string
	err = db.Select(&names, `SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('users', 'orders', 'webhook_events', 'idempotency_keys') ORDER BY name`)
	require.NoError(t, err)
	assert.Equal(t, []string{"idempotency_keys", "orders", "users", "webhook_events"}, names)

	// running again is a no-op
	require.NoError(t, Migrate(db))
}

func TestIsUniqueViolation(t *testing.T) {
	db, err := OpenAndMigrate(context.Background(), MemoryPath)
	require.NoError(t, err)
	defer db.Close()

	insert := `INSERT INTO users (email, password_hash, password_salt, created_at) VALUES (?, 'h', 's', ?)`
	_, err = db.Exec(insert, "a@b.com", Now())
	require.NoError(t, err)

	_, err = db.Exec(insert, "a@b.com", Now())
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsUniqueViolation(context.Canceled))
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{
		0:     DefaultLimit,
		-3:    1,
		1:     1,
		10:    10,
		200:   200,
		10000: MaxLimit,
	}
	for in, want := range cases {
		assert.Equal(t, want, ClampLimit(in), "limit %d", in)
	}
}

func TestBuildDSN(t *testing.T) {
	assert.Equal(t, "file::memory:?_foreign_keys=on", buildDSN(MemoryPath))
	assert.Equal(t, "file:data/app.sqlite?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", buildDSN("data/app.sqlite"))
	assert.Equal(t, "file:x.db?cache=shared&_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", buildDSN("x.db?cache=shared"))
}
