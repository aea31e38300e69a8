package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

func TestListQueryBuild(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	sql, args := newListQuery("SELECT record FROM decisions", "decided_at").
		eq("asset", "BTC").
		window(domain.ListOpts{Since: &since}).
		build(50, 10, false)

	assert.Equal(t,
		"SELECT record FROM decisions WHERE asset = $1 AND decided_at >= $2 ORDER BY decided_at DESC LIMIT $3 OFFSET $4",
		sql)
	assert.Equal(t, []any{"BTC", since, 50, 10}, args)
}

func TestListQueryNoFilters(t *testing.T) {
	sql, args := newListQuery("SELECT id FROM audit_log", "created_at").build(0, 0, true)
	assert.Equal(t, "SELECT id FROM audit_log ORDER BY created_at ASC", sql)
	assert.Empty(t, args)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/tg?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "tg", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: " postgres://x "}))
}

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	assert.NoError(t, err)
	assert.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
}
