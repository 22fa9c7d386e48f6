package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

func TestEmbeddedMigrationsPresent(t *testing.T) {
	entries, err := migrationFS.ReadDir("migrations")
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 2, "should have at least one up/down migration pair embedded")

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	assert.True(t, names["0001_init.up.sql"])
	assert.True(t, names["0001_init.down.sql"])
}

func TestNewMigratorInvalidConnection(t *testing.T) {
	logger := zap.New(zap.UseDevMode(true))

	_, err := NewMigrator("postgres://invalid:5432/nonexistent?sslmode=disable&connect_timeout=1", logger)
	assert.Error(t, err, "should fail to reach an unroutable host")
}
