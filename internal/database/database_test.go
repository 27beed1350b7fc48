package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pageza/nutrilog/backend/config"
	"github.com/pageza/nutrilog/backend/internal/models"
	"github.com/pageza/nutrilog/backend/internal/testhelpers"
)

func TestNewSQLiteAndMigrate(t *testing.T) {
	cfg := &config.Config{DBDriver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "nutrilog.db")}

	db, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.HealthCheck(context.Background()))
	require.NoError(t, RunMigrations(db.Gorm, zap.NewNop()))
	// idempotent
	require.NoError(t, RunMigrations(db.Gorm, zap.NewNop()))

	user := models.NewUser("42")
	require.NoError(t, db.Gorm.Create(user).Error)
	assert.Error(t, db.Gorm.Create(models.NewUser("42")).Error, "external_id must be unique")
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(&config.Config{DBDriver: "mysql"}, zap.NewNop())
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestPostgresMigrations(t *testing.T) {
	db := testhelpers.SetupTestDatabase(t)

	require.NoError(t, RunMigrations(db, zap.NewNop()))
	require.NoError(t, RunMigrations(db, zap.NewNop()))

	var applied int64
	require.NoError(t, db.Table("schema_migrations").Count(&applied).Error)
	assert.EqualValues(t, 2, applied)

	user := models.NewUser("7")
	require.NoError(t, db.Create(user).Error)
	bad := models.FoodLogEntry{UserID: user.ID, FoodScore: 9, Method: "text", Source: "primary"}
	assert.Error(t, db.Create(&bad).Error, "score check constraint")
}
