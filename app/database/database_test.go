package database

import (
	"path/filepath"
	"testing"

	"rigforge/app/auth"
	"rigforge/app/config"
	"rigforge/app/logger"
	"rigforge/app/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "mongo", DSN: "x"})
	assert.Error(t, err)
}

func TestSeedIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	first, err := Seed(db)
	require.NoError(t, err)
	require.Len(t, first.Characters, 2)
	require.Len(t, first.Animations, 2)

	second, err := Seed(db)
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Equal(t, first.Characters[0].ID, second.Characters[0].ID)

	var count int64
	require.NoError(t, db.Model(&model.Character{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
	require.NoError(t, db.Model(&model.Animation{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestInitAdminUser(t *testing.T) {
	db := openTestDB(t)
	log := logger.NewNop()

	cfg := &config.Config{Server: config.ServerConfig{AdminEmail: "admin@rigforge.dev", AdminPassword: "secret-1"}}
	require.NoError(t, InitAdminUser(db, cfg, log))

	var admin model.User
	require.NoError(t, db.Where("is_admin = ?", true).First(&admin).Error)
	assert.Equal(t, "admin@rigforge.dev", admin.Email)
	assert.True(t, auth.CheckPassword("secret-1", admin.Password))

	cfg.Server.AdminPassword = "secret-2"
	require.NoError(t, InitAdminUser(db, cfg, log))
	require.NoError(t, db.First(&admin, "id = ?", admin.ID).Error)
	assert.True(t, auth.CheckPassword("secret-2", admin.Password))

	// 未配置时跳过
	require.NoError(t, InitAdminUser(db, &config.Config{}, log))
}
