package database

import (
	"rigforge/app/model"

	"gorm.io/gorm"
)

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Character{},
		&model.Animation{},
		&model.ProcessingJob{},
	)
}
