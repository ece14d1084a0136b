package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User 用户模型
type User struct {
	ID           string         `json:"id" gorm:"primaryKey;size:36"`
	Email        string         `json:"email" gorm:"uniqueIndex;size:255;not null"`
	Name         string         `json:"name" gorm:"size:100;not null"`
	Password     string         `json:"-" gorm:"not null"` // 只存 bcrypt 哈希
	Subscription string         `json:"subscription" gorm:"size:20;default:free"`
	IsActive     bool           `json:"is_active" gorm:"default:true"`
	IsAdmin      bool           `json:"is_admin" gorm:"default:false"`
	LastLogin    *time.Time     `json:"last_login"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
