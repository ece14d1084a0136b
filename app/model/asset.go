package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Character 角色模型，文件字段为存储目录下的相对路径
type Character struct {
	ID          string                      `json:"id" gorm:"primaryKey;size:36"`
	Name        string                      `json:"name" gorm:"size:200;not null;comment:角色名称"`
	Description string                      `json:"description" gorm:"type:text"`
	Type        string                      `json:"type" gorm:"size:50;comment:角色类型(humanoid,creature等)"`
	Tags        datatypes.JSONSlice[string] `json:"tags"`
	ModelFile   string                      `json:"model_file" gorm:"size:500;comment:原始模型文件"`
	RiggedFile  string                      `json:"rigged_file" gorm:"size:500;comment:绑定骨骼后的模型文件"`
	Thumbnail   string                      `json:"thumbnail" gorm:"size:500"`
	IsPublic    bool                        `json:"is_public" gorm:"default:false;index"`
	UploadedBy  string                      `json:"uploaded_by" gorm:"size:36;index"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

func (Character) TableName() string {
	return "characters"
}

func (c *Character) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Animation 动画模型
type Animation struct {
	ID            string                      `json:"id" gorm:"primaryKey;size:36"`
	Name          string                      `json:"name" gorm:"size:200;not null;comment:动画名称"`
	Description   string                      `json:"description" gorm:"type:text"`
	Category      string                      `json:"category" gorm:"size:50;comment:动画分类(idle,locomotion等)"`
	Tags          datatypes.JSONSlice[string] `json:"tags"`
	Duration      float64                     `json:"duration" gorm:"default:0;comment:时长(秒)"`
	AnimationFile string                      `json:"animation_file" gorm:"size:500"`
	PreviewVideo  string                      `json:"preview_video" gorm:"size:500"`
	Thumbnail     string                      `json:"thumbnail" gorm:"size:500"`
	IsPublic      bool                        `json:"is_public" gorm:"default:false;index"`
	UploadedBy    string                      `json:"uploaded_by" gorm:"size:36;index"`
	CreatedAt     time.Time                   `json:"created_at"`
	UpdatedAt     time.Time                   `json:"updated_at"`
}

func (Animation) TableName() string {
	return "animations"
}

func (a *Animation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
