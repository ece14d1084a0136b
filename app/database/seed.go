package database

import (
	"errors"
	"fmt"

	"rigforge/app/auth"
	"rigforge/app/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DemoEmail    = "demo@rigforge.dev"
	DemoPassword = "demo12345"
)

// SeedResult 演示数据写入结果
type SeedResult struct {
	User       *model.User
	Characters []model.Character
	Animations []model.Animation
}

// Seed 写入演示用户和公开资源，已存在的记录保持不变
func Seed(db *gorm.DB) (*SeedResult, error) {
	res := &SeedResult{}
	err := db.Transaction(func(tx *gorm.DB) error {
		user, err := seedDemoUser(tx)
		if err != nil {
			return err
		}
		res.User = user

		characters := []model.Character{
			{Name: "Kaya", Type: "humanoid", Description: "Stylized female adventurer", Tags: datatypes.JSONSlice[string]{"humanoid", "stylized"}, ModelFile: "characters/kaya.fbx", IsPublic: true, UploadedBy: user.ID},
			{Name: "Malcolm", Type: "humanoid", Description: "Realistic male character", Tags: datatypes.JSONSlice[string]{"humanoid", "realistic"}, ModelFile: "characters/malcolm.fbx", IsPublic: true, UploadedBy: user.ID},
		}
		for i := range characters {
			if err := tx.Where(model.Character{Name: characters[i].Name}).FirstOrCreate(&characters[i]).Error; err != nil {
				return fmt.Errorf("写入角色 %s 失败: %w", characters[i].Name, err)
			}
		}
		res.Characters = characters

		animations := []model.Animation{
			{Name: "Idle", Category: "idle", Duration: 2.5, Tags: datatypes.JSONSlice[string]{"loop"}, AnimationFile: "animations/idle.fbx", IsPublic: true, UploadedBy: user.ID},
			{Name: "Walking", Category: "locomotion", Duration: 1.2, Tags: datatypes.JSONSlice[string]{"loop", "walk"}, AnimationFile: "animations/walking.fbx", IsPublic: true, UploadedBy: user.ID},
		}
		for i := range animations {
			if err := tx.Where(model.Animation{Name: animations[i].Name}).FirstOrCreate(&animations[i]).Error; err != nil {
				return fmt.Errorf("写入动画 %s 失败: %w", animations[i].Name, err)
			}
		}
		res.Animations = animations
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func seedDemoUser(tx *gorm.DB) (*model.User, error) {
	var user model.User
	err := tx.Where("email = ?", DemoEmail).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashed, err := auth.HashPassword(DemoPassword)
	if err != nil {
		return nil, err
	}
	user = model.User{Email: DemoEmail, Name: "Demo User", Password: hashed, IsActive: true}
	if err := tx.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("创建演示用户失败: %w", err)
	}
	return &user, nil
}
