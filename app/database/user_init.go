package database

import (
	"errors"
	"fmt"

	"rigforge/app/auth"
	"rigforge/app/config"
	"rigforge/app/logger"
	"rigforge/app/model"

	"gorm.io/gorm"
)

// InitAdminUser 按配置同步管理员账户，未配置时跳过
func InitAdminUser(db *gorm.DB, cfg *config.Config, log *logger.Logger) error {
	email, password := cfg.Server.AdminEmail, cfg.Server.AdminPassword
	if email == "" || password == "" {
		log.Warnf("未配置管理员账户 (server.admin_email / server.admin_password)，跳过初始化")
		return nil
	}

	var admin model.User
	err := db.Where("is_admin = ?", true).First(&admin).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("查询管理员失败: %w", err)
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		hashed, err := auth.HashPassword(password)
		if err != nil {
			return fmt.Errorf("哈希密码失败: %w", err)
		}
		admin = model.User{
			Email:    email,
			Name:     "Administrator",
			Password: hashed,
			IsActive: true,
			IsAdmin:  true,
		}
		if err := db.Create(&admin).Error; err != nil {
			return fmt.Errorf("创建管理员账户失败: %w", err)
		}
		log.Infof("管理员账户 '%s' 创建成功", email)
		return nil
	}

	updates := map[string]any{}
	if admin.Email != email {
		var count int64
		if err := db.Model(&model.User{}).Where("email = ? AND id <> ?", email, admin.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("邮箱 '%s' 已被其他用户使用，无法更新管理员", email)
		}
		updates["email"] = email
	}
	if !auth.CheckPassword(password, admin.Password) {
		hashed, err := auth.HashPassword(password)
		if err != nil {
			return fmt.Errorf("哈希密码失败: %w", err)
		}
		updates["password"] = hashed
	}

	if len(updates) == 0 {
		log.Debugf("管理员 '%s' 已存在，无需更新", email)
		return nil
	}
	if err := db.Model(&admin).Updates(updates).Error; err != nil {
		return fmt.Errorf("更新管理员账户失败: %w", err)
	}
	log.Infof("管理员 '%s' 已同步配置", email)
	return nil
}
