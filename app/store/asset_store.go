package store

import (
	"context"
	"errors"

	"rigforge/app/model"

	"gorm.io/gorm"
)

// AssetStore 按可见性查询角色和动画
type AssetStore interface {
	FindAccessibleCharacter(ctx context.Context, id, userID string) (*model.Character, error)
	FindAccessibleAnimation(ctx context.Context, id, userID string) (*model.Animation, error)
}

type GormAssetStore struct {
	db *gorm.DB
}

func NewAssetStore(db *gorm.DB) *GormAssetStore {
	return &GormAssetStore{db: db}
}

// accessible 公开资源或调用者自己上传的资源
func accessible(db *gorm.DB, id, userID string) *gorm.DB {
	return db.Where("id = ? AND (is_public = ? OR uploaded_by = ?)", id, true, userID)
}

func (s *GormAssetStore) FindAccessibleCharacter(ctx context.Context, id, userID string) (*model.Character, error) {
	var c model.Character
	if err := accessible(s.db.WithContext(ctx), id, userID).Take(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *GormAssetStore) FindAccessibleAnimation(ctx context.Context, id, userID string) (*model.Animation, error) {
	var a model.Animation
	if err := accessible(s.db.WithContext(ctx), id, userID).Take(&a).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
