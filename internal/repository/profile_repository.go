package repository

import (
	"context"

	"companion-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileRepository 定义了用户资料的持久化操作。
// 归属校验在 service 层完成，这里只按主键读写。
type ProfileRepository interface {
	FindByID(ctx context.Context, id string) (*model.UserProfile, error)
	Upsert(ctx context.Context, profile *model.UserProfile) error
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error
}

type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository 创建一个新的 ProfileRepository 实例。
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

// FindByID 按用户 ID 查找资料，不存在时返回 gorm.ErrRecordNotFound。
func (r *profileRepository) FindByID(ctx context.Context, id string) (*model.UserProfile, error) {
	var profile model.UserProfile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// Upsert 以 id 为冲突键整体替换或插入，created_at 保持首次写入的值。
func (r *profileRepository) Upsert(ctx context.Context, profile *model.UserProfile) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "birthdate", "gender", "gender_detail",
			"onboarding_completed", "has_seen_welcome", "goals", "updated_at",
		}),
	}).Create(profile).Error
}

// UpdateFields 局部更新资料字段，不存在时返回 gorm.ErrRecordNotFound。
func (r *profileRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.UserProfile{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// MySQL 在值未变化时不计入影响行数，需要再确认记录是否存在
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.UserProfile{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
