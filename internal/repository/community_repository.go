package repository

import (
	"context"

	"companion-go/internal/model"

	"gorm.io/gorm"
)

// CommunityRepository 定义了社区帖子与回复的数据操作方法。
type CommunityRepository interface {
	ListPosts(ctx context.Context, topic string, offset, limit int) ([]model.Post, int64, error)
	FindPost(ctx context.Context, id uint) (*model.Post, error)
	CreatePost(ctx context.Context, post *model.Post) error
	CreateReply(ctx context.Context, reply *model.Reply) error
}

type communityRepository struct {
	db *gorm.DB
}

// NewCommunityRepository 创建一个新的 CommunityRepository 实例。
func NewCommunityRepository(db *gorm.DB) CommunityRepository {
	return &communityRepository{db: db}
}

// ListPosts 按创建时间倒序分页返回帖子（不含回复）。
func (r *communityRepository) ListPosts(ctx context.Context, topic string, offset, limit int) ([]model.Post, int64, error) {
	var posts []model.Post
	var total int64

	db := r.db.WithContext(ctx).Model(&model.Post{})
	if topic != "" {
		db = db.Where("topic = ?", topic)
	}
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&posts).Error; err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}

// FindPost 查找帖子并按时间顺序预加载回复。
func (r *communityRepository) FindPost(ctx context.Context, id uint) (*model.Post, error) {
	var post model.Post
	err := r.db.WithContext(ctx).
		Preload("Replies", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&post, id).Error
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// CreatePost 新建帖子。
func (r *communityRepository) CreatePost(ctx context.Context, post *model.Post) error {
	return r.db.WithContext(ctx).Create(post).Error
}

// CreateReply 在事务中写入回复并递增帖子的回复计数。
func (r *communityRepository) CreateReply(ctx context.Context, reply *model.Reply) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Post{}).Where("id = ?", reply.PostID).
			UpdateColumn("reply_count", gorm.Expr("reply_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Create(reply).Error
	})
}
