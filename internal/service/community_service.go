package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"companion-go/internal/model"
	"companion-go/internal/repository"

	"gorm.io/gorm"
)

const defaultAuthorName = "Member"

// CommunityService 定义了社区帖子的业务操作。匿名用户只读。
type CommunityService interface {
	ListPosts(ctx context.Context, topic string, page, size int) (*PageResponse, error)
	GetPost(ctx context.Context, id uint) (*model.Post, error)
	CreatePost(ctx context.Context, author *model.User, topic, title, body string) (*model.Post, error)
	Reply(ctx context.Context, author *model.User, postID uint, body string) (*model.Reply, error)
}

type communityService struct {
	repo        repository.CommunityRepository
	profileRepo repository.ProfileRepository
}

// NewCommunityService 创建一个新的 CommunityService 实例。
func NewCommunityService(repo repository.CommunityRepository, profileRepo repository.ProfileRepository) CommunityService {
	return &communityService{repo: repo, profileRepo: profileRepo}
}

// ListPosts 分页列出帖子。
func (s *communityService) ListPosts(ctx context.Context, topic string, page, size int) (*PageResponse, error) {
	page, size = normalizePage(page, size)
	posts, total, err := s.repo.ListPosts(ctx, strings.TrimSpace(topic), (page-1)*size, size)
	if err != nil {
		return nil, err
	}
	if posts == nil {
		posts = []model.Post{}
	}
	return newPage(posts, total, page, size), nil
}

// GetPost 返回帖子及其回复。
func (s *communityService) GetPost(ctx context.Context, id uint) (*model.Post, error) {
	post, err := s.repo.FindPost(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return post, err
}

// CreatePost 发布新帖。
func (s *communityService) CreatePost(ctx context.Context, author *model.User, topic, title, body string) (*model.Post, error) {
	if author == nil || author.IsAnonymous {
		return nil, ErrForbidden
	}
	title, body = strings.TrimSpace(title), strings.TrimSpace(body)
	if title == "" || body == "" {
		return nil, fmt.Errorf("%w: title and body are required", ErrInvalidInput)
	}
	post := &model.Post{
		AuthorID:   author.ID,
		AuthorName: s.displayName(ctx, author.ID),
		Topic:      strings.TrimSpace(topic),
		Title:      title,
		Body:       body,
	}
	if err := s.repo.CreatePost(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// Reply 回复帖子。
func (s *communityService) Reply(ctx context.Context, author *model.User, postID uint, body string) (*model.Reply, error) {
	if author == nil || author.IsAnonymous {
		return nil, ErrForbidden
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: body is required", ErrInvalidInput)
	}
	reply := &model.Reply{
		PostID:     postID,
		AuthorID:   author.ID,
		AuthorName: s.displayName(ctx, author.ID),
		Body:       body,
	}
	if err := s.repo.CreateReply(ctx, reply); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return reply, nil
}

// displayName 优先使用资料中的名字。
func (s *communityService) displayName(ctx context.Context, userID string) string {
	if s.profileRepo == nil {
		return defaultAuthorName
	}
	p, err := s.profileRepo.FindByID(ctx, userID)
	if err != nil || p.Name == "" {
		return defaultAuthorName
	}
	return p.Name
}
