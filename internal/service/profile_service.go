package service

import (
	"context"
	"errors"

	"companion-go/internal/model"
	"companion-go/internal/repository"

	"gorm.io/gorm"
)

// ProfilePatch 描述局部更新，nil 字段不修改。
type ProfilePatch struct {
	Name                *string           `json:"name"`
	Birthdate           *model.Date       `json:"birthdate"`
	Gender              *string           `json:"gender"`
	GenderDetail        *string           `json:"gender_detail"`
	OnboardingCompleted *bool             `json:"onboarding_completed"`
	HasSeenWelcome      *bool             `json:"has_seen_welcome"`
	Goals               *model.StringList `json:"goals"`
}

// ProfileService 定义了用户资料的读写操作，所有操作都要求调用者就是资料的主人。
type ProfileService interface {
	Get(ctx context.Context, caller *model.User, id string) (*model.UserProfile, error)
	Upsert(ctx context.Context, caller *model.User, id string, profile *model.UserProfile) (*model.UserProfile, error)
	Patch(ctx context.Context, caller *model.User, id string, patch ProfilePatch) (*model.UserProfile, error)
}

type profileService struct {
	repo repository.ProfileRepository
}

// NewProfileService 创建一个新的 ProfileService 实例。
func NewProfileService(repo repository.ProfileRepository) ProfileService {
	return &profileService{repo: repo}
}

// Get 读取资料，不存在时返回 ErrNotFound。
func (s *profileService) Get(ctx context.Context, caller *model.User, id string) (*model.UserProfile, error) {
	if caller == nil || caller.ID != id {
		return nil, ErrForbidden
	}
	p, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return p, err
}

// Upsert 以 id 为键整体写入资料，body 中的 id 必须与路径一致或为空。
func (s *profileService) Upsert(ctx context.Context, caller *model.User, id string, profile *model.UserProfile) (*model.UserProfile, error) {
	if caller == nil || caller.ID != id {
		return nil, ErrForbidden
	}
	if profile.ID != "" && profile.ID != id {
		return nil, ErrForbidden
	}
	profile.ID = id
	profile.Normalize()
	if err := s.repo.Upsert(ctx, profile); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

// Patch 局部更新资料字段。
// 补丁先合并到当前资料上规整一次，保证局部更新与整体写入的结果一致。
func (s *profileService) Patch(ctx context.Context, caller *model.User, id string, patch ProfilePatch) (*model.UserProfile, error) {
	if caller == nil || caller.ID != id {
		return nil, ErrForbidden
	}

	current, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	applyPatch(current, patch)
	current.Normalize()

	fields := make(map[string]interface{})
	if patch.Name != nil {
		fields["name"] = current.Name
	}
	if patch.Birthdate != nil {
		fields["birthdate"] = current.Birthdate
	}
	if patch.Gender != nil || patch.GenderDetail != nil {
		fields["gender"] = current.Gender
		fields["gender_detail"] = current.GenderDetail
	}
	if patch.OnboardingCompleted != nil {
		fields["onboarding_completed"] = current.OnboardingCompleted
	}
	if patch.HasSeenWelcome != nil {
		fields["has_seen_welcome"] = current.HasSeenWelcome
	}
	if patch.Goals != nil {
		fields["goals"] = current.Goals
	}
	if len(fields) == 0 {
		return nil, ErrInvalidInput
	}

	if err := s.repo.UpdateFields(ctx, id, fields); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

func applyPatch(p *model.UserProfile, patch ProfilePatch) {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Birthdate != nil {
		d := *patch.Birthdate
		p.Birthdate = &d
	}
	if patch.Gender != nil {
		p.Gender = *patch.Gender
	}
	if patch.GenderDetail != nil {
		p.GenderDetail = *patch.GenderDetail
	}
	if patch.OnboardingCompleted != nil {
		p.OnboardingCompleted = *patch.OnboardingCompleted
	}
	if patch.HasSeenWelcome != nil {
		p.HasSeenWelcome = *patch.HasSeenWelcome
	}
	if patch.Goals != nil {
		p.Goals = *patch.Goals
	}
}
