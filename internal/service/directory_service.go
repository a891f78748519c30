package service

import (
	"context"
	"fmt"
	"strings"

	"companion-go/internal/model"
	"companion-go/internal/repository"
	"companion-go/pkg/log"
	"companion-go/pkg/storage"

	"github.com/google/uuid"
)

// DirectoryService 定义了医生目录的检索与维护。
type DirectoryService interface {
	Search(ctx context.Context, q model.ClinicianQuery) (*PageResponse, error)
	Index(ctx context.Context, c *model.Clinician) (*model.Clinician, error)
}

type directoryService struct {
	repo   repository.ClinicianRepository
	signer storage.URLSigner
}

// NewDirectoryService 创建一个新的 DirectoryService 实例，signer 可以为 nil。
func NewDirectoryService(repo repository.ClinicianRepository, signer storage.URLSigner) DirectoryService {
	return &directoryService{repo: repo, signer: signer}
}

// Search 检索医生并附上照片的临时链接。
func (s *directoryService) Search(ctx context.Context, q model.ClinicianQuery) (*PageResponse, error) {
	q.Page, q.Size = normalizePage(q.Page, q.Size)
	results, total, err := s.repo.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].PhotoURL = s.sign(ctx, results[i].PhotoObject)
	}
	return newPage(results, total, q.Page, q.Size), nil
}

// Index 校验并写入一位医生，未提供 ID 时自动生成。
func (s *directoryService) Index(ctx context.Context, c *model.Clinician) (*model.Clinician, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if c.Rating < 0 || c.Rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 0 and 5", ErrInvalidInput)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := s.repo.Index(ctx, c); err != nil {
		return nil, err
	}
	log.Infof("[DirectoryService] 医生已写入目录, id: %s", c.ID)
	return c, nil
}

func (s *directoryService) sign(ctx context.Context, object string) string {
	if s.signer == nil || object == "" {
		return ""
	}
	u, err := s.signer.PresignedURL(ctx, object)
	if err != nil {
		return ""
	}
	return u
}
