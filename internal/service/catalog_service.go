package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"companion-go/internal/model"
	"companion-go/internal/repository"
	"companion-go/pkg/storage"

	"gorm.io/gorm"
)

// CatalogService 定义了商品目录的浏览与维护。
type CatalogService interface {
	List(ctx context.Context, category string, page, size int) (*PageResponse, error)
	Get(ctx context.Context, id uint) (*model.ProductDTO, error)
	Create(ctx context.Context, p *model.Product) (*model.ProductDTO, error)
}

type catalogService struct {
	repo   repository.ProductRepository
	signer storage.URLSigner
}

// NewCatalogService 创建一个新的 CatalogService 实例，signer 可以为 nil。
func NewCatalogService(repo repository.ProductRepository, signer storage.URLSigner) CatalogService {
	return &catalogService{repo: repo, signer: signer}
}

// List 分页列出上架商品。
func (s *catalogService) List(ctx context.Context, category string, page, size int) (*PageResponse, error) {
	page, size = normalizePage(page, size)
	products, total, err := s.repo.List(ctx, strings.TrimSpace(category), (page-1)*size, size)
	if err != nil {
		return nil, err
	}
	dtos := make([]model.ProductDTO, 0, len(products))
	for _, p := range products {
		dtos = append(dtos, s.toDTO(ctx, p))
	}
	return newPage(dtos, total, page, size), nil
}

// Get 返回单个商品，下架商品视为不存在。
func (s *catalogService) Get(ctx context.Context, id uint) (*model.ProductDTO, error) {
	p, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, ErrNotFound
	}
	dto := s.toDTO(ctx, *p)
	return &dto, nil
}

// Create 新增商品。
func (s *catalogService) Create(ctx context.Context, p *model.Product) (*model.ProductDTO, error) {
	p.SKU = strings.TrimSpace(p.SKU)
	p.Name = strings.TrimSpace(p.Name)
	if p.SKU == "" || p.Name == "" {
		return nil, fmt.Errorf("%w: sku and name are required", ErrInvalidInput)
	}
	if p.PriceCents < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
	p.Currency = strings.ToUpper(p.Currency)
	p.Active = true
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	dto := s.toDTO(ctx, *p)
	return &dto, nil
}

func (s *catalogService) toDTO(ctx context.Context, p model.Product) model.ProductDTO {
	dto := model.ProductDTO{Product: p}
	if s.signer != nil && p.ImageObject != "" {
		if u, err := s.signer.PresignedURL(ctx, p.ImageObject); err == nil {
			dto.ImageURL = u
		}
	}
	return dto
}
