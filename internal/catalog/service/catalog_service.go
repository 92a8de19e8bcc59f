package service

import (
	"context"
	"fmt"

	"github.com/brightfog/kunlun/internal/catalog/entity"
	"github.com/brightfog/kunlun/internal/catalog/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CatalogService 材料目录与供应商服务
type CatalogService struct {
	catalogRepo *repository.CatalogRepository
	vendorRepo  *repository.VendorRepository
	logger      *zap.Logger
}

func NewCatalogService(catalogRepo *repository.CatalogRepository, vendorRepo *repository.VendorRepository, logger *zap.Logger) *CatalogService {
	return &CatalogService{
		catalogRepo: catalogRepo,
		vendorRepo:  vendorRepo,
		logger:      logger,
	}
}

// ListItems 查询目录项
func (s *CatalogService) ListItems(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.CatalogItem, int64, error) {
	return s.catalogRepo.FindAll(ctx, page, pageSize, filters)
}

// GetItem 查询目录项详情
func (s *CatalogService) GetItem(ctx context.Context, id string) (*entity.CatalogItem, error) {
	return s.catalogRepo.FindByID(ctx, id)
}

// CreateItem 创建目录项
func (s *CatalogService) CreateItem(ctx context.Context, item *entity.CatalogItem) (*entity.CatalogItem, error) {
	if item.Code == "" || item.Name == "" {
		return nil, fmt.Errorf("code and name are required")
	}

	item.ID = uuid.New().String()[:32]
	if item.Status == "" {
		item.Status = entity.CatalogStatusActive
	}
	if err := s.catalogRepo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("create catalog item: %w", err)
	}

	s.logger.Info("Catalog item created", zap.String("id", item.ID), zap.String("code", item.Code))
	return item, nil
}

// ListVendors 查询供应商
func (s *CatalogService) ListVendors(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Vendor, int64, error) {
	return s.vendorRepo.FindAll(ctx, page, pageSize, filters)
}

// GetVendor 查询供应商详情
func (s *CatalogService) GetVendor(ctx context.Context, id string) (*entity.Vendor, error) {
	return s.vendorRepo.FindByID(ctx, id)
}

// CreateVendor 创建供应商
func (s *CatalogService) CreateVendor(ctx context.Context, vendor *entity.Vendor) (*entity.Vendor, error) {
	if vendor.Code == "" || vendor.Name == "" {
		return nil, fmt.Errorf("code and name are required")
	}

	vendor.ID = uuid.New().String()[:32]
	if vendor.Status == "" {
		vendor.Status = entity.VendorStatusActive
	}
	if err := s.vendorRepo.Create(ctx, vendor); err != nil {
		return nil, fmt.Errorf("create vendor: %w", err)
	}

	s.logger.Info("Vendor created", zap.String("id", vendor.ID), zap.String("code", vendor.Code))
	return vendor, nil
}
