package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brightfog/kunlun/internal/boq/entity"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
)

// BOQRepository 工程量清单仓库
type BOQRepository struct {
	db *gorm.DB
}

func NewBOQRepository(db *gorm.DB) *BOQRepository {
	return &BOQRepository{db: db}
}

// FindAll 查询清单列表
func (r *BOQRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.BOQ, int64, error) {
	var items []entity.BOQ
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.BOQ{})

	if projectID := filters["project_id"]; projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}
	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	if search := filters["search"]; search != "" {
		query = query.Where("code ILIKE ? OR name ILIKE ?", "%"+search+"%", "%"+search+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindByID 根据ID查找清单（含行）
func (r *BOQRepository) FindByID(ctx context.Context, id string) (*entity.BOQ, error) {
	var boq entity.BOQ
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC")
		}).
		Where("id = ?", id).
		First(&boq).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &boq, nil
}

// Create 创建清单（含行）
func (r *BOQRepository) Create(ctx context.Context, boq *entity.BOQ) error {
	return r.db.WithContext(ctx).Create(boq).Error
}

// Update 更新清单
func (r *BOQRepository) Update(ctx context.Context, boq *entity.BOQ) error {
	return r.db.WithContext(ctx).Save(boq).Error
}

// UpdateStatus 更新清单状态
func (r *BOQRepository) UpdateStatus(ctx context.Context, id, status string) error {
	res := r.db.WithContext(ctx).
		Model(&entity.BOQ{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SumNegotiableMargin 汇总清单的可议价余量
func (r *BOQRepository) SumNegotiableMargin(ctx context.Context, boqID string) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).
		Model(&entity.BOQItem{}).
		Select("COALESCE(SUM(negotiable_margin), 0)").
		Where("boq_id = ?", boqID).
		Scan(&total).Error
	return total, err
}

// GenerateCode 生成清单编码 BOQ-{year}-{4位}
func (r *BOQRepository) GenerateCode(ctx context.Context) (string, error) {
	year := time.Now().Format("2006")
	prefix := fmt.Sprintf("BOQ-%s-", year)

	var maxCode string
	err := r.db.WithContext(ctx).
		Model(&entity.BOQ{}).
		Select("COALESCE(MAX(code), '')").
		Where("code LIKE ?", prefix+"%").
		Scan(&maxCode).Error
	if err != nil {
		return "", err
	}

	var seq int
	if maxCode != "" {
		fmt.Sscanf(maxCode, "BOQ-"+year+"-%04d", &seq)
	}
	seq++
	return fmt.Sprintf("BOQ-%s-%04d", year, seq), nil
}
