package repository

import (
	"context"
	"errors"
	"time"

	"github.com/brightfog/kunlun/internal/change/entity"
	"gorm.io/gorm"
)

// RoutedRepository 门店采购队列仓库
type RoutedRepository struct {
	db *gorm.DB
}

func NewRoutedRepository(db *gorm.DB) *RoutedRepository {
	return &RoutedRepository{db: db}
}

// CreateBatch 批量入队
// 唯一索引 (cr_id, material_line_id) 撞上时返回 ErrAlreadyRouted
func (r *RoutedRepository) CreateBatch(ctx context.Context, tx *gorm.DB, items []entity.RoutedMaterial) error {
	if len(items) == 0 {
		return nil
	}
	db := r.db
	if tx != nil {
		db = tx
	}
	err := db.WithContext(ctx).Create(&items).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyRouted
		}
		return err
	}
	return nil
}

// FindAll 查询门店采购队列
func (r *RoutedRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.RoutedMaterial, int64, error) {
	var items []entity.RoutedMaterial
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.RoutedMaterial{})

	if projectID := filters["project_id"]; projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}
	if crID := filters["cr_id"]; crID != "" {
		query = query.Where("cr_id = ?", crID)
	}
	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	if routing := filters["routing"]; routing != "" {
		query = query.Where("routing = ?", routing)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("routed_at ASC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindByID 根据ID查找登记项
func (r *RoutedRepository) FindByID(ctx context.Context, id string) (*entity.RoutedMaterial, error) {
	var item entity.RoutedMaterial
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// MarkPurchased 标记门店已购回
// 仅门店路由可逐行购回，供应商路由随子单完成统一清账
func (r *RoutedRepository) MarkPurchased(ctx context.Context, id, operatorID string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&entity.RoutedMaterial{}).
		Where("id = ? AND status = ? AND routing = ?", id, entity.RoutedStatusQueued, entity.RoutingStore).
		Updates(map[string]interface{}{
			"status":       entity.RoutedStatusPurchased,
			"purchased_by": operatorID,
			"purchased_at": &now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByCRID 统计变更请求已入队的材料行数
func (r *RoutedRepository) CountByCRID(ctx context.Context, crID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.RoutedMaterial{}).
		Where("cr_id = ?", crID).
		Count(&count).Error
	return count, err
}
