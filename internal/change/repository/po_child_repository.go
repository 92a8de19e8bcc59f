package repository

import (
	"context"
	"errors"

	"github.com/brightfog/kunlun/internal/change/entity"
	"gorm.io/gorm"
)

// POChildRepository 子采购单仓库
type POChildRepository struct {
	db *gorm.DB
}

func NewPOChildRepository(db *gorm.DB) *POChildRepository {
	return &POChildRepository{db: db}
}

// FindAll 查询子采购单列表
func (r *POChildRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.POChild, int64, error) {
	var items []entity.POChild
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.POChild{})

	if crID := filters["cr_id"]; crID != "" {
		query = query.Where("cr_id = ?", crID)
	}
	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	if vendorID := filters["vendor_id"]; vendorID != "" {
		query = query.Where("vendor_id = ?", vendorID)
	}
	if search := filters["search"]; search != "" {
		query = query.Where("po_code ILIKE ?", "%"+search+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC")
		}).
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindByID 根据ID查找子采购单（含行）
func (r *POChildRepository) FindByID(ctx context.Context, id string) (*entity.POChild, error) {
	var child entity.POChild
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC")
		}).
		Where("id = ?", id).
		First(&child).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &child, nil
}

// FindByCRID 查找变更请求下的全部子单
func (r *POChildRepository) FindByCRID(ctx context.Context, crID string) ([]entity.POChild, error) {
	var children []entity.POChild
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC")
		}).
		Where("cr_id = ?", crID).
		Order("suffix ASC").
		Find(&children).Error
	return children, err
}

// UpdateVersioned 带乐观锁更新子采购单
func (r *POChildRepository) UpdateVersioned(ctx context.Context, tx *gorm.DB, child *entity.POChild, updates map[string]interface{}) error {
	db := r.db
	if tx != nil {
		db = tx
	}

	updates["version"] = child.Version + 1
	res := db.WithContext(ctx).
		Model(&entity.POChild{}).
		Where("id = ? AND version = ?", child.ID, child.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentModification
	}
	child.Version++
	return nil
}

// DeleteByCRID 删除变更请求下的全部子单并解绑材料行
// 重拆前调用，调用方负责确认没有已完成的子单
func (r *POChildRepository) DeleteByCRID(ctx context.Context, tx *gorm.DB, crID string) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	if err := db.WithContext(ctx).
		Model(&entity.MaterialLine{}).
		Where("cr_id = ?", crID).
		Update("po_child_id", nil).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).
		Where("cr_id = ?", crID).
		Delete(&entity.POChild{}).Error
}
