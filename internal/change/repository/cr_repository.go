package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brightfog/kunlun/internal/change/entity"
	"gorm.io/gorm"
)

// CRRepository 变更请求仓库
type CRRepository struct {
	db *gorm.DB
}

func NewCRRepository(db *gorm.DB) *CRRepository {
	return &CRRepository{db: db}
}

// FindAll 查询变更请求列表
func (r *CRRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.ChangeRequest, int64, error) {
	var items []entity.ChangeRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.ChangeRequest{})

	if projectID := filters["project_id"]; projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}
	if boqID := filters["boq_id"]; boqID != "" {
		query = query.Where("boq_id = ?", boqID)
	}
	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	if role := filters["approval_required_from"]; role != "" {
		query = query.Where("approval_required_from = ?", role)
	}
	if requesterID := filters["requester_id"]; requesterID != "" {
		query = query.Where("requester_id = ?", requesterID)
	}
	if search := filters["search"]; search != "" {
		query = query.Where("code ILIKE ? OR title ILIKE ?", "%"+search+"%", "%"+search+"%")
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

// FindByID 根据ID查找变更请求（含行、审批和子单）
func (r *CRRepository) FindByID(ctx context.Context, id string) (*entity.ChangeRequest, error) {
	var cr entity.ChangeRequest
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC")
		}).
		Preload("Approvals", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Preload("Children", func(db *gorm.DB) *gorm.DB {
			return db.Order("suffix ASC")
		}).
		Where("id = ?", id).
		First(&cr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cr, nil
}

// Create 创建变更请求（含材料行）
func (r *CRRepository) Create(ctx context.Context, cr *entity.ChangeRequest) error {
	return r.db.WithContext(ctx).Create(cr).Error
}

// UpdateVersioned 带乐观锁更新
// 版本不匹配说明请求在读取后被他人改过，返回 ErrConcurrentModification
func (r *CRRepository) UpdateVersioned(ctx context.Context, tx *gorm.DB, cr *entity.ChangeRequest, updates map[string]interface{}) error {
	db := r.db
	if tx != nil {
		db = tx
	}

	updates["version"] = cr.Version + 1
	res := db.WithContext(ctx).
		Model(&entity.ChangeRequest{}).
		Where("id = ? AND version = ?", cr.ID, cr.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentModification
	}
	cr.Version++
	return nil
}

// AddApproval 追加审批记录
func (r *CRRepository) AddApproval(ctx context.Context, tx *gorm.DB, approval *entity.CRApproval) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	return db.WithContext(ctx).Create(approval).Error
}

// AddHistory 追加操作历史
func (r *CRRepository) AddHistory(ctx context.Context, tx *gorm.DB, history *entity.ChangeHistory) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	return db.WithContext(ctx).Create(history).Error
}

// Delete 软删除变更请求
func (r *CRRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.ChangeRequest{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindHistories 查询操作历史
func (r *CRRepository) FindHistories(ctx context.Context, crID string) ([]entity.ChangeHistory, error) {
	var histories []entity.ChangeHistory
	err := r.db.WithContext(ctx).
		Where("cr_id = ?", crID).
		Order("created_at ASC").
		Find(&histories).Error
	return histories, err
}

// SumApprovedNewMaterialCost 汇总指定BOQ下已批准且含新材料的变更请求总额
// 余量统计用，excludeCRID 用于排除正在评估的请求自身
func (r *CRRepository) SumApprovedNewMaterialCost(ctx context.Context, boqID, excludeCRID string) (float64, error) {
	var total float64
	query := r.db.WithContext(ctx).
		Model(&entity.ChangeRequest{}).
		Select("COALESCE(SUM(total_cost), 0)").
		Where("boq_id = ? AND status = ? AND has_new_material = ?", boqID, entity.CRStatusApproved, true)
	if excludeCRID != "" {
		query = query.Where("id <> ?", excludeCRID)
	}
	err := query.Scan(&total).Error
	return total, err
}

// GenerateCode 生成变更请求编码 CR-{year}-{4位}
func (r *CRRepository) GenerateCode(ctx context.Context) (string, error) {
	year := time.Now().Format("2006")
	prefix := fmt.Sprintf("CR-%s-", year)

	var maxCode string
	err := r.db.WithContext(ctx).
		Model(&entity.ChangeRequest{}).
		Select("COALESCE(MAX(code), '')").
		Where("code LIKE ?", prefix+"%").
		Scan(&maxCode).Error
	if err != nil {
		return "", err
	}

	var seq int
	if maxCode != "" {
		fmt.Sscanf(maxCode, "CR-"+year+"-%04d", &seq)
	}
	seq++
	return fmt.Sprintf("CR-%s-%04d", year, seq), nil
}
