package entity

import (
	"time"

	"gorm.io/gorm"
)

// ChangeRequest 变更请求（追加采购/设计变更审批单）
type ChangeRequest struct {
	ID        string `gorm:"primaryKey;size:32" json:"id"`
	Code      string `gorm:"size:64;uniqueIndex;not null" json:"code"`
	BOQID     string `gorm:"size:32;index;not null" json:"boq_id"`
	ProjectID string `gorm:"size:32;index;not null" json:"project_id"`
	Title     string `gorm:"size:256;not null" json:"title"`
	Reason    string `gorm:"type:text" json:"reason"`
	Status    string `gorm:"size:32;not null;default:'pending'" json:"status"`

	// ApprovalRequiredFrom 当前等待哪个角色审批，终态时为空
	ApprovalRequiredFrom *string `gorm:"size:32;index" json:"approval_required_from"`

	RequesterID   string `gorm:"size:32;not null" json:"requester_id"`
	RequesterName string `gorm:"size:64" json:"requester_name"`
	RequesterRole string `gorm:"size:32;not null" json:"requester_role"`

	// TotalCost 行金额合计，落库缓存，供余量统计直接汇总
	TotalCost float64 `gorm:"type:decimal(14,2);default:0" json:"total_cost"`
	// HasNewMaterial 是否含清单外新材料
	HasNewMaterial bool `gorm:"default:false" json:"has_new_material"`

	RejectionReason string     `gorm:"type:text" json:"rejection_reason,omitempty"`
	ApprovedBy      string     `gorm:"size:32" json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`

	// Version 乐观锁版本号
	Version int `gorm:"not null;default:1" json:"version"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Lines     []MaterialLine  `gorm:"foreignKey:CRID" json:"lines,omitempty"`
	Approvals []CRApproval    `gorm:"foreignKey:CRID" json:"approvals,omitempty"`
	Histories []ChangeHistory `gorm:"foreignKey:CRID" json:"histories,omitempty"`
	Children  []POChild       `gorm:"foreignKey:CRID" json:"children,omitempty"`
}

func (ChangeRequest) TableName() string {
	return "change_requests"
}

// MaterialLine 变更请求材料行
type MaterialLine struct {
	ID   string `gorm:"primaryKey;size:32" json:"id"`
	CRID string `gorm:"size:32;index;not null" json:"cr_id"`

	// CatalogItemID 为空表示清单外新材料
	CatalogItemID *string `gorm:"size:32" json:"catalog_item_id"`
	Name          string  `gorm:"size:256;not null" json:"name"`
	Brand         string  `gorm:"size:128" json:"brand"`
	Size          string  `gorm:"size:64" json:"size"`
	Specification string  `gorm:"size:256" json:"specification"`
	Unit          string  `gorm:"size:32" json:"unit"`

	Quantity  float64 `gorm:"type:decimal(14,4);not null" json:"quantity"`
	UnitPrice float64 `gorm:"type:decimal(14,2);not null" json:"unit_price"`
	Amount    float64 `gorm:"type:decimal(14,2);not null" json:"amount"`

	// PreferredVendorID 申请人预选供应商，为空走门店采购
	PreferredVendorID *string `gorm:"size:32" json:"preferred_vendor_id"`

	// POChildID 拆单后回填所属子采购单
	POChildID *string `gorm:"size:32;index" json:"po_child_id"`

	SortOrder int       `gorm:"default:0" json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (MaterialLine) TableName() string {
	return "material_lines"
}

// CRApproval 审批记录
type CRApproval struct {
	ID           string    `gorm:"primaryKey;size:32" json:"id"`
	CRID         string    `gorm:"size:32;index;not null" json:"cr_id"`
	ApproverID   string    `gorm:"size:32;not null" json:"approver_id"`
	ApproverName string    `gorm:"size:64" json:"approver_name"`
	ApproverRole string    `gorm:"size:32;not null" json:"approver_role"`
	Action       string    `gorm:"size:32;not null" json:"action"`
	FromStatus   string    `gorm:"size:32" json:"from_status"`
	ToStatus     string    `gorm:"size:32" json:"to_status"`
	Comment      string    `gorm:"type:text" json:"comment"`
	CreatedAt    time.Time `json:"created_at"`
}

func (CRApproval) TableName() string {
	return "cr_approvals"
}

// ChangeHistory 变更请求操作历史
type ChangeHistory struct {
	ID           string    `gorm:"primaryKey;size:32" json:"id"`
	CRID         string    `gorm:"size:32;index;not null" json:"cr_id"`
	Action       string    `gorm:"size:64;not null" json:"action"`
	FromStatus   string    `gorm:"size:32" json:"from_status"`
	ToStatus     string    `gorm:"size:32" json:"to_status"`
	OperatorID   string    `gorm:"size:32;not null" json:"operator_id"`
	OperatorName string    `gorm:"size:64" json:"operator_name"`
	Detail       JSONB     `gorm:"type:jsonb" json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (ChangeHistory) TableName() string {
	return "change_histories"
}

// 变更请求状态
const (
	CRStatusPending      = "pending"        // 待提交
	CRStatusUnderReview  = "under_review"   // 第一级审批中
	CRStatusApprovedByPM = "approved_by_pm" // 项目经理已批
	CRStatusApprovedByTD = "approved_by_td" // 技术总监已批
	CRStatusApproved     = "approved"       // 审批通过
	CRStatusRejected     = "rejected"       // 已驳回
)

// 角色
const (
	RoleSiteEngineer      = "site_engineer"      // 现场工程师
	RoleProjectManager    = "project_manager"    // 项目经理
	RoleTechnicalDirector = "technical_director" // 技术总监
	RoleEstimator         = "estimator"          // 预算员
	RoleBuyer             = "buyer"              // 采购员（当前由预算员兼任）
	RoleAdmin             = "admin"              // 管理员
)

// 审批动作
const (
	ActionCreate        = "create"
	ActionSendForReview = "send_for_review"
	ActionApprove       = "approve"
	ActionReject        = "reject"
	ActionResend        = "resend"
	ActionSplit         = "split"
	ActionResplit       = "resplit"
)
