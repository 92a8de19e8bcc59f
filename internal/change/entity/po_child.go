package entity

import (
	"time"
)

// POChild 拆分后的子采购单
// 变更请求审批通过后按供应商拆分，同一供应商的行合并为一张，门店采购单独一张
type POChild struct {
	ID     string `gorm:"primaryKey;size:32" json:"id"`
	CRID   string `gorm:"size:32;index;not null" json:"cr_id"`
	POCode string `gorm:"size:64;uniqueIndex;not null" json:"po_code"`
	// Suffix 拆单序号（".1"、".2"……），门店单固定排最后
	Suffix string `gorm:"size:8;not null" json:"suffix"`

	// VendorID 为空表示门店采购
	VendorID   *string `gorm:"size:32" json:"vendor_id"`
	VendorName string  `gorm:"size:128" json:"vendor_name"`

	Status      string  `gorm:"size:32;not null;default:'pending_td_approval'" json:"status"`
	TotalAmount float64 `gorm:"type:decimal(14,2);default:0" json:"total_amount"`

	RejectionReason string     `gorm:"type:text" json:"rejection_reason,omitempty"`
	ApprovedBy      string     `gorm:"size:32" json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	CompletedBy     string     `gorm:"size:32" json:"completed_by,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CompletionNotes string     `gorm:"type:text" json:"completion_notes,omitempty"`

	// Version 乐观锁版本号
	Version int `gorm:"not null;default:1" json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Lines []MaterialLine `gorm:"foreignKey:POChildID" json:"lines,omitempty"`
}

func (POChild) TableName() string {
	return "po_children"
}

// 子采购单状态
const (
	POChildStatusPendingTDApproval = "pending_td_approval" // 待技术总监审批供应商
	POChildStatusVendorApproved    = "vendor_approved"     // 供应商已确认
	POChildStatusRejected          = "rejected"            // 供应商被驳回，待重选
	POChildStatusPurchaseCompleted = "purchase_completed"  // 采购完成
	POChildStatusRoutedToStore     = "routed_to_store"     // 已转门店采购
)
