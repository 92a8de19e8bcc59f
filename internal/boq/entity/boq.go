package entity

import (
	"time"

	"gorm.io/gorm"
)

// BOQ 工程量清单（项目预算基线）
type BOQ struct {
	ID        string `gorm:"primaryKey;size:32" json:"id"`
	Code      string `gorm:"size:64;uniqueIndex;not null" json:"code"`
	ProjectID string `gorm:"size:32;index;not null" json:"project_id"`
	Name      string `gorm:"size:256;not null" json:"name"`
	Status    string `gorm:"size:32;not null;default:'draft'" json:"status"`

	// Discount 整单折扣率（0-1），计算可议价余量时折算到每行
	Discount float64 `gorm:"type:decimal(8,6);default:0" json:"discount"`

	CreatedBy string         `gorm:"size:32" json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Items []BOQItem `gorm:"foreignKey:BOQID" json:"items,omitempty"`
}

func (BOQ) TableName() string {
	return "boqs"
}

// BOQItem 清单行，按成本构成拆分报价
type BOQItem struct {
	ID     string `gorm:"primaryKey;size:32" json:"id"`
	BOQID  string `gorm:"size:32;index;not null" json:"boq_id"`
	ItemNo string `gorm:"size:32" json:"item_no"`
	Name   string `gorm:"size:256;not null" json:"name"`
	Unit   string `gorm:"size:32" json:"unit"`

	Quantity     float64 `gorm:"type:decimal(14,4);default:0" json:"quantity"`
	ClientAmount float64 `gorm:"type:decimal(14,2);default:0" json:"client_amount"`

	// 成本构成
	MaterialCost         float64 `gorm:"type:decimal(14,2);default:0" json:"material_cost"`
	LabourCost           float64 `gorm:"type:decimal(14,2);default:0" json:"labour_cost"`
	MiscAmount           float64 `gorm:"type:decimal(14,2);default:0" json:"misc_amount"`
	OverheadProfitAmount float64 `gorm:"type:decimal(14,2);default:0" json:"overhead_profit_amount"`
	TransportAmount      float64 `gorm:"type:decimal(14,2);default:0" json:"transport_amount"`

	// NegotiableMargin 可议价余量，BOQ定稿时一次算好落库
	NegotiableMargin float64 `gorm:"type:decimal(14,2);default:0" json:"negotiable_margin"`

	SortOrder int       `gorm:"default:0" json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (BOQItem) TableName() string {
	return "boq_items"
}

// BOQ状态
const (
	BOQStatusDraft     = "draft"     // 草稿
	BOQStatusPublished = "published" // 已定稿，可挂变更请求
	BOQStatusClosed    = "closed"    // 已关闭
)
