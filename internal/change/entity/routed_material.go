package entity

import (
	"time"
)

// RoutedMaterial 材料行路由登记
// (cr_id, material_line_id) 唯一，保证同一材料行只会被路由到一个去向
type RoutedMaterial struct {
	ID             string `gorm:"primaryKey;size:32" json:"id"`
	CRID           string `gorm:"size:32;not null;uniqueIndex:uk_routed_cr_line" json:"cr_id"`
	MaterialLineID string `gorm:"size:32;not null;uniqueIndex:uk_routed_cr_line" json:"material_line_id"`
	POChildID      string `gorm:"size:32;index;not null" json:"po_child_id"`
	ProjectID      string `gorm:"size:32;index;not null" json:"project_id"`

	Routing string `gorm:"size:16;not null" json:"routing"`

	MaterialName string  `gorm:"size:256;not null" json:"material_name"`
	Quantity     float64 `gorm:"type:decimal(14,4);not null" json:"quantity"`
	Unit         string  `gorm:"size:32" json:"unit"`
	Amount       float64 `gorm:"type:decimal(14,2);not null" json:"amount"`

	Status      string     `gorm:"size:32;not null;default:'queued'" json:"status"`
	RoutedBy    string     `gorm:"size:32;not null" json:"routed_by"`
	RoutedAt    time.Time  `json:"routed_at"`
	PurchasedBy string     `gorm:"size:32" json:"purchased_by,omitempty"`
	PurchasedAt *time.Time `json:"purchased_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RoutedMaterial) TableName() string {
	return "routed_materials"
}

// 路由去向
const (
	RoutingVendor = "vendor" // 供应商采购
	RoutingStore  = "store"  // 门店采购
)

// 采购状态
const (
	RoutedStatusQueued    = "queued"    // 已入队，待购回
	RoutedStatusPurchased = "purchased" // 已购回
)
