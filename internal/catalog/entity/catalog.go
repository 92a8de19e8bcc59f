package entity

import (
	"time"

	"gorm.io/gorm"
)

// CatalogItem 材料目录项（公司级材料库）
type CatalogItem struct {
	ID            string `gorm:"primaryKey;size:32" json:"id"`
	Code          string `gorm:"size:64;uniqueIndex;not null" json:"code"`
	Name          string `gorm:"size:256;not null" json:"name"`
	Specification string `gorm:"size:256" json:"specification"`
	Category      string `gorm:"size:64;index" json:"category"`
	Unit          string `gorm:"size:32" json:"unit"`

	// ReferencePrice 参考单价，用于材料行录入时预填
	ReferencePrice float64 `gorm:"type:decimal(14,2);default:0" json:"reference_price"`

	Status    string         `gorm:"size:32;not null;default:'active'" json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (CatalogItem) TableName() string {
	return "catalog_items"
}

// Vendor 供应商
type Vendor struct {
	ID      string `gorm:"primaryKey;size:32" json:"id"`
	Code    string `gorm:"size:64;uniqueIndex;not null" json:"code"`
	Name    string `gorm:"size:128;not null" json:"name"`
	Contact string `gorm:"size:64" json:"contact"`
	Phone   string `gorm:"size:32" json:"phone"`
	Email   string `gorm:"size:128" json:"email"`
	Address string `gorm:"size:256" json:"address"`

	// Categories 供货品类
	Categories string `gorm:"size:256" json:"categories"`

	Status    string         `gorm:"size:32;not null;default:'active'" json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Vendor) TableName() string {
	return "vendors"
}

const (
	CatalogStatusActive   = "active"
	CatalogStatusInactive = "inactive"

	VendorStatusActive   = "active"
	VendorStatusInactive = "inactive"
)
