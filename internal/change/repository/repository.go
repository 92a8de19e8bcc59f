package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConcurrentModification 乐观锁版本冲突
	ErrConcurrentModification = errors.New("record was modified concurrently")
	// ErrAlreadyRouted 材料行已转门店采购
	ErrAlreadyRouted = errors.New("material line already routed to store")
)

// Repositories 变更域仓库集合
type Repositories struct {
	CR      *CRRepository
	POChild *POChildRepository
	Routed  *RoutedRepository
}

// NewRepositories 创建变更域仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		CR:      NewCRRepository(db),
		POChild: NewPOChildRepository(db),
		Routed:  NewRoutedRepository(db),
	}
}
