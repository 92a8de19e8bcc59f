package service

import (
	"context"
	"fmt"
	"time"

	catalogrepo "github.com/brightfog/kunlun/internal/catalog/repository"
	"github.com/brightfog/kunlun/internal/change/entity"
	"github.com/brightfog/kunlun/internal/change/repository"
	"github.com/brightfog/kunlun/internal/change/workflow"
	"github.com/brightfog/kunlun/internal/shared/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 路由方式
const (
	RoutingVendor = entity.RoutingVendor
	RoutingStore  = entity.RoutingStore
)

// RoutingAssignment 单行路由指定
type RoutingAssignment struct {
	MaterialLineID string  `json:"material_line_id" binding:"required"`
	Routing        string  `json:"routing" binding:"required"`
	VendorID       *string `json:"vendor_id"`
}

// Partition 拆单分组
// 供应商分组按材料行首次出现顺序排列，门店分组固定最后
type Partition struct {
	VendorID *string
	Lines    []entity.MaterialLine
	Total    float64
}

// BuildPartitions 按路由指定把材料行分组
// 每行必须且只能被指定一次；供应商路由必须带供应商
func BuildPartitions(lines []entity.MaterialLine, assignments []RoutingAssignment) ([]Partition, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no material lines to split", ErrValidation)
	}

	byLine := make(map[string]entity.MaterialLine, len(lines))
	for _, line := range lines {
		byLine[line.ID] = line
	}

	assigned := make(map[string]bool, len(lines))
	var vendorOrder []string
	vendorGroups := make(map[string][]entity.MaterialLine)
	var storeLines []entity.MaterialLine

	for _, a := range assignments {
		line, ok := byLine[a.MaterialLineID]
		if !ok {
			return nil, fmt.Errorf("%w: material line %s does not belong to this request", ErrValidation, a.MaterialLineID)
		}
		if assigned[a.MaterialLineID] {
			return nil, fmt.Errorf("%w: material line %s assigned more than once", ErrValidation, a.MaterialLineID)
		}
		assigned[a.MaterialLineID] = true

		switch a.Routing {
		case RoutingVendor:
			if a.VendorID == nil || *a.VendorID == "" {
				return nil, fmt.Errorf("%w: vendor routing for line %s requires a vendor", ErrValidation, a.MaterialLineID)
			}
			if _, seen := vendorGroups[*a.VendorID]; !seen {
				vendorOrder = append(vendorOrder, *a.VendorID)
			}
			vendorGroups[*a.VendorID] = append(vendorGroups[*a.VendorID], line)
		case RoutingStore:
			storeLines = append(storeLines, line)
		default:
			return nil, fmt.Errorf("%w: unknown routing %q for line %s", ErrValidation, a.Routing, a.MaterialLineID)
		}
	}

	if len(assigned) != len(lines) {
		return nil, fmt.Errorf("%w: every material line must be assigned exactly once (%d of %d assigned)",
			ErrValidation, len(assigned), len(lines))
	}

	var partitions []Partition
	for _, vendorID := range vendorOrder {
		id := vendorID
		p := Partition{VendorID: &id, Lines: vendorGroups[vendorID]}
		for _, line := range p.Lines {
			p.Total += line.Amount
		}
		partitions = append(partitions, p)
	}
	if len(storeLines) > 0 {
		p := Partition{Lines: storeLines}
		for _, line := range p.Lines {
			p.Total += line.Amount
		}
		partitions = append(partitions, p)
	}
	return partitions, nil
}

// SplitService 拆单与子采购单服务
type SplitService struct {
	db         *gorm.DB
	repos      *repository.Repositories
	vendorRepo *catalogrepo.VendorRepository
	notifier   notify.Notifier
	logger     *zap.Logger
}

func NewSplitService(
	db *gorm.DB,
	repos *repository.Repositories,
	vendorRepo *catalogrepo.VendorRepository,
	notifier notify.Notifier,
	logger *zap.Logger,
) *SplitService {
	return &SplitService{
		db:         db,
		repos:      repos,
		vendorRepo: vendorRepo,
		notifier:   notifier,
		logger:     logger,
	}
}

// Split 审批通过后按路由指定拆出子采购单
// 整个拆单在一个事务里，任何一行失败全部回滚
func (s *SplitService) Split(ctx context.Context, crID string, operator Operator, assignments []RoutingAssignment) ([]entity.POChild, error) {
	cr, err := s.repos.CR.FindByID(ctx, crID)
	if err != nil {
		return nil, err
	}

	role, ok := workflow.Normalize(operator.Role)
	if !ok || !workflow.CanAct(role, entity.RoleBuyer) {
		return nil, &workflow.InvalidTransitionError{
			Action:       entity.ActionSplit,
			Status:       cr.Status,
			RequiredRole: entity.RoleBuyer,
			ActorRole:    operator.Role,
		}
	}
	if cr.Status != entity.CRStatusApproved {
		return nil, ErrNotApproved
	}
	if len(cr.Children) > 0 {
		return nil, ErrAlreadySplit
	}

	partitions, err := BuildPartitions(cr.Lines, assignments)
	if err != nil {
		return nil, err
	}
	vendorNames, err := s.resolveVendors(ctx, partitions)
	if err != nil {
		return nil, err
	}

	var children []entity.POChild
	err = s.db.Transaction(func(tx *gorm.DB) error {
		children, err = s.createChildren(ctx, tx, cr, operator, partitions, vendorNames, entity.ActionSplit)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishSplitEvents(cr, operator, children, false)

	s.logger.Info("Change request split",
		zap.String("cr_id", cr.ID),
		zap.String("code", cr.Code),
		zap.Int("children", len(children)))
	return children, nil
}

// Resplit 撤销现有拆单并按新指定重拆
// 任何子单已采购完成或门店队列里有已购回的行时拒绝
func (s *SplitService) Resplit(ctx context.Context, crID string, operator Operator, assignments []RoutingAssignment) ([]entity.POChild, error) {
	cr, err := s.repos.CR.FindByID(ctx, crID)
	if err != nil {
		return nil, err
	}

	role, ok := workflow.Normalize(operator.Role)
	if !ok || !workflow.CanAct(role, entity.RoleBuyer) {
		return nil, &workflow.InvalidTransitionError{
			Action:       entity.ActionResplit,
			Status:       cr.Status,
			RequiredRole: entity.RoleBuyer,
			ActorRole:    operator.Role,
		}
	}
	if cr.Status != entity.CRStatusApproved {
		return nil, ErrNotApproved
	}
	if len(cr.Children) == 0 {
		return nil, fmt.Errorf("%w: change request has not been split yet", ErrValidation)
	}
	for _, child := range cr.Children {
		if child.Status == entity.POChildStatusPurchaseCompleted {
			return nil, &workflow.InvalidTransitionError{Action: entity.ActionResplit, Status: child.Status}
		}
	}

	partitions, err := BuildPartitions(cr.Lines, assignments)
	if err != nil {
		return nil, err
	}
	vendorNames, err := s.resolveVendors(ctx, partitions)
	if err != nil {
		return nil, err
	}

	// 撤销和重拆在同一个事务里，失败则原拆单原样保留
	var children []entity.POChild
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var purchased int64
		if err := tx.WithContext(ctx).
			Model(&entity.RoutedMaterial{}).
			Where("cr_id = ? AND status = ?", cr.ID, entity.RoutedStatusPurchased).
			Count(&purchased).Error; err != nil {
			return err
		}
		if purchased > 0 {
			return &workflow.InvalidTransitionError{Action: entity.ActionResplit, Status: entity.RoutedStatusPurchased}
		}
		if err := tx.WithContext(ctx).
			Where("cr_id = ?", cr.ID).
			Delete(&entity.RoutedMaterial{}).Error; err != nil {
			return err
		}
		if err := s.repos.POChild.DeleteByCRID(ctx, tx, cr.ID); err != nil {
			return err
		}
		children, err = s.createChildren(ctx, tx, cr, operator, partitions, vendorNames, entity.ActionResplit)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishSplitEvents(cr, operator, children, true)
	return children, nil
}

// resolveVendors 校验并取回分组涉及的供应商名称
func (s *SplitService) resolveVendors(ctx context.Context, partitions []Partition) (map[string]string, error) {
	var vendorIDs []string
	for _, p := range partitions {
		if p.VendorID != nil {
			vendorIDs = append(vendorIDs, *p.VendorID)
		}
	}
	vendors, err := s.vendorRepo.FindByIDs(ctx, vendorIDs)
	if err != nil {
		return nil, fmt.Errorf("find vendors: %w", err)
	}
	vendorNames := make(map[string]string, len(vendors))
	for _, v := range vendors {
		vendorNames[v.ID] = v.Name
	}
	for _, id := range vendorIDs {
		if _, ok := vendorNames[id]; !ok {
			return nil, fmt.Errorf("%w: vendor %s not found", ErrValidation, id)
		}
	}
	return vendorNames, nil
}

func (s *SplitService) publishSplitEvents(cr *entity.ChangeRequest, operator Operator, children []entity.POChild, resplit bool) {
	go s.publish(notify.Event{
		EventType: notify.EventCRSplit,
		CRID:      cr.ID,
		Actor:     operator.ID,
		Metadata:  map[string]interface{}{"code": cr.Code, "children": len(children), "resplit": resplit},
	})
	for _, child := range children {
		if child.Status == entity.POChildStatusRoutedToStore {
			child := child
			go s.publish(notify.Event{
				EventType: notify.EventRoutedToStore,
				CRID:      cr.ID,
				POChildID: child.ID,
				Actor:     operator.ID,
				Metadata:  map[string]interface{}{"po_code": child.POCode},
			})
		}
	}
}

// createChildren 落库拆单结果，在调用方事务里执行
// 乐观锁更新父单版本号，挡住并发的二次拆单
func (s *SplitService) createChildren(ctx context.Context, tx *gorm.DB, cr *entity.ChangeRequest, operator Operator, partitions []Partition, vendorNames map[string]string, action string) ([]entity.POChild, error) {
	now := time.Now()
	var children []entity.POChild

	for i, p := range partitions {
		suffix := fmt.Sprintf(".%d", i+1)
		child := entity.POChild{
			ID:          uuid.New().String()[:32],
			CRID:        cr.ID,
			POCode:      "PO-" + cr.Code + suffix,
			Suffix:      suffix,
			TotalAmount: p.Total,
			Version:     1,
		}
		if p.VendorID != nil {
			child.VendorID = p.VendorID
			child.VendorName = vendorNames[*p.VendorID]
			child.Status = entity.POChildStatusPendingTDApproval
		} else {
			child.Status = entity.POChildStatusRoutedToStore
		}

		if err := tx.WithContext(ctx).Create(&child).Error; err != nil {
			return nil, err
		}

		lineIDs := make([]string, 0, len(p.Lines))
		for _, line := range p.Lines {
			lineIDs = append(lineIDs, line.ID)
		}
		if err := tx.WithContext(ctx).
			Model(&entity.MaterialLine{}).
			Where("id IN ?", lineIDs).
			Update("po_child_id", child.ID).Error; err != nil {
			return nil, err
		}

		// 每条材料行都登记去向，唯一键挡住同一行被路由两次
		routing := entity.RoutingStore
		if p.VendorID != nil {
			routing = entity.RoutingVendor
		}
		routed := make([]entity.RoutedMaterial, 0, len(p.Lines))
		for _, line := range p.Lines {
			routed = append(routed, entity.RoutedMaterial{
				ID:             uuid.New().String()[:32],
				CRID:           cr.ID,
				MaterialLineID: line.ID,
				POChildID:      child.ID,
				ProjectID:      cr.ProjectID,
				Routing:        routing,
				MaterialName:   line.Name,
				Quantity:       line.Quantity,
				Unit:           line.Unit,
				Amount:         line.Amount,
				Status:         entity.RoutedStatusQueued,
				RoutedBy:       operator.ID,
				RoutedAt:       now,
			})
		}
		if err := s.repos.Routed.CreateBatch(ctx, tx, routed); err != nil {
			return nil, err
		}

		children = append(children, child)
	}

	if err := s.repos.CR.UpdateVersioned(ctx, tx, cr, map[string]interface{}{}); err != nil {
		return nil, err
	}

	s.addHistory(ctx, tx, cr, operator, action, map[string]interface{}{"children": len(children)})
	return children, nil
}

// GetChild 查询子采购单
func (s *SplitService) GetChild(ctx context.Context, id string) (*entity.POChild, error) {
	return s.repos.POChild.FindByID(ctx, id)
}

// ListChildren 查询变更请求下的子采购单
func (s *SplitService) ListChildren(ctx context.Context, crID string) ([]entity.POChild, error) {
	if _, err := s.repos.CR.FindByID(ctx, crID); err != nil {
		return nil, err
	}
	return s.repos.POChild.FindByCRID(ctx, crID)
}

// ListPOChildren 查询子采购单列表
func (s *SplitService) ListPOChildren(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.POChild, int64, error) {
	return s.repos.POChild.FindAll(ctx, page, pageSize, filters)
}

// ApproveVendor 技术总监确认子单供应商
func (s *SplitService) ApproveVendor(ctx context.Context, childID string, operator Operator) (*entity.POChild, error) {
	child, err := s.repos.POChild.FindByID(ctx, childID)
	if err != nil {
		return nil, err
	}

	role, _ := workflow.Normalize(operator.Role)
	if !workflow.CanAct(role, entity.RoleTechnicalDirector) {
		return nil, &workflow.InvalidTransitionError{
			Action:       "approve_vendor",
			Status:       child.Status,
			RequiredRole: entity.RoleTechnicalDirector,
			ActorRole:    operator.Role,
		}
	}
	if child.Status != entity.POChildStatusPendingTDApproval {
		return nil, &workflow.InvalidTransitionError{Action: "approve_vendor", Status: child.Status}
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.repos.POChild.UpdateVersioned(ctx, tx, child, map[string]interface{}{
			"status":      entity.POChildStatusVendorApproved,
			"approved_by": operator.ID,
			"approved_at": &now,
		})
	})
	if err != nil {
		return nil, err
	}

	go s.publish(notify.Event{
		EventType: notify.EventVendorApproved,
		CRID:      child.CRID,
		POChildID: child.ID,
		Actor:     operator.ID,
		Metadata:  map[string]interface{}{"po_code": child.POCode},
	})
	return s.repos.POChild.FindByID(ctx, childID)
}

// RejectVendor 技术总监驳回子单供应商
func (s *SplitService) RejectVendor(ctx context.Context, childID string, operator Operator, reason string) (*entity.POChild, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrValidation)
	}

	child, err := s.repos.POChild.FindByID(ctx, childID)
	if err != nil {
		return nil, err
	}

	role, _ := workflow.Normalize(operator.Role)
	if !workflow.CanAct(role, entity.RoleTechnicalDirector) {
		return nil, &workflow.InvalidTransitionError{
			Action:       "reject_vendor",
			Status:       child.Status,
			RequiredRole: entity.RoleTechnicalDirector,
			ActorRole:    operator.Role,
		}
	}
	if child.Status != entity.POChildStatusPendingTDApproval {
		return nil, &workflow.InvalidTransitionError{Action: "reject_vendor", Status: child.Status}
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.repos.POChild.UpdateVersioned(ctx, tx, child, map[string]interface{}{
			"status":           entity.POChildStatusRejected,
			"rejection_reason": reason,
		})
	})
	if err != nil {
		return nil, err
	}

	go s.publish(notify.Event{
		EventType: notify.EventVendorRejected,
		CRID:      child.CRID,
		POChildID: child.ID,
		Actor:     operator.ID,
		Metadata:  map[string]interface{}{"po_code": child.POCode, "reason": reason},
	})
	return s.repos.POChild.FindByID(ctx, childID)
}

// ReselectVendor 驳回后重选供应商，回到待审状态
// 驳回原因清掉，审批轨迹留在历史里
func (s *SplitService) ReselectVendor(ctx context.Context, childID string, operator Operator, vendorID string) (*entity.POChild, error) {
	if vendorID == "" {
		return nil, fmt.Errorf("%w: vendor_id is required", ErrValidation)
	}

	child, err := s.repos.POChild.FindByID(ctx, childID)
	if err != nil {
		return nil, err
	}

	role, _ := workflow.Normalize(operator.Role)
	if !workflow.CanAct(role, entity.RoleBuyer) {
		return nil, &workflow.InvalidTransitionError{
			Action:       "reselect_vendor",
			Status:       child.Status,
			RequiredRole: entity.RoleBuyer,
			ActorRole:    operator.Role,
		}
	}
	if child.Status != entity.POChildStatusRejected {
		return nil, &workflow.InvalidTransitionError{Action: "reselect_vendor", Status: child.Status}
	}

	vendor, err := s.vendorRepo.FindByID(ctx, vendorID)
	if err != nil {
		if err == catalogrepo.ErrNotFound {
			return nil, fmt.Errorf("%w: vendor %s not found", ErrValidation, vendorID)
		}
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.repos.POChild.UpdateVersioned(ctx, tx, child, map[string]interface{}{
			"status":           entity.POChildStatusPendingTDApproval,
			"vendor_id":        vendor.ID,
			"vendor_name":      vendor.Name,
			"rejection_reason": "",
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repos.POChild.FindByID(ctx, childID)
}

// CompletePurchase 标记子单采购完成
// 子单名下登记的材料行随之标记购回
func (s *SplitService) CompletePurchase(ctx context.Context, childID string, operator Operator, notes string) (*entity.POChild, error) {
	child, err := s.repos.POChild.FindByID(ctx, childID)
	if err != nil {
		return nil, err
	}

	role, _ := workflow.Normalize(operator.Role)
	if !workflow.CanAct(role, entity.RoleBuyer) {
		return nil, &workflow.InvalidTransitionError{
			Action:       "complete_purchase",
			Status:       child.Status,
			RequiredRole: entity.RoleBuyer,
			ActorRole:    operator.Role,
		}
	}
	if child.Status != entity.POChildStatusVendorApproved && child.Status != entity.POChildStatusRoutedToStore {
		return nil, &workflow.InvalidTransitionError{Action: "complete_purchase", Status: child.Status}
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.repos.POChild.UpdateVersioned(ctx, tx, child, map[string]interface{}{
			"status":           entity.POChildStatusPurchaseCompleted,
			"completed_by":     operator.ID,
			"completed_at":     &now,
			"completion_notes": notes,
		}); err != nil {
			return err
		}
		if err := tx.WithContext(ctx).
			Model(&entity.RoutedMaterial{}).
			Where("po_child_id = ? AND status = ?", child.ID, entity.RoutedStatusQueued).
			Updates(map[string]interface{}{
				"status":       entity.RoutedStatusPurchased,
				"purchased_by": operator.ID,
				"purchased_at": &now,
			}).Error; err != nil {
			return err
		}
		if notes != "" {
			cr, err := s.repos.CR.FindByID(ctx, child.CRID)
			if err == nil {
				s.addHistory(ctx, tx, cr, operator, "complete_purchase", map[string]interface{}{
					"po_code": child.POCode,
					"notes":   notes,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	go s.publish(notify.Event{
		EventType: notify.EventPurchaseCompleted,
		CRID:      child.CRID,
		POChildID: child.ID,
		Actor:     operator.ID,
		Metadata:  map[string]interface{}{"po_code": child.POCode},
	})
	return s.repos.POChild.FindByID(ctx, childID)
}

// ListRouted 查询门店采购队列
func (s *SplitService) ListRouted(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.RoutedMaterial, int64, error) {
	return s.repos.Routed.FindAll(ctx, page, pageSize, filters)
}

// MarkRoutedPurchased 单行标记门店购回
func (s *SplitService) MarkRoutedPurchased(ctx context.Context, id string, operator Operator) error {
	role, _ := workflow.Normalize(operator.Role)
	if !workflow.CanAct(role, entity.RoleBuyer) {
		return fmt.Errorf("role %s cannot update the store purchase queue", operator.Role)
	}
	return s.repos.Routed.MarkPurchased(ctx, id, operator.ID)
}

func (s *SplitService) addHistory(ctx context.Context, tx *gorm.DB, cr *entity.ChangeRequest, operator Operator, action string, detail map[string]interface{}) {
	history := &entity.ChangeHistory{
		ID:           uuid.New().String()[:32],
		CRID:         cr.ID,
		Action:       action,
		FromStatus:   cr.Status,
		ToStatus:     cr.Status,
		OperatorID:   operator.ID,
		OperatorName: operator.Name,
		Detail:       entity.JSONB(detail),
		CreatedAt:    time.Now(),
	}
	if err := s.repos.CR.AddHistory(ctx, tx, history); err != nil {
		s.logger.Warn("Failed to add history", zap.String("cr_id", cr.ID), zap.Error(err))
	}
}

func (s *SplitService) publish(event notify.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.notifier.Publish(ctx, event)
}
