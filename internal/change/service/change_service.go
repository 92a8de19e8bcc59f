package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	boqentity "github.com/brightfog/kunlun/internal/boq/entity"
	boqrepo "github.com/brightfog/kunlun/internal/boq/repository"
	boqservice "github.com/brightfog/kunlun/internal/boq/service"
	catalogrepo "github.com/brightfog/kunlun/internal/catalog/repository"
	"github.com/brightfog/kunlun/internal/change/entity"
	"github.com/brightfog/kunlun/internal/change/repository"
	"github.com/brightfog/kunlun/internal/change/workflow"
	"github.com/brightfog/kunlun/internal/shared/archive"
	"github.com/brightfog/kunlun/internal/shared/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrValidation 入参校验失败
	ErrValidation = errors.New("validation failed")
	// ErrNotApproved 变更请求尚未审批通过
	ErrNotApproved = errors.New("change request is not approved")
	// ErrAlreadySplit 变更请求已拆单
	ErrAlreadySplit = errors.New("change request is already split")
)

// ChangeService 变更请求服务
type ChangeService struct {
	db          *gorm.DB
	repos       *repository.Repositories
	boqRepo     *boqrepo.BOQRepository
	catalogRepo *catalogrepo.CatalogRepository
	vendorRepo  *catalogrepo.VendorRepository
	margin      *boqservice.MarginService
	notifier    notify.Notifier
	archiver    *archive.Archiver
	logger      *zap.Logger
}

func NewChangeService(
	db *gorm.DB,
	repos *repository.Repositories,
	boqRepo *boqrepo.BOQRepository,
	catalogRepo *catalogrepo.CatalogRepository,
	vendorRepo *catalogrepo.VendorRepository,
	margin *boqservice.MarginService,
	notifier notify.Notifier,
	archiver *archive.Archiver,
	logger *zap.Logger,
) *ChangeService {
	return &ChangeService{
		db:          db,
		repos:       repos,
		boqRepo:     boqRepo,
		catalogRepo: catalogRepo,
		vendorRepo:  vendorRepo,
		margin:      margin,
		notifier:    notifier,
		archiver:    archiver,
		logger:      logger,
	}
}

// CreateChangeRequest 创建变更请求入参
type CreateChangeRequest struct {
	BOQID  string              `json:"boq_id"`
	Title  string              `json:"title" binding:"required"`
	Reason string              `json:"reason"`
	Lines  []MaterialLineInput `json:"lines" binding:"required"`
}

type MaterialLineInput struct {
	CatalogItemID     *string `json:"catalog_item_id"`
	Name              string  `json:"name" binding:"required"`
	Brand             string  `json:"brand"`
	Size              string  `json:"size"`
	Specification     string  `json:"specification"`
	Unit              string  `json:"unit"`
	Quantity          float64 `json:"quantity" binding:"required"`
	UnitPrice         float64 `json:"unit_price"`
	PreferredVendorID *string `json:"preferred_vendor_id"`
}

// ChangeRequestResult 创建/查询结果，余量评估随单返回
type ChangeRequestResult struct {
	CR     *entity.ChangeRequest    `json:"change_request"`
	Margin *boqservice.MarginReport `json:"margin,omitempty"`
}

// Create 创建变更请求
// 只有现场工程师和项目经理可以发起，挂在已定稿的清单下
func (s *ChangeService) Create(ctx context.Context, operator Operator, req *CreateChangeRequest) (*ChangeRequestResult, error) {
	role, ok := workflow.Normalize(operator.Role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, operator.Role)
	}

	route := workflow.Route{RequesterRole: role}
	if _, err := route.Approvers(); err != nil {
		return nil, fmt.Errorf("role %s is not allowed to create change requests", role)
	}

	boq, err := s.boqRepo.FindByID(ctx, req.BOQID)
	if err != nil {
		if errors.Is(err, boqrepo.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("find boq: %w", err)
	}
	if boq.Status != boqentity.BOQStatusPublished {
		return nil, fmt.Errorf("%w: boq %s is not published", ErrValidation, boq.Code)
	}

	lines, totalCost, hasNewMaterial, err := s.buildLines(ctx, req.Lines)
	if err != nil {
		return nil, err
	}

	code, err := s.repos.CR.GenerateCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	cr := &entity.ChangeRequest{
		ID:             uuid.New().String()[:32],
		Code:           code,
		BOQID:          boq.ID,
		ProjectID:      boq.ProjectID,
		Title:          req.Title,
		Reason:         req.Reason,
		Status:         entity.CRStatusPending,
		RequesterID:    operator.ID,
		RequesterName:  operator.Name,
		RequesterRole:  role,
		TotalCost:      totalCost,
		HasNewMaterial: hasNewMaterial,
		Version:        1,
		Lines:          lines,
	}
	for i := range cr.Lines {
		cr.Lines[i].CRID = cr.ID
	}

	if err := s.repos.CR.Create(ctx, cr); err != nil {
		return nil, fmt.Errorf("create change request: %w", err)
	}

	s.addHistory(ctx, nil, cr.ID, operator, entity.ActionCreate, "", entity.CRStatusPending, map[string]interface{}{
		"total_cost":       totalCost,
		"has_new_material": hasNewMaterial,
	})

	result := &ChangeRequestResult{CR: cr}
	if hasNewMaterial {
		report, err := s.margin.Evaluate(ctx, boq.ID, totalCost, "")
		if err != nil {
			s.logger.Warn("Failed to evaluate margin", zap.String("cr_id", cr.ID), zap.Error(err))
		} else {
			result.Margin = report
		}
	}

	s.logger.Info("Change request created",
		zap.String("cr_id", cr.ID),
		zap.String("code", cr.Code),
		zap.Float64("total_cost", totalCost),
		zap.Bool("has_new_material", hasNewMaterial))
	return result, nil
}

// buildLines 校验并装配材料行
func (s *ChangeService) buildLines(ctx context.Context, inputs []MaterialLineInput) ([]entity.MaterialLine, float64, bool, error) {
	if len(inputs) == 0 {
		return nil, 0, false, fmt.Errorf("%w: at least one material line is required", ErrValidation)
	}

	var catalogIDs, vendorIDs []string
	for _, in := range inputs {
		if in.CatalogItemID != nil && *in.CatalogItemID != "" {
			catalogIDs = append(catalogIDs, *in.CatalogItemID)
		}
		if in.PreferredVendorID != nil && *in.PreferredVendorID != "" {
			vendorIDs = append(vendorIDs, *in.PreferredVendorID)
		}
	}

	knownItems := make(map[string]bool)
	if len(catalogIDs) > 0 {
		items, err := s.catalogRepo.FindByIDs(ctx, catalogIDs)
		if err != nil {
			return nil, 0, false, fmt.Errorf("find catalog items: %w", err)
		}
		for _, item := range items {
			knownItems[item.ID] = true
		}
	}
	knownVendors := make(map[string]bool)
	if len(vendorIDs) > 0 {
		vendors, err := s.vendorRepo.FindByIDs(ctx, vendorIDs)
		if err != nil {
			return nil, 0, false, fmt.Errorf("find vendors: %w", err)
		}
		for _, v := range vendors {
			knownVendors[v.ID] = true
		}
	}

	var lines []entity.MaterialLine
	var totalCost float64
	hasNewMaterial := false

	for i, in := range inputs {
		if in.Quantity <= 0 {
			return nil, 0, false, fmt.Errorf("%w: line %d quantity must be positive", ErrValidation, i+1)
		}
		if in.UnitPrice < 0 {
			return nil, 0, false, fmt.Errorf("%w: line %d unit price cannot be negative", ErrValidation, i+1)
		}

		line := entity.MaterialLine{
			ID:            uuid.New().String()[:32],
			Name:          in.Name,
			Brand:         in.Brand,
			Size:          in.Size,
			Specification: in.Specification,
			Unit:          in.Unit,
			Quantity:      in.Quantity,
			UnitPrice:     in.UnitPrice,
			Amount:        in.Quantity * in.UnitPrice,
			SortOrder:     i + 1,
		}

		if in.CatalogItemID != nil && *in.CatalogItemID != "" {
			if !knownItems[*in.CatalogItemID] {
				return nil, 0, false, fmt.Errorf("%w: line %d catalog item %s not found", ErrValidation, i+1, *in.CatalogItemID)
			}
			line.CatalogItemID = in.CatalogItemID
		} else {
			hasNewMaterial = true
		}

		if in.PreferredVendorID != nil && *in.PreferredVendorID != "" {
			if !knownVendors[*in.PreferredVendorID] {
				return nil, 0, false, fmt.Errorf("%w: line %d vendor %s not found", ErrValidation, i+1, *in.PreferredVendorID)
			}
			line.PreferredVendorID = in.PreferredVendorID
		}

		totalCost += line.Amount
		lines = append(lines, line)
	}

	return lines, totalCost, hasNewMaterial, nil
}

// Operator 操作人身份，从JWT取出
type Operator struct {
	ID   string
	Name string
	Role string
}

// SendForReview 提交审批
// 只有发起人本人（或管理员）可以提交，状态从待提交进入审批中
func (s *ChangeService) SendForReview(ctx context.Context, id string, operator Operator) (*entity.ChangeRequest, error) {
	cr, err := s.repos.CR.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	role, _ := workflow.Normalize(operator.Role)
	if cr.RequesterID != operator.ID && role != entity.RoleAdmin {
		return nil, fmt.Errorf("only the requester can send for review")
	}
	if cr.Status != entity.CRStatusPending {
		return nil, &workflow.InvalidTransitionError{Action: entity.ActionSendForReview, Status: cr.Status}
	}

	route := s.routeOf(cr)
	chain, err := route.Approvers()
	if err != nil {
		return nil, err
	}
	first := chain[0]

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.repos.CR.UpdateVersioned(ctx, tx, cr, map[string]interface{}{
			"status":                 entity.CRStatusUnderReview,
			"approval_required_from": first,
		}); err != nil {
			return err
		}
		s.addHistory(ctx, tx, cr.ID, operator, entity.ActionSendForReview, entity.CRStatusPending, entity.CRStatusUnderReview, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	go s.publish(notify.Event{
		EventType:  notify.EventCRSubmitted,
		CRID:       cr.ID,
		Actor:      operator.ID,
		TargetRole: first,
		Metadata:   map[string]interface{}{"code": cr.Code},
	})

	return s.repos.CR.FindByID(ctx, id)
}

// Approve 审批通过当前环节
// 环节推进由审批链决定，预算员批准后整单通过
func (s *ChangeService) Approve(ctx context.Context, id string, operator Operator, comment string) (*entity.ChangeRequest, error) {
	cr, err := s.repos.CR.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	role, ok := workflow.Normalize(operator.Role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, operator.Role)
	}

	next, nextApprover, err := workflow.Advance(cr.Status, role, s.routeOf(cr))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":                 next,
		"approval_required_from": nextApprover,
	}
	if next == entity.CRStatusApproved {
		updates["approved_by"] = operator.ID
		updates["approved_at"] = &now
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.repos.CR.UpdateVersioned(ctx, tx, cr, updates); err != nil {
			return err
		}
		if err := s.repos.CR.AddApproval(ctx, tx, &entity.CRApproval{
			ID:           uuid.New().String()[:32],
			CRID:         cr.ID,
			ApproverID:   operator.ID,
			ApproverName: operator.Name,
			ApproverRole: role,
			Action:       entity.ActionApprove,
			FromStatus:   cr.Status,
			ToStatus:     next,
			Comment:      comment,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		s.addHistory(ctx, tx, cr.ID, operator, entity.ActionApprove, cr.Status, next, map[string]interface{}{
			"comment": comment,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	event := notify.Event{
		EventType: notify.EventCRApproved,
		CRID:      cr.ID,
		Actor:     operator.ID,
		Metadata:  map[string]interface{}{"code": cr.Code, "status": next},
	}
	if nextApprover != nil {
		event.TargetRole = *nextApprover
	}
	go s.publish(event)

	if next == entity.CRStatusApproved {
		go s.archiveSnapshot(cr.ID)
	}

	return s.repos.CR.FindByID(ctx, id)
}

// Reject 驳回
// 当前环节审批人可驳回，驳回原因必填，驳回后发起人可修改重提
func (s *ChangeService) Reject(ctx context.Context, id string, operator Operator, reason string) (*entity.ChangeRequest, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrValidation)
	}

	cr, err := s.repos.CR.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	role, ok := workflow.Normalize(operator.Role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, operator.Role)
	}

	route := s.routeOf(cr)
	required, reviewable := route.RequiredApprover(cr.Status)
	if !reviewable {
		return nil, &workflow.InvalidTransitionError{Action: entity.ActionReject, Status: cr.Status}
	}
	if !workflow.CanAct(role, required) {
		return nil, &workflow.InvalidTransitionError{
			Action:       entity.ActionReject,
			Status:       cr.Status,
			RequiredRole: required,
			ActorRole:    role,
		}
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.repos.CR.UpdateVersioned(ctx, tx, cr, map[string]interface{}{
			"status":                 entity.CRStatusRejected,
			"approval_required_from": nil,
			"rejection_reason":       reason,
		}); err != nil {
			return err
		}
		if err := s.repos.CR.AddApproval(ctx, tx, &entity.CRApproval{
			ID:           uuid.New().String()[:32],
			CRID:         cr.ID,
			ApproverID:   operator.ID,
			ApproverName: operator.Name,
			ApproverRole: role,
			Action:       entity.ActionReject,
			FromStatus:   cr.Status,
			ToStatus:     entity.CRStatusRejected,
			Comment:      reason,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		s.addHistory(ctx, tx, cr.ID, operator, entity.ActionReject, cr.Status, entity.CRStatusRejected, map[string]interface{}{
			"reason": reason,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	go s.publish(notify.Event{
		EventType:  notify.EventCRRejected,
		CRID:       cr.ID,
		Actor:      operator.ID,
		TargetRole: cr.RequesterRole,
		Metadata:   map[string]interface{}{"code": cr.Code, "reason": reason},
	})

	return s.repos.CR.FindByID(ctx, id)
}

// ResendRequest 重提入参，行为空表示沿用原材料行
type ResendRequest struct {
	Title  string              `json:"title"`
	Reason string              `json:"reason"`
	Lines  []MaterialLineInput `json:"lines"`
}

// Resend 驳回后修改重提
// 回到待提交状态，由发起人重新 send_for_review，审批链从头重走
func (s *ChangeService) Resend(ctx context.Context, id string, operator Operator, req *ResendRequest) (*entity.ChangeRequest, error) {
	cr, err := s.repos.CR.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	role, _ := workflow.Normalize(operator.Role)
	if cr.RequesterID != operator.ID && role != entity.RoleAdmin {
		return nil, fmt.Errorf("only the requester can resend")
	}
	if cr.Status != entity.CRStatusRejected {
		return nil, &workflow.InvalidTransitionError{Action: entity.ActionResend, Status: cr.Status}
	}

	updates := map[string]interface{}{
		"status":                 entity.CRStatusPending,
		"approval_required_from": nil,
		"rejection_reason":       "",
	}
	if req.Title != "" {
		updates["title"] = req.Title
	}
	if req.Reason != "" {
		updates["reason"] = req.Reason
	}

	var newLines []entity.MaterialLine
	if len(req.Lines) > 0 {
		lines, totalCost, hasNewMaterial, err := s.buildLines(ctx, req.Lines)
		if err != nil {
			return nil, err
		}
		for i := range lines {
			lines[i].CRID = cr.ID
		}
		newLines = lines
		updates["total_cost"] = totalCost
		updates["has_new_material"] = hasNewMaterial
		cr.HasNewMaterial = hasNewMaterial
		cr.Lines = lines
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if newLines != nil {
			if err := tx.WithContext(ctx).Where("cr_id = ?", cr.ID).Delete(&entity.MaterialLine{}).Error; err != nil {
				return err
			}
			if err := tx.WithContext(ctx).Create(&newLines).Error; err != nil {
				return err
			}
		}
		if err := s.repos.CR.UpdateVersioned(ctx, tx, cr, updates); err != nil {
			return err
		}
		s.addHistory(ctx, tx, cr.ID, operator, entity.ActionResend, entity.CRStatusRejected, entity.CRStatusPending, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	go s.publish(notify.Event{
		EventType: notify.EventCRResent,
		CRID:      cr.ID,
		Actor:     operator.ID,
		Metadata:  map[string]interface{}{"code": cr.Code},
	})

	return s.repos.CR.FindByID(ctx, id)
}

// Delete 软删除变更请求
// 仅发起人或管理员可删，进入审批链或已通过的单子不允许删
func (s *ChangeService) Delete(ctx context.Context, id string, operator Operator) error {
	cr, err := s.repos.CR.FindByID(ctx, id)
	if err != nil {
		return err
	}

	role, _ := workflow.Normalize(operator.Role)
	if cr.RequesterID != operator.ID && role != entity.RoleAdmin {
		return fmt.Errorf("only the requester can delete")
	}
	if cr.Status != entity.CRStatusPending && cr.Status != entity.CRStatusRejected {
		return &workflow.InvalidTransitionError{Action: "delete", Status: cr.Status}
	}
	return s.repos.CR.Delete(ctx, id)
}

// Get 查询变更请求详情
func (s *ChangeService) Get(ctx context.Context, id string) (*entity.ChangeRequest, error) {
	return s.repos.CR.FindByID(ctx, id)
}

// List 查询变更请求列表
func (s *ChangeService) List(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.ChangeRequest, int64, error) {
	return s.repos.CR.FindAll(ctx, page, pageSize, filters)
}

// ListHistory 查询操作历史
func (s *ChangeService) ListHistory(ctx context.Context, id string) ([]entity.ChangeHistory, error) {
	if _, err := s.repos.CR.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repos.CR.FindHistories(ctx, id)
}

// EvaluateMargin 评估指定变更请求的余量占用
func (s *ChangeService) EvaluateMargin(ctx context.Context, id string) (*boqservice.MarginReport, error) {
	cr, err := s.repos.CR.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cr.HasNewMaterial {
		return s.margin.Evaluate(ctx, cr.BOQID, 0, "")
	}
	// 已批准的请求已计入消耗，评估时排除自身避免重复
	exclude := ""
	if cr.Status == entity.CRStatusApproved {
		exclude = cr.ID
	}
	return s.margin.Evaluate(ctx, cr.BOQID, cr.TotalCost, exclude)
}

func (s *ChangeService) routeOf(cr *entity.ChangeRequest) workflow.Route {
	hasVendor := false
	for _, line := range cr.Lines {
		if line.PreferredVendorID != nil && *line.PreferredVendorID != "" {
			hasVendor = true
			break
		}
	}
	return workflow.Route{RequesterRole: cr.RequesterRole, HasPreferredVendor: hasVendor}
}

// addHistory 追加操作历史，失败只记日志
func (s *ChangeService) addHistory(ctx context.Context, tx *gorm.DB, crID string, operator Operator, action, from, to string, detail map[string]interface{}) {
	history := &entity.ChangeHistory{
		ID:           uuid.New().String()[:32],
		CRID:         crID,
		Action:       action,
		FromStatus:   from,
		ToStatus:     to,
		OperatorID:   operator.ID,
		OperatorName: operator.Name,
		Detail:       entity.JSONB(detail),
		CreatedAt:    time.Now(),
	}
	if err := s.repos.CR.AddHistory(ctx, tx, history); err != nil {
		s.logger.Warn("Failed to add history", zap.String("cr_id", crID), zap.Error(err))
	}
}

func (s *ChangeService) publish(event notify.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.notifier.Publish(ctx, event)
}

// archiveSnapshot 归档审批通过的快照
func (s *ChangeService) archiveSnapshot(crID string) {
	if !s.archiver.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cr, err := s.repos.CR.FindByID(ctx, crID)
	if err != nil {
		s.logger.Warn("Failed to load change request for archiving", zap.String("cr_id", crID), zap.Error(err))
		return
	}
	if err := s.archiver.StoreSnapshot(ctx, cr.Code, cr); err != nil {
		s.logger.Warn("Failed to archive change request", zap.String("cr_id", crID), zap.Error(err))
	}
}
