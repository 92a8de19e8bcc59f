package service

import (
	"context"
	"fmt"

	"github.com/brightfog/kunlun/internal/boq/entity"
	"github.com/brightfog/kunlun/internal/boq/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BOQService 工程量清单服务
type BOQService struct {
	repo   *repository.BOQRepository
	logger *zap.Logger
}

func NewBOQService(repo *repository.BOQRepository, logger *zap.Logger) *BOQService {
	return &BOQService{repo: repo, logger: logger}
}

// CreateBOQInput 创建清单入参
type CreateBOQInput struct {
	ProjectID string               `json:"project_id" binding:"required"`
	Name      string               `json:"name" binding:"required"`
	Discount  float64              `json:"discount"`
	Items     []CreateBOQItemInput `json:"items"`
}

type CreateBOQItemInput struct {
	ItemNo               string  `json:"item_no"`
	Name                 string  `json:"name" binding:"required"`
	Unit                 string  `json:"unit"`
	Quantity             float64 `json:"quantity"`
	ClientAmount         float64 `json:"client_amount"`
	MaterialCost         float64 `json:"material_cost"`
	LabourCost           float64 `json:"labour_cost"`
	MiscAmount           float64 `json:"misc_amount"`
	OverheadProfitAmount float64 `json:"overhead_profit_amount"`
	TransportAmount      float64 `json:"transport_amount"`
}

// Create 创建清单
// 每行的可议价余量在创建时算好落库，后面余量统计直接汇总
func (s *BOQService) Create(ctx context.Context, input *CreateBOQInput, userID string) (*entity.BOQ, error) {
	if input.Discount < 0 || input.Discount >= 1 {
		return nil, fmt.Errorf("discount must be in [0, 1)")
	}

	code, err := s.repo.GenerateCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	boq := &entity.BOQ{
		ID:        uuid.New().String()[:32],
		Code:      code,
		ProjectID: input.ProjectID,
		Name:      input.Name,
		Status:    entity.BOQStatusDraft,
		Discount:  input.Discount,
		CreatedBy: userID,
	}

	for i, item := range input.Items {
		line := entity.BOQItem{
			ID:                   uuid.New().String()[:32],
			BOQID:                boq.ID,
			ItemNo:               item.ItemNo,
			Name:                 item.Name,
			Unit:                 item.Unit,
			Quantity:             item.Quantity,
			ClientAmount:         item.ClientAmount,
			MaterialCost:         item.MaterialCost,
			LabourCost:           item.LabourCost,
			MiscAmount:           item.MiscAmount,
			OverheadProfitAmount: item.OverheadProfitAmount,
			TransportAmount:      item.TransportAmount,
			SortOrder:            i + 1,
		}
		line.NegotiableMargin = ItemMargin(line, input.Discount)
		boq.Items = append(boq.Items, line)
	}

	if err := s.repo.Create(ctx, boq); err != nil {
		return nil, fmt.Errorf("failed to create boq: %w", err)
	}

	s.logger.Info("BOQ created",
		zap.String("boq_id", boq.ID),
		zap.String("code", boq.Code),
		zap.Int("items", len(boq.Items)))
	return boq, nil
}

// ItemMargin 单行可议价余量
// 折后客户报价减去全部成本构成，为负时记0
func ItemMargin(item entity.BOQItem, discount float64) float64 {
	cost := item.MaterialCost + item.LabourCost + item.MiscAmount +
		item.OverheadProfitAmount + item.TransportAmount
	margin := item.ClientAmount*(1-discount) - cost
	if margin < 0 {
		return 0
	}
	return margin
}

// Get 查询清单详情
func (s *BOQService) Get(ctx context.Context, id string) (*entity.BOQ, error) {
	return s.repo.FindByID(ctx, id)
}

// List 查询清单列表
func (s *BOQService) List(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.BOQ, int64, error) {
	return s.repo.FindAll(ctx, page, pageSize, filters)
}

// Publish 清单定稿
// 只有定稿清单允许挂变更请求
func (s *BOQService) Publish(ctx context.Context, id string) (*entity.BOQ, error) {
	boq, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if boq.Status != entity.BOQStatusDraft {
		return nil, fmt.Errorf("only draft boq can be published, current status: %s", boq.Status)
	}
	if err := s.repo.UpdateStatus(ctx, id, entity.BOQStatusPublished); err != nil {
		return nil, err
	}
	boq.Status = entity.BOQStatusPublished

	s.logger.Info("BOQ published", zap.String("boq_id", id), zap.String("code", boq.Code))
	return boq, nil
}
