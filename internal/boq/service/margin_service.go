package service

import (
	"context"
	"fmt"

	boqrepo "github.com/brightfog/kunlun/internal/boq/repository"
	changerepo "github.com/brightfog/kunlun/internal/change/repository"
)

// MarginReport 可议价余量评估结果
type MarginReport struct {
	OriginalAllocated     float64 `json:"original_allocated"`
	AlreadyConsumed       float64 `json:"already_consumed"`
	ThisRequest           float64 `json:"this_request"`
	RemainingAfter        float64 `json:"remaining_after"`
	ConsumptionPercentage float64 `json:"consumption_percentage"`
	// ExceedsWarningThreshold 越过告警线只提示，不拦截审批
	ExceedsWarningThreshold bool `json:"exceeds_warning_threshold"`
	IsOverBudget            bool `json:"is_over_budget"`
}

// MarginService 余量评估服务
type MarginService struct {
	boqRepo          *boqrepo.BOQRepository
	crRepo           *changerepo.CRRepository
	warningThreshold float64
}

func NewMarginService(boqRepo *boqrepo.BOQRepository, crRepo *changerepo.CRRepository, warningThreshold float64) *MarginService {
	if warningThreshold <= 0 {
		warningThreshold = 60
	}
	return &MarginService{
		boqRepo:          boqRepo,
		crRepo:           crRepo,
		warningThreshold: warningThreshold,
	}
}

// Evaluate 评估一笔新材料支出对清单余量的占用
// excludeCRID 排除正在评估的请求自身，避免已批准请求重算时重复计入
func (s *MarginService) Evaluate(ctx context.Context, boqID string, thisRequest float64, excludeCRID string) (*MarginReport, error) {
	allocated, err := s.boqRepo.SumNegotiableMargin(ctx, boqID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum negotiable margin: %w", err)
	}
	consumed, err := s.crRepo.SumApprovedNewMaterialCost(ctx, boqID, excludeCRID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum consumed margin: %w", err)
	}

	report := Compute(allocated, consumed, thisRequest, s.warningThreshold)
	return &report, nil
}

// Compute 纯余量计算
// 余量为零时占用率记为0（避免除零），任何非零支出仍视为超支
func Compute(allocated, consumed, thisRequest, warningThreshold float64) MarginReport {
	report := MarginReport{
		OriginalAllocated: allocated,
		AlreadyConsumed:   consumed,
		ThisRequest:       thisRequest,
		RemainingAfter:    allocated - consumed - thisRequest,
	}

	spent := consumed + thisRequest
	if allocated <= 0 {
		if spent > 0 {
			report.IsOverBudget = true
			report.ExceedsWarningThreshold = true
		}
		return report
	}

	report.ConsumptionPercentage = spent / allocated * 100
	report.ExceedsWarningThreshold = report.ConsumptionPercentage > warningThreshold
	report.IsOverBudget = spent > allocated
	return report
}
