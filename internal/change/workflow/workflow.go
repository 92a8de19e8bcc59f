// Package workflow 变更请求审批路由
//
// 审批链由发起人角色和是否预选供应商决定：
//
//	现场工程师发起，未预选供应商: 项目经理 -> 预算员
//	现场工程师发起，已预选供应商: 项目经理 -> 技术总监 -> 预算员
//	项目经理发起:                预算员（供应商审核下沉到子采购单）
//
// 预算员始终收尾。状态记录的是最近一级批准人，这里只做纯状态推导，
// 不碰数据库，持久化和并发控制在 service/repository 层。
package workflow

import (
	"fmt"
	"strings"

	"github.com/brightfog/kunlun/internal/change/entity"
)

// Normalize 角色名归一化
// 兼容 "Technical Director"、"technical_director"、"td" 等写法
func Normalize(role string) (string, bool) {
	key := strings.ToLower(role)
	key = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key)
	switch key {
	case "siteengineer", "se":
		return entity.RoleSiteEngineer, true
	case "projectmanager", "pm":
		return entity.RoleProjectManager, true
	case "technicaldirector", "td":
		return entity.RoleTechnicalDirector, true
	case "estimator":
		return entity.RoleEstimator, true
	case "buyer", "purchaser":
		return entity.RoleBuyer, true
	case "admin", "administrator":
		return entity.RoleAdmin, true
	}
	return "", false
}

// InvalidTransitionError 非法状态迁移
type InvalidTransitionError struct {
	Action       string
	Status       string
	RequiredRole string
	ActorRole    string
}

func (e *InvalidTransitionError) Error() string {
	if e.RequiredRole != "" {
		return fmt.Sprintf("cannot %s in status %s: requires role %s, actor role is %s",
			e.Action, e.Status, e.RequiredRole, e.ActorRole)
	}
	return fmt.Sprintf("cannot %s in status %s", e.Action, e.Status)
}

// Route 一条变更请求的审批路径参数
type Route struct {
	RequesterRole      string
	HasPreferredVendor bool
}

// Approvers 返回完整审批链（按审批先后顺序）
func (r Route) Approvers() ([]string, error) {
	switch r.RequesterRole {
	case entity.RoleSiteEngineer:
		if r.HasPreferredVendor {
			return []string{entity.RoleProjectManager, entity.RoleTechnicalDirector, entity.RoleEstimator}, nil
		}
		return []string{entity.RoleProjectManager, entity.RoleEstimator}, nil
	case entity.RoleProjectManager:
		return []string{entity.RoleEstimator}, nil
	}
	return nil, fmt.Errorf("role %s cannot initiate change requests", r.RequesterRole)
}

// RequiredApprover 返回当前状态下应当审批的角色
// 终态以及待提交状态没有审批人
func (r Route) RequiredApprover(status string) (string, bool) {
	chain, err := r.Approvers()
	if err != nil {
		return "", false
	}

	var last string
	switch status {
	case entity.CRStatusUnderReview:
		return chain[0], true
	case entity.CRStatusApprovedByPM:
		last = entity.RoleProjectManager
	case entity.CRStatusApprovedByTD:
		last = entity.RoleTechnicalDirector
	default:
		return "", false
	}

	for i, role := range chain {
		if role == last && i+1 < len(chain) {
			return chain[i+1], true
		}
	}
	return "", false
}

// Advance 计算一次批准之后的状态和下一级审批人
// 批准人不匹配或当前状态不可批准时返回 InvalidTransitionError
func Advance(status, actorRole string, r Route) (next string, nextApprover *string, err error) {
	required, ok := r.RequiredApprover(status)
	if !ok {
		return "", nil, &InvalidTransitionError{Action: entity.ActionApprove, Status: status}
	}
	if !CanAct(actorRole, required) {
		return "", nil, &InvalidTransitionError{
			Action:       entity.ActionApprove,
			Status:       status,
			RequiredRole: required,
			ActorRole:    actorRole,
		}
	}

	next = statusAfter(required)
	if n, ok := r.RequiredApprover(next); ok {
		nextApprover = &n
	}
	return next, nextApprover, nil
}

func statusAfter(approver string) string {
	switch approver {
	case entity.RoleProjectManager:
		return entity.CRStatusApprovedByPM
	case entity.RoleTechnicalDirector:
		return entity.CRStatusApprovedByTD
	case entity.RoleEstimator:
		return entity.CRStatusApproved
	}
	return ""
}

// CanAct 判断操作人是否可以代行指定角色
// 管理员可以代行任何角色；采购员岗位暂由预算员兼任
func CanAct(actorRole, requiredRole string) bool {
	if actorRole == requiredRole {
		return true
	}
	if actorRole == entity.RoleAdmin {
		return true
	}
	if requiredRole == entity.RoleBuyer && actorRole == entity.RoleEstimator {
		return true
	}
	return false
}
