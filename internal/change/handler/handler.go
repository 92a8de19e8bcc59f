package handler

import (
	"errors"
	"strconv"

	"github.com/brightfog/kunlun/internal/change/repository"
	"github.com/brightfog/kunlun/internal/change/service"
	"github.com/brightfog/kunlun/internal/change/workflow"
	"github.com/gin-gonic/gin"
)

// Handlers 变更域处理器集合
type Handlers struct {
	CR *CRHandler
	PO *POHandler
}

// NewHandlers 创建变更域处理器集合
func NewHandlers(
	changeSvc *service.ChangeService,
	splitSvc *service.SplitService,
	exportSvc *service.ExportService,
) *Handlers {
	return &Handlers{
		CR: NewCRHandler(changeSvc, exportSvc),
		PO: NewPOHandler(splitSvc),
	}
}

// === 响应辅助函数 ===

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

func Conflict(c *gin.Context, code int, message string) {
	Error(c, code, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// handleError 把领域错误映射成稳定的错误码
// 角色不符走40300，状态机冲突走409xx，其余校验失败走40000
func handleError(c *gin.Context, err error) {
	var invalid *workflow.InvalidTransitionError

	switch {
	case errors.Is(err, repository.ErrNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, service.ErrValidation):
		BadRequest(c, err.Error())
	case errors.Is(err, service.ErrAlreadySplit):
		Conflict(c, 40902, err.Error())
	case errors.Is(err, service.ErrNotApproved):
		Conflict(c, 40903, err.Error())
	case errors.Is(err, repository.ErrAlreadyRouted):
		Conflict(c, 40904, err.Error())
	case errors.Is(err, repository.ErrConcurrentModification):
		Conflict(c, 40905, err.Error())
	case errors.As(err, &invalid):
		if invalid.RequiredRole != "" {
			Forbidden(c, err.Error())
		} else {
			Conflict(c, 40900, err.Error())
		}
	default:
		InternalError(c, err.Error())
	}
}

func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetOperator 从JWT上下文取操作人身份
func GetOperator(c *gin.Context) service.Operator {
	op := service.Operator{ID: GetUserID(c)}
	if name, ok := c.Get("user_name"); ok {
		op.Name, _ = name.(string)
	}
	if role, ok := c.Get("user_role"); ok {
		op.Role, _ = role.(string)
	}
	return op
}

func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

func totalPages(total int64, pageSize int) int {
	pages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		pages++
	}
	return pages
}
