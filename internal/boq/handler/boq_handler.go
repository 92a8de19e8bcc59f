package handler

import (
	"errors"
	"strconv"

	"github.com/brightfog/kunlun/internal/boq/repository"
	"github.com/brightfog/kunlun/internal/boq/service"
	"github.com/gin-gonic/gin"
)

// BOQHandler 工程量清单处理器
type BOQHandler struct {
	svc    *service.BOQService
	margin *service.MarginService
}

func NewBOQHandler(svc *service.BOQService, margin *service.MarginService) *BOQHandler {
	return &BOQHandler{svc: svc, margin: margin}
}

// Create POST /boqs
func (h *BOQHandler) Create(c *gin.Context) {
	var req service.CreateBOQInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	userID, _ := c.Get("user_id")
	uid, _ := userID.(string)

	boq, err := h.svc.Create(c.Request.Context(), &req, uid)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	Created(c, boq)
}

// Get GET /boqs/:id
func (h *BOQHandler) Get(c *gin.Context) {
	boq, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			NotFound(c, err.Error())
			return
		}
		InternalError(c, err.Error())
		return
	}
	Success(c, boq)
}

// List GET /boqs
func (h *BOQHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"project_id": c.Query("project_id"),
		"status":     c.Query("status"),
		"search":     c.Query("search"),
	}

	items, total, err := h.svc.List(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		InternalError(c, err.Error())
		return
	}

	Success(c, gin.H{
		"items": items,
		"pagination": gin.H{
			"page":      page,
			"page_size": pageSize,
			"total":     total,
		},
	})
}

// Publish POST /boqs/:id/publish
func (h *BOQHandler) Publish(c *gin.Context) {
	boq, err := h.svc.Publish(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			NotFound(c, err.Error())
			return
		}
		BadRequest(c, err.Error())
		return
	}
	Success(c, boq)
}

// Margin GET /boqs/:id/margin
// additional_cost 参数用来预演一笔新支出对余量的影响
func (h *BOQHandler) Margin(c *gin.Context) {
	additional := 0.0
	if v := c.Query("additional_cost"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 0 {
			BadRequest(c, "additional_cost must be a non-negative number")
			return
		}
		additional = parsed
	}

	if _, err := h.svc.Get(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			NotFound(c, err.Error())
			return
		}
		InternalError(c, err.Error())
		return
	}

	report, err := h.margin.Evaluate(c.Request.Context(), c.Param("id"), additional, "")
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, report)
}

// === 响应辅助函数（与变更域保持一致） ===

type response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(200, response{Code: 0, Message: "success", Data: data})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(201, response{Code: 0, Message: "success", Data: data})
}

func BadRequest(c *gin.Context, message string) {
	c.JSON(400, response{Code: 40000, Message: message})
}

func NotFound(c *gin.Context, message string) {
	c.JSON(404, response{Code: 40400, Message: message})
}

func InternalError(c *gin.Context, message string) {
	c.JSON(500, response{Code: 50000, Message: message})
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
