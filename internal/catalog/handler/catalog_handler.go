package handler

import (
	"errors"
	"strconv"

	"github.com/brightfog/kunlun/internal/catalog/entity"
	"github.com/brightfog/kunlun/internal/catalog/repository"
	"github.com/brightfog/kunlun/internal/catalog/service"
	"github.com/gin-gonic/gin"
)

// CatalogHandler 材料目录与供应商处理器
type CatalogHandler struct {
	svc *service.CatalogService
}

func NewCatalogHandler(svc *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{svc: svc}
}

// ListItems GET /catalog-items
func (h *CatalogHandler) ListItems(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"category": c.Query("category"),
		"status":   c.Query("status"),
		"search":   c.Query("search"),
	}

	items, total, err := h.svc.ListItems(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, gin.H{"items": items, "total": total})
}

// LookupItem GET /catalog-items/lookup?id=
// 材料行录入时判断是否目录内材料
func (h *CatalogHandler) LookupItem(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		BadRequest(c, "id is required")
		return
	}

	item, err := h.svc.GetItem(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			Success(c, gin.H{"found": false})
			return
		}
		InternalError(c, err.Error())
		return
	}
	Success(c, gin.H{"found": true, "item": item})
}

// CreateItem POST /catalog-items
func (h *CatalogHandler) CreateItem(c *gin.Context) {
	var req entity.CatalogItem
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	item, err := h.svc.CreateItem(c.Request.Context(), &req)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	Created(c, item)
}

// ListVendors GET /vendors
func (h *CatalogHandler) ListVendors(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"status": c.Query("status"),
		"search": c.Query("search"),
	}

	vendors, total, err := h.svc.ListVendors(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, gin.H{"items": vendors, "total": total})
}

// GetVendor GET /vendors/:id
func (h *CatalogHandler) GetVendor(c *gin.Context) {
	vendor, err := h.svc.GetVendor(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			NotFound(c, err.Error())
			return
		}
		InternalError(c, err.Error())
		return
	}
	Success(c, vendor)
}

// CreateVendor POST /vendors
func (h *CatalogHandler) CreateVendor(c *gin.Context) {
	var req entity.Vendor
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	vendor, err := h.svc.CreateVendor(c.Request.Context(), &req)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	Created(c, vendor)
}

// === 响应辅助函数 ===

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
