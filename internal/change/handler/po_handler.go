package handler

import (
	"github.com/brightfog/kunlun/internal/change/service"
	"github.com/gin-gonic/gin"
)

// POHandler 拆单与子采购单处理器
type POHandler struct {
	svc *service.SplitService
}

func NewPOHandler(svc *service.SplitService) *POHandler {
	return &POHandler{svc: svc}
}

// Split POST /change-requests/:id/split
func (h *POHandler) Split(c *gin.Context) {
	var req struct {
		Assignments []service.RoutingAssignment `json:"assignments" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	children, err := h.svc.Split(c.Request.Context(), c.Param("id"), GetOperator(c), req.Assignments)
	if err != nil {
		handleError(c, err)
		return
	}
	Created(c, children)
}

// Resplit POST /change-requests/:id/resplit
func (h *POHandler) Resplit(c *gin.Context) {
	var req struct {
		Assignments []service.RoutingAssignment `json:"assignments" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	children, err := h.svc.Resplit(c.Request.Context(), c.Param("id"), GetOperator(c), req.Assignments)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, children)
}

// ListByCR GET /change-requests/:id/purchase-orders
func (h *POHandler) ListByCR(c *gin.Context) {
	children, err := h.svc.ListChildren(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, children)
}

// List GET /purchase-orders
func (h *POHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"cr_id":     c.Query("cr_id"),
		"status":    c.Query("status"),
		"vendor_id": c.Query("vendor_id"),
		"search":    c.Query("search"),
	}

	items, total, err := h.svc.ListPOChildren(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		InternalError(c, err.Error())
		return
	}

	Success(c, ListResponse{
		Items: items,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: totalPages(total, pageSize),
		},
	})
}

// Get GET /purchase-orders/:id
func (h *POHandler) Get(c *gin.Context) {
	child, err := h.svc.GetChild(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, child)
}

// ApproveVendor POST /purchase-orders/:id/approve-vendor
func (h *POHandler) ApproveVendor(c *gin.Context) {
	child, err := h.svc.ApproveVendor(c.Request.Context(), c.Param("id"), GetOperator(c))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, child)
}

// RejectVendor POST /purchase-orders/:id/reject-vendor
func (h *POHandler) RejectVendor(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "rejection reason is required")
		return
	}

	child, err := h.svc.RejectVendor(c.Request.Context(), c.Param("id"), GetOperator(c), req.Reason)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, child)
}

// ReselectVendor POST /purchase-orders/:id/reselect-vendor
func (h *POHandler) ReselectVendor(c *gin.Context) {
	var req struct {
		VendorID string `json:"vendor_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "vendor_id is required")
		return
	}

	child, err := h.svc.ReselectVendor(c.Request.Context(), c.Param("id"), GetOperator(c), req.VendorID)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, child)
}

// Complete POST /purchase-orders/:id/complete
func (h *POHandler) Complete(c *gin.Context) {
	var req struct {
		Notes string `json:"notes"`
	}
	_ = c.ShouldBindJSON(&req)

	child, err := h.svc.CompletePurchase(c.Request.Context(), c.Param("id"), GetOperator(c), req.Notes)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, child)
}

// ListRouted GET /routed-materials
func (h *POHandler) ListRouted(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"project_id": c.Query("project_id"),
		"cr_id":      c.Query("cr_id"),
		"status":     c.Query("status"),
		"routing":    c.Query("routing"),
	}

	items, total, err := h.svc.ListRouted(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		InternalError(c, err.Error())
		return
	}

	Success(c, ListResponse{
		Items: items,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: totalPages(total, pageSize),
		},
	})
}

// MarkRoutedPurchased POST /routed-materials/:id/purchase
func (h *POHandler) MarkRoutedPurchased(c *gin.Context) {
	if err := h.svc.MarkRoutedPurchased(c.Request.Context(), c.Param("id"), GetOperator(c)); err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{"purchased": true})
}
