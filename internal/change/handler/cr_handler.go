package handler

import (
	"github.com/brightfog/kunlun/internal/change/service"
	"github.com/gin-gonic/gin"
)

// CRHandler 变更请求处理器
type CRHandler struct {
	svc       *service.ChangeService
	exportSvc *service.ExportService
}

func NewCRHandler(svc *service.ChangeService, exportSvc *service.ExportService) *CRHandler {
	return &CRHandler{svc: svc, exportSvc: exportSvc}
}

// Create POST /boqs/:id/change-requests
func (h *CRHandler) Create(c *gin.Context) {
	var req service.CreateChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	req.BOQID = c.Param("id")

	result, err := h.svc.Create(c.Request.Context(), GetOperator(c), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	Created(c, result)
}

// List GET /change-requests
func (h *CRHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"project_id":             c.Query("project_id"),
		"boq_id":                 c.Query("boq_id"),
		"status":                 c.Query("status"),
		"approval_required_from": c.Query("approval_required_from"),
		"requester_id":           c.Query("requester_id"),
		"search":                 c.Query("search"),
	}

	items, total, err := h.svc.List(c.Request.Context(), page, pageSize, filters)
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

// Get GET /change-requests/:id
func (h *CRHandler) Get(c *gin.Context) {
	cr, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, cr)
}

// Delete DELETE /change-requests/:id
func (h *CRHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id"), GetOperator(c)); err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{"deleted": true})
}

// SendForReview POST /change-requests/:id/send-for-review
func (h *CRHandler) SendForReview(c *gin.Context) {
	cr, err := h.svc.SendForReview(c.Request.Context(), c.Param("id"), GetOperator(c))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, cr)
}

// Approve POST /change-requests/:id/approve
func (h *CRHandler) Approve(c *gin.Context) {
	var req struct {
		Comment string `json:"comment"`
	}
	_ = c.ShouldBindJSON(&req)

	cr, err := h.svc.Approve(c.Request.Context(), c.Param("id"), GetOperator(c), req.Comment)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, cr)
}

// Reject POST /change-requests/:id/reject
func (h *CRHandler) Reject(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "rejection reason is required")
		return
	}

	cr, err := h.svc.Reject(c.Request.Context(), c.Param("id"), GetOperator(c), req.Reason)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, cr)
}

// Resend POST /change-requests/:id/resend
func (h *CRHandler) Resend(c *gin.Context) {
	var req service.ResendRequest
	_ = c.ShouldBindJSON(&req)

	cr, err := h.svc.Resend(c.Request.Context(), c.Param("id"), GetOperator(c), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, cr)
}

// Margin GET /change-requests/:id/margin
func (h *CRHandler) Margin(c *gin.Context) {
	report, err := h.svc.EvaluateMargin(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, report)
}

// History GET /change-requests/:id/history
func (h *CRHandler) History(c *gin.Context) {
	histories, err := h.svc.ListHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, histories)
}

// Export GET /change-requests/:id/export
func (h *CRHandler) Export(c *gin.Context) {
	f, filename, err := h.exportSvc.ExportCR(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Transfer-Encoding", "binary")

	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "write excel: "+err.Error())
	}
}
