package handler

import (
	"net/http"
	"testing"

	boqrepo "github.com/brightfog/kunlun/internal/boq/repository"
	boqservice "github.com/brightfog/kunlun/internal/boq/service"
	catalogrepo "github.com/brightfog/kunlun/internal/catalog/repository"
	"github.com/brightfog/kunlun/internal/change/entity"
	"github.com/brightfog/kunlun/internal/change/repository"
	"github.com/brightfog/kunlun/internal/change/service"
	"github.com/brightfog/kunlun/internal/shared/archive"
	"github.com/brightfog/kunlun/internal/shared/notify"
	"github.com/brightfog/kunlun/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupChangeTest(t *testing.T) (*gorm.DB, *gin.Engine) {
	t.Helper()
	db := testutil.SetupTestDB(t)

	boqRepo := boqrepo.NewBOQRepository(db)
	catalogRepo := catalogrepo.NewCatalogRepository(db)
	vendorRepo := catalogrepo.NewVendorRepository(db)
	repos := repository.NewRepositories(db)

	logger := zap.NewNop()
	marginSvc := boqservice.NewMarginService(boqRepo, repos.CR, 60)
	changeSvc := service.NewChangeService(db, repos, boqRepo, catalogRepo, vendorRepo,
		marginSvc, notify.Nop{}, archive.NewArchiver(nil, "", logger), logger)
	splitSvc := service.NewSplitService(db, repos, vendorRepo, notify.Nop{}, logger)
	exportSvc := service.NewExportService(repos)

	h := NewHandlers(changeSvc, splitSvc, exportSvc)

	router := testutil.SetupRouter()
	api := testutil.AuthGroup(router, "/api/v1")
	api.POST("/boqs/:id/change-requests", h.CR.Create)
	api.GET("/change-requests", h.CR.List)
	api.GET("/change-requests/:id", h.CR.Get)
	api.DELETE("/change-requests/:id", h.CR.Delete)
	api.POST("/change-requests/:id/send-for-review", h.CR.SendForReview)
	api.POST("/change-requests/:id/approve", h.CR.Approve)
	api.POST("/change-requests/:id/reject", h.CR.Reject)
	api.POST("/change-requests/:id/resend", h.CR.Resend)
	api.GET("/change-requests/:id/margin", h.CR.Margin)
	api.GET("/change-requests/:id/history", h.CR.History)
	api.GET("/change-requests/:id/export", h.CR.Export)
	api.POST("/change-requests/:id/split", h.PO.Split)
	api.POST("/change-requests/:id/resplit", h.PO.Resplit)
	api.GET("/change-requests/:id/purchase-orders", h.PO.ListByCR)
	api.GET("/purchase-orders", h.PO.List)
	api.GET("/purchase-orders/:id", h.PO.Get)
	api.POST("/purchase-orders/:id/approve-vendor", h.PO.ApproveVendor)
	api.POST("/purchase-orders/:id/reject-vendor", h.PO.RejectVendor)
	api.POST("/purchase-orders/:id/reselect-vendor", h.PO.ReselectVendor)
	api.POST("/purchase-orders/:id/complete", h.PO.Complete)
	api.GET("/routed-materials", h.PO.ListRouted)
	api.POST("/routed-materials/:id/purchase", h.PO.MarkRoutedPurchased)

	return db, router
}

// createCRRequest builds a request body with one new-material line at the
// given amount, optionally carrying a preferred vendor.
func createCRRequest(amount float64, vendorID *string) map[string]interface{} {
	line := map[string]interface{}{
		"name":       "墙面乳胶漆",
		"brand":      "立邦",
		"unit":       "桶",
		"quantity":   1,
		"unit_price": amount,
	}
	if vendorID != nil {
		line["preferred_vendor_id"] = *vendorID
	}
	return map[string]interface{}{
		"title":  "客户要求增加涂料",
		"reason": "现场变更",
		"lines":  []map[string]interface{}{line},
	}
}

func crData(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, ok := resp["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected data object, got %v", resp)
	}
	return data
}

// TestChangeRequestFullApprovalChain walks a site engineer request with a
// preferred vendor through PM, TD and estimator approval.
func TestChangeRequestFullApprovalChain(t *testing.T) {
	db, router := setupChangeTest(t)
	boq := testutil.SeedBOQ(t, db, "proj-001", 100000)
	vendor := testutil.SeedVendor(t, db, "华东建材")

	seToken := testutil.GenerateTestToken("user-se", "王工", "site_engineer")
	pmToken := testutil.GenerateTestToken("user-pm", "李经理", "project_manager")
	tdToken := testutil.GenerateTestToken("user-td", "张总工", "technical_director")
	estToken := testutil.GenerateTestToken("user-est", "赵预算", "estimator")

	// Create
	w := testutil.DoRequest(router, http.MethodPost, "/api/v1/boqs/"+boq.ID+"/change-requests",
		createCRRequest(25000, &vendor.ID), seToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	data := crData(t, resp)
	cr := data["change_request"].(map[string]interface{})
	crID := cr["id"].(string)
	if cr["status"] != entity.CRStatusPending {
		t.Fatalf("expected pending, got %v", cr["status"])
	}
	if cr["has_new_material"] != true {
		t.Fatalf("expected has_new_material true")
	}
	// Margin report rides along because the request adds a new material
	if data["margin"] == nil {
		t.Fatalf("expected margin report in create response")
	}

	// Send for review
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+crID+"/send-for-review", nil, seToken)
	if w.Code != http.StatusOK {
		t.Fatalf("send-for-review: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data = crData(t, testutil.ParseResponse(w))
	if data["status"] != entity.CRStatusUnderReview {
		t.Fatalf("expected under_review, got %v", data["status"])
	}
	if data["approval_required_from"] != entity.RoleProjectManager {
		t.Fatalf("expected PM next, got %v", data["approval_required_from"])
	}

	// PM approves
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+crID+"/approve",
		map[string]interface{}{"comment": "同意"}, pmToken)
	if w.Code != http.StatusOK {
		t.Fatalf("pm approve: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data = crData(t, testutil.ParseResponse(w))
	if data["status"] != entity.CRStatusApprovedByPM {
		t.Fatalf("expected approved_by_pm, got %v", data["status"])
	}
	if data["approval_required_from"] != entity.RoleTechnicalDirector {
		t.Fatalf("expected TD next, got %v", data["approval_required_from"])
	}

	// TD approves
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+crID+"/approve", nil, tdToken)
	if w.Code != http.StatusOK {
		t.Fatalf("td approve: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data = crData(t, testutil.ParseResponse(w))
	if data["status"] != entity.CRStatusApprovedByTD {
		t.Fatalf("expected approved_by_td, got %v", data["status"])
	}

	// Estimator signs off
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+crID+"/approve", nil, estToken)
	if w.Code != http.StatusOK {
		t.Fatalf("estimator approve: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data = crData(t, testutil.ParseResponse(w))
	if data["status"] != entity.CRStatusApproved {
		t.Fatalf("expected approved, got %v", data["status"])
	}
	if data["approval_required_from"] != nil {
		t.Fatalf("expected no pending approver, got %v", data["approval_required_from"])
	}

	// Three approval records in order
	var approvals []entity.CRApproval
	db.Where("cr_id = ?", crID).Order("created_at").Find(&approvals)
	if len(approvals) != 3 {
		t.Fatalf("expected 3 approvals, got %d", len(approvals))
	}
	wantRoles := []string{entity.RoleProjectManager, entity.RoleTechnicalDirector, entity.RoleEstimator}
	for i, a := range approvals {
		if a.ApproverRole != wantRoles[i] {
			t.Errorf("approval %d: expected role %s, got %s", i, wantRoles[i], a.ApproverRole)
		}
		if a.Action != entity.ActionApprove {
			t.Errorf("approval %d: expected approve action, got %s", i, a.Action)
		}
	}
}

// TestChangeRequestSkipsTDWithoutVendor verifies the short chain for a site
// engineer request carrying no preferred vendor.
func TestChangeRequestSkipsTDWithoutVendor(t *testing.T) {
	db, router := setupChangeTest(t)
	boq := testutil.SeedBOQ(t, db, "proj-001", 100000)

	seToken := testutil.GenerateTestToken("user-se", "王工", "site_engineer")
	pmToken := testutil.GenerateTestToken("user-pm", "李经理", "project_manager")

	w := testutil.DoRequest(router, http.MethodPost, "/api/v1/boqs/"+boq.ID+"/change-requests",
		createCRRequest(5000, nil), seToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	cr := crData(t, testutil.ParseResponse(w))["change_request"].(map[string]interface{})
	crID := cr["id"].(string)

	testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+crID+"/send-for-review", nil, seToken)

	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+crID+"/approve", nil, pmToken)
	if w.Code != http.StatusOK {
		t.Fatalf("pm approve: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := crData(t, testutil.ParseResponse(w))
	if data["status"] != entity.CRStatusApprovedByPM {
		t.Fatalf("expected approved_by_pm, got %v", data["status"])
	}
	// No vendor means TD drops out and the estimator is next
	if data["approval_required_from"] != entity.RoleEstimator {
		t.Fatalf("expected estimator next, got %v", data["approval_required_from"])
	}
}

// TestChangeRequestWrongRoleForbidden verifies an out-of-turn approver is
// rejected with a role violation.
func TestChangeRequestWrongRoleForbidden(t *testing.T) {
	db, router := setupChangeTest(t)
	boq := testutil.SeedBOQ(t, db, "proj-001", 100000)
	vendor := testutil.SeedVendor(t, db, "华东建材")

	seToken := testutil.GenerateTestToken("user-se", "王工", "site_engineer")
	tdToken := testutil.GenerateTestToken("user-td", "张总工", "technical_director")

	w := testutil.DoRequest(router, http.MethodPost, "/api/v1/boqs/"+boq.ID+"/change-requests",
		createCRRequest(5000, &vendor.ID), seToken)
	crID := crData(t, testutil.ParseResponse(w))["change_request"].(map[string]interface{})["id"].(string)
	testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+crID+"/send-for-review", nil, seToken)

	// TD jumps the queue while PM review is pending
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+crID+"/approve", nil, tdToken)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	if resp["code"].(float64) != 40300 {
		t.Fatalf("expected code 40300, got %v", resp["code"])
	}
}

// TestChangeRequestRejectAndResend covers the rejection loop back to the
// requester and the restart of the chain.
func TestChangeRequestRejectAndResend(t *testing.T) {
	db, router := setupChangeTest(t)
	boq := testutil.SeedBOQ(t, db, "proj-001", 100000)

	seToken := testutil.GenerateTestToken("user-se", "王工", "site_engineer")
	pmToken := testutil.GenerateTestToken("user-pm", "李经理", "project_manager")

	w := testutil.DoRequest(router, http.MethodPost, "/api/v1/boqs/"+boq.ID+"/change-requests",
		createCRRequest(8000, nil), seToken)
	crID := crData(t, testutil.ParseResponse(w))["change_request"].(map[string]interface{})["id"].(string)
	testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+crID+"/send-for-review", nil, seToken)

	// Reason is mandatory
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+crID+"/reject",
		map[string]interface{}{}, pmToken)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("reject without reason: expected 400, got %d", w.Code)
	}

	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+crID+"/reject",
		map[string]interface{}{"reason": "单价偏高"}, pmToken)
	if w.Code != http.StatusOK {
		t.Fatalf("reject: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := crData(t, testutil.ParseResponse(w))
	if data["status"] != entity.CRStatusRejected {
		t.Fatalf("expected rejected, got %v", data["status"])
	}
	if data["rejection_reason"] != "单价偏高" {
		t.Fatalf("expected rejection reason, got %v", data["rejection_reason"])
	}

	// Resend with a cheaper line puts the request back in the requester's hands
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+crID+"/resend",
		map[string]interface{}{
			"lines": []map[string]interface{}{
				{"name": "墙面乳胶漆", "unit": "桶", "quantity": 1, "unit_price": 6000},
			},
		}, seToken)
	if w.Code != http.StatusOK {
		t.Fatalf("resend: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data = crData(t, testutil.ParseResponse(w))
	if data["status"] != entity.CRStatusPending {
		t.Fatalf("expected pending after resend, got %v", data["status"])
	}
	if data["total_cost"].(float64) != 6000 {
		t.Fatalf("expected total 6000 after resend, got %v", data["total_cost"])
	}
	if data["approval_required_from"] != nil {
		t.Fatalf("expected no pending approver after resend, got %v", data["approval_required_from"])
	}
	if reason, ok := data["rejection_reason"]; ok && reason != "" {
		t.Fatalf("expected rejection reason cleared, got %v", reason)
	}

	// A fresh submit restarts the chain from the top
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+crID+"/send-for-review", nil, seToken)
	if w.Code != http.StatusOK {
		t.Fatalf("send-for-review after resend: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data = crData(t, testutil.ParseResponse(w))
	if data["status"] != entity.CRStatusUnderReview {
		t.Fatalf("expected under_review, got %v", data["status"])
	}
	if data["approval_required_from"] != entity.RoleProjectManager {
		t.Fatalf("expected chain restart at PM, got %v", data["approval_required_from"])
	}
}

// TestChangeRequestDoubleSubmit verifies a second send-for-review bounces off
// the under_review status without leaving a duplicate audit entry.
func TestChangeRequestDoubleSubmit(t *testing.T) {
	db, router := setupChangeTest(t)
	boq := testutil.SeedBOQ(t, db, "proj-001", 100000)
	seToken := testutil.GenerateTestToken("user-se", "王工", "site_engineer")

	w := testutil.DoRequest(router, http.MethodPost, "/api/v1/boqs/"+boq.ID+"/change-requests",
		createCRRequest(5000, nil), seToken)
	crID := crData(t, testutil.ParseResponse(w))["change_request"].(map[string]interface{})["id"].(string)

	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+crID+"/send-for-review", nil, seToken)
	if w.Code != http.StatusOK {
		t.Fatalf("send-for-review: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+crID+"/send-for-review", nil, seToken)
	if w.Code != http.StatusConflict {
		t.Fatalf("second send-for-review: expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if code := testutil.ParseResponse(w)["code"].(float64); code != 40900 {
		t.Fatalf("expected code 40900, got %v", code)
	}

	// Still under review with PM up next, and only one submit on record
	var fresh entity.ChangeRequest
	db.Where("id = ?", crID).First(&fresh)
	if fresh.Status != entity.CRStatusUnderReview {
		t.Fatalf("expected under_review, got %s", fresh.Status)
	}
	var submits int64
	db.Model(&entity.ChangeHistory{}).
		Where("cr_id = ? AND action = ?", crID, entity.ActionSendForReview).
		Count(&submits)
	if submits != 1 {
		t.Fatalf("expected one submit entry, got %d", submits)
	}
}

// TestChangeRequestMarginEndpoint checks the margin arithmetic against a
// ledger with prior approved consumption.
func TestChangeRequestMarginEndpoint(t *testing.T) {
	db, router := setupChangeTest(t)
	boq := testutil.SeedBOQ(t, db, "proj-001", 100000)
	seToken := testutil.GenerateTestToken("user-se", "王工", "site_engineer")

	// Prior approved request already consumed 40000 of the margin
	consumed := &entity.ChangeRequest{
		ID:             uuid.New().String()[:32],
		Code:           "CR-2026-9001",
		BOQID:          boq.ID,
		ProjectID:      boq.ProjectID,
		Title:          "已批变更",
		Status:         entity.CRStatusApproved,
		RequesterID:    "user-se",
		RequesterRole:  entity.RoleSiteEngineer,
		TotalCost:      40000,
		HasNewMaterial: true,
		Version:        1,
	}
	if err := db.Create(consumed).Error; err != nil {
		t.Fatalf("failed to seed consumed CR: %v", err)
	}

	w := testutil.DoRequest(router, http.MethodPost, "/api/v1/boqs/"+boq.ID+"/change-requests",
		createCRRequest(25000, nil), seToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	crID := crData(t, testutil.ParseResponse(w))["change_request"].(map[string]interface{})["id"].(string)

	w = testutil.DoRequest(router, http.MethodGet, "/api/v1/change-requests/"+crID+"/margin", nil, seToken)
	if w.Code != http.StatusOK {
		t.Fatalf("margin: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	report := crData(t, testutil.ParseResponse(w))
	if report["original_allocated"].(float64) != 100000 {
		t.Errorf("expected allocated 100000, got %v", report["original_allocated"])
	}
	if report["already_consumed"].(float64) != 40000 {
		t.Errorf("expected consumed 40000, got %v", report["already_consumed"])
	}
	if report["remaining_after"].(float64) != 35000 {
		t.Errorf("expected remaining 35000, got %v", report["remaining_after"])
	}
	if report["consumption_percentage"].(float64) != 65.0 {
		t.Errorf("expected 65.0%%, got %v", report["consumption_percentage"])
	}
	if report["exceeds_warning_threshold"] != true {
		t.Errorf("expected warning at 65%%")
	}
	if report["is_over_budget"] != false {
		t.Errorf("65%% should not be over budget")
	}
}

// TestChangeRequestCreateValidation covers the published-BOQ gate and line
// validation failures.
func TestChangeRequestCreateValidation(t *testing.T) {
	db, router := setupChangeTest(t)
	seToken := testutil.GenerateTestToken("user-se", "王工", "site_engineer")

	// Draft BOQ refuses change requests
	draft := testutil.SeedBOQ(t, db, "proj-001", 100000)
	db.Model(draft).Update("status", "draft")
	w := testutil.DoRequest(router, http.MethodPost, "/api/v1/boqs/"+draft.ID+"/change-requests",
		createCRRequest(5000, nil), seToken)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("draft boq: expected 400, got %d: %s", w.Code, w.Body.String())
	}

	boq := testutil.SeedBOQ(t, db, "proj-002", 100000)

	// Zero quantity
	body := map[string]interface{}{
		"title": "坏请求",
		"lines": []map[string]interface{}{
			{"name": "水泥", "quantity": 0, "unit_price": 100},
		},
	}
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/boqs/"+boq.ID+"/change-requests", body, seToken)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("zero quantity: expected 400, got %d: %s", w.Code, w.Body.String())
	}

	// Estimator cannot originate change requests
	estToken := testutil.GenerateTestToken("user-est", "赵预算", "estimator")
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/boqs/"+boq.ID+"/change-requests",
		createCRRequest(5000, nil), estToken)
	if w.Code == http.StatusCreated {
		t.Fatalf("estimator should not create change requests")
	}

	// Unknown BOQ
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/boqs/no-such-boq/change-requests",
		createCRRequest(5000, nil), seToken)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing boq: expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

// TestChangeRequestDeleteRules verifies only draft or rejected requests can
// be removed, and only by the requester.
func TestChangeRequestDeleteRules(t *testing.T) {
	db, router := setupChangeTest(t)
	boq := testutil.SeedBOQ(t, db, "proj-001", 100000)
	seToken := testutil.GenerateTestToken("user-se", "王工", "site_engineer")
	otherToken := testutil.GenerateTestToken("user-other", "路人", "site_engineer")

	w := testutil.DoRequest(router, http.MethodPost, "/api/v1/boqs/"+boq.ID+"/change-requests",
		createCRRequest(5000, nil), seToken)
	crID := crData(t, testutil.ParseResponse(w))["change_request"].(map[string]interface{})["id"].(string)

	// Someone else cannot delete
	w = testutil.DoRequest(router, http.MethodDelete, "/api/v1/change-requests/"+crID, nil, otherToken)
	if w.Code == http.StatusOK {
		t.Fatalf("non-requester delete should fail")
	}

	w = testutil.DoRequest(router, http.MethodDelete, "/api/v1/change-requests/"+crID, nil, seToken)
	if w.Code != http.StatusOK {
		t.Fatalf("requester delete: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Gone after deletion
	w = testutil.DoRequest(router, http.MethodGet, "/api/v1/change-requests/"+crID, nil, seToken)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

// TestChangeRequestHistoryAndExport checks the audit trail endpoint and the
// Excel export headers.
func TestChangeRequestHistoryAndExport(t *testing.T) {
	db, router := setupChangeTest(t)
	boq := testutil.SeedBOQ(t, db, "proj-001", 100000)
	seToken := testutil.GenerateTestToken("user-se", "王工", "site_engineer")

	w := testutil.DoRequest(router, http.MethodPost, "/api/v1/boqs/"+boq.ID+"/change-requests",
		createCRRequest(5000, nil), seToken)
	crID := crData(t, testutil.ParseResponse(w))["change_request"].(map[string]interface{})["id"].(string)
	testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+crID+"/send-for-review", nil, seToken)

	w = testutil.DoRequest(router, http.MethodGet, "/api/v1/change-requests/"+crID+"/history", nil, seToken)
	if w.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	entries, ok := resp["data"].([]interface{})
	if !ok || len(entries) < 2 {
		t.Fatalf("expected at least 2 history entries, got %v", resp["data"])
	}

	w = testutil.DoRequest(router, http.MethodGet, "/api/v1/change-requests/"+crID+"/export", nil, seToken)
	if w.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if w.Body.Len() == 0 {
		t.Fatalf("expected non-empty export body")
	}
}
