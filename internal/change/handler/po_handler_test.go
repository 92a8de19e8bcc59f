package handler

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/brightfog/kunlun/internal/change/entity"
	"github.com/brightfog/kunlun/internal/testutil"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// seedApprovedCR plants an approved change request with three material lines
// ready for splitting.
func seedApprovedCR(t *testing.T, db *gorm.DB, boqID, projectID string) *entity.ChangeRequest {
	t.Helper()
	cr := &entity.ChangeRequest{
		ID:            uuid.New().String()[:32],
		Code:          fmt.Sprintf("CR-2026-%d", time.Now().UnixNano()%100000000),
		BOQID:         boqID,
		ProjectID:     projectID,
		Title:         "现场材料变更",
		Status:        entity.CRStatusApproved,
		RequesterID:   "user-se",
		RequesterRole: entity.RoleSiteEngineer,
		TotalCost:     13450,
		Version:       1,
		Lines: []entity.MaterialLine{
			{ID: uuid.New().String()[:32], Name: "水泥", Unit: "吨", Quantity: 10, UnitPrice: 700, Amount: 7000, SortOrder: 1},
			{ID: uuid.New().String()[:32], Name: "钢筋", Unit: "吨", Quantity: 2, UnitPrice: 3000, Amount: 6000, SortOrder: 2},
			{ID: uuid.New().String()[:32], Name: "开关面板", Unit: "个", Quantity: 30, UnitPrice: 15, Amount: 450, SortOrder: 3},
		},
	}
	for i := range cr.Lines {
		cr.Lines[i].CRID = cr.ID
	}
	if err := db.Create(cr).Error; err != nil {
		t.Fatalf("failed to seed approved CR: %v", err)
	}
	return cr
}

func splitBody(cr *entity.ChangeRequest, vendorID string) map[string]interface{} {
	return map[string]interface{}{
		"assignments": []map[string]interface{}{
			{"material_line_id": cr.Lines[0].ID, "routing": "vendor", "vendor_id": vendorID},
			{"material_line_id": cr.Lines[1].ID, "routing": "vendor", "vendor_id": vendorID},
			{"material_line_id": cr.Lines[2].ID, "routing": "store"},
		},
	}
}

// TestSplitCreatesChildrenAndStoreQueue covers the happy path: one vendor
// child and one store child with queue rows.
func TestSplitCreatesChildrenAndStoreQueue(t *testing.T) {
	db, router := setupChangeTest(t)
	boq := testutil.SeedBOQ(t, db, "proj-001", 100000)
	vendor := testutil.SeedVendor(t, db, "华东建材")
	cr := seedApprovedCR(t, db, boq.ID, boq.ProjectID)

	buyerToken := testutil.GenerateTestToken("user-est", "赵预算", "estimator")

	w := testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+cr.ID+"/split",
		splitBody(cr, vendor.ID), buyerToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("split: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	children := resp["data"].([]interface{})
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}

	first := children[0].(map[string]interface{})
	if first["suffix"] != ".1" || first["po_code"] != "PO-"+cr.Code+".1" {
		t.Fatalf("unexpected first child code: %v / %v", first["suffix"], first["po_code"])
	}
	if first["status"] != entity.POChildStatusPendingTDApproval {
		t.Fatalf("vendor child should await TD, got %v", first["status"])
	}
	if first["total_amount"].(float64) != 13000 {
		t.Fatalf("expected vendor child total 13000, got %v", first["total_amount"])
	}

	second := children[1].(map[string]interface{})
	if second["status"] != entity.POChildStatusRoutedToStore {
		t.Fatalf("store child should be routed, got %v", second["status"])
	}
	if second["vendor_id"] != nil {
		t.Fatalf("store child must carry no vendor, got %v", second["vendor_id"])
	}
	if second["total_amount"].(float64) != 450 {
		t.Fatalf("expected store child total 450, got %v", second["total_amount"])
	}

	// Every material line is registered with its routing
	var routed []entity.RoutedMaterial
	db.Where("cr_id = ?", cr.ID).Find(&routed)
	if len(routed) != 3 {
		t.Fatalf("expected 3 routed rows, got %d", len(routed))
	}
	byLine := make(map[string]entity.RoutedMaterial, len(routed))
	for _, r := range routed {
		if r.Status != entity.RoutedStatusQueued {
			t.Fatalf("expected queued, got %s", r.Status)
		}
		byLine[r.MaterialLineID] = r
	}
	if byLine[cr.Lines[0].ID].Routing != entity.RoutingVendor ||
		byLine[cr.Lines[1].ID].Routing != entity.RoutingVendor {
		t.Fatalf("vendor lines should be registered as vendor routing")
	}
	if byLine[cr.Lines[2].ID].Routing != entity.RoutingStore {
		t.Fatalf("store line should be registered as store routing")
	}

	// Every line now belongs to a child
	var unlinked int64
	db.Model(&entity.MaterialLine{}).Where("cr_id = ? AND po_child_id IS NULL", cr.ID).Count(&unlinked)
	if unlinked != 0 {
		t.Fatalf("expected all lines linked, %d unlinked", unlinked)
	}

	// Parent version bumped by the split transaction
	var fresh entity.ChangeRequest
	db.Where("id = ?", cr.ID).First(&fresh)
	if fresh.Version != 2 {
		t.Fatalf("expected version 2 after split, got %d", fresh.Version)
	}
}

// TestSplitGuards covers the not-approved, double-split, partial-assignment
// and wrong-role rejections.
func TestSplitGuards(t *testing.T) {
	db, router := setupChangeTest(t)
	boq := testutil.SeedBOQ(t, db, "proj-001", 100000)
	vendor := testutil.SeedVendor(t, db, "华东建材")
	buyerToken := testutil.GenerateTestToken("user-est", "赵预算", "estimator")

	// Not yet approved
	pending := seedApprovedCR(t, db, boq.ID, boq.ProjectID)
	db.Model(pending).Update("status", entity.CRStatusUnderReview)
	w := testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+pending.ID+"/split",
		splitBody(pending, vendor.ID), buyerToken)
	if w.Code != http.StatusConflict {
		t.Fatalf("unapproved split: expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if code := testutil.ParseResponse(w)["code"].(float64); code != 40903 {
		t.Fatalf("expected code 40903, got %v", code)
	}

	cr := seedApprovedCR(t, db, boq.ID, boq.ProjectID)

	// Wrong role
	seToken := testutil.GenerateTestToken("user-se", "王工", "site_engineer")
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+cr.ID+"/split",
		splitBody(cr, vendor.ID), seToken)
	if w.Code != http.StatusForbidden {
		t.Fatalf("wrong role split: expected 403, got %d: %s", w.Code, w.Body.String())
	}

	// Partial assignment leaves a line uncovered
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+cr.ID+"/split",
		map[string]interface{}{
			"assignments": []map[string]interface{}{
				{"material_line_id": cr.Lines[0].ID, "routing": "vendor", "vendor_id": vendor.ID},
			},
		}, buyerToken)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("partial split: expected 400, got %d: %s", w.Code, w.Body.String())
	}

	// First split succeeds, second conflicts
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+cr.ID+"/split",
		splitBody(cr, vendor.ID), buyerToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("split: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+cr.ID+"/split",
		splitBody(cr, vendor.ID), buyerToken)
	if w.Code != http.StatusConflict {
		t.Fatalf("double split: expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if code := testutil.ParseResponse(w)["code"].(float64); code != 40902 {
		t.Fatalf("expected code 40902, got %v", code)
	}
}

// TestVendorApprovalAndCompletion walks a vendor child through TD approval
// and purchase completion, then completes the store child.
func TestVendorApprovalAndCompletion(t *testing.T) {
	db, router := setupChangeTest(t)
	boq := testutil.SeedBOQ(t, db, "proj-001", 100000)
	vendor := testutil.SeedVendor(t, db, "华东建材")
	cr := seedApprovedCR(t, db, boq.ID, boq.ProjectID)

	buyerToken := testutil.GenerateTestToken("user-est", "赵预算", "estimator")
	tdToken := testutil.GenerateTestToken("user-td", "张总工", "technical_director")

	w := testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+cr.ID+"/split",
		splitBody(cr, vendor.ID), buyerToken)
	children := testutil.ParseResponse(w)["data"].([]interface{})
	vendorChildID := children[0].(map[string]interface{})["id"].(string)
	storeChildID := children[1].(map[string]interface{})["id"].(string)

	// Buyer cannot confirm the vendor, that is TD's call
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/purchase-orders/"+vendorChildID+"/approve-vendor", nil, buyerToken)
	if w.Code != http.StatusForbidden {
		t.Fatalf("buyer approve-vendor: expected 403, got %d", w.Code)
	}

	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/purchase-orders/"+vendorChildID+"/approve-vendor", nil, tdToken)
	if w.Code != http.StatusOK {
		t.Fatalf("approve-vendor: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := crData(t, testutil.ParseResponse(w))
	if data["status"] != entity.POChildStatusVendorApproved {
		t.Fatalf("expected vendor_approved, got %v", data["status"])
	}

	// Completing before approval is blocked on a fresh child, but fine now
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/purchase-orders/"+vendorChildID+"/complete",
		map[string]interface{}{"notes": "已到货验收"}, buyerToken)
	if w.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data = crData(t, testutil.ParseResponse(w))
	if data["status"] != entity.POChildStatusPurchaseCompleted {
		t.Fatalf("expected purchase_completed, got %v", data["status"])
	}
	if data["completed_at"] == nil {
		t.Fatalf("expected completed_at set")
	}
	if data["completed_by"] != "user-est" {
		t.Fatalf("expected completed_by recorded, got %v", data["completed_by"])
	}
	if data["completion_notes"] != "已到货验收" {
		t.Fatalf("expected completion notes recorded, got %v", data["completion_notes"])
	}

	// Vendor completion settles its routed rows too
	var vendorQueued int64
	db.Model(&entity.RoutedMaterial{}).
		Where("po_child_id = ? AND status = ?", vendorChildID, entity.RoutedStatusQueued).
		Count(&vendorQueued)
	if vendorQueued != 0 {
		t.Fatalf("expected vendor rows settled, %d rows still queued", vendorQueued)
	}

	// Store child completes directly and flushes its queue
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/purchase-orders/"+storeChildID+"/complete", nil, buyerToken)
	if w.Code != http.StatusOK {
		t.Fatalf("store complete: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var remaining int64
	db.Model(&entity.RoutedMaterial{}).
		Where("po_child_id = ? AND status = ?", storeChildID, entity.RoutedStatusQueued).
		Count(&remaining)
	if remaining != 0 {
		t.Fatalf("expected queue flushed, %d rows still queued", remaining)
	}
}

// TestVendorRejectAndReselect exercises the TD rejection loop and the buyer
// picking a replacement vendor.
func TestVendorRejectAndReselect(t *testing.T) {
	db, router := setupChangeTest(t)
	boq := testutil.SeedBOQ(t, db, "proj-001", 100000)
	vendor := testutil.SeedVendor(t, db, "华东建材")
	backup := testutil.SeedVendor(t, db, "华南建材")
	cr := seedApprovedCR(t, db, boq.ID, boq.ProjectID)

	buyerToken := testutil.GenerateTestToken("user-est", "赵预算", "estimator")
	tdToken := testutil.GenerateTestToken("user-td", "张总工", "technical_director")

	w := testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+cr.ID+"/split",
		splitBody(cr, vendor.ID), buyerToken)
	childID := testutil.ParseResponse(w)["data"].([]interface{})[0].(map[string]interface{})["id"].(string)

	// Reason is mandatory
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/purchase-orders/"+childID+"/reject-vendor",
		map[string]interface{}{}, tdToken)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("reject without reason: expected 400, got %d", w.Code)
	}

	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/purchase-orders/"+childID+"/reject-vendor",
		map[string]interface{}{"reason": "报价超预算"}, tdToken)
	if w.Code != http.StatusOK {
		t.Fatalf("reject-vendor: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := crData(t, testutil.ParseResponse(w))
	if data["status"] != entity.POChildStatusRejected {
		t.Fatalf("expected rejected, got %v", data["status"])
	}
	if data["rejection_reason"] != "报价超预算" {
		t.Fatalf("expected reason recorded, got %v", data["rejection_reason"])
	}

	// Buyer swaps in the backup vendor and the child goes back to TD
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/purchase-orders/"+childID+"/reselect-vendor",
		map[string]interface{}{"vendor_id": backup.ID}, buyerToken)
	if w.Code != http.StatusOK {
		t.Fatalf("reselect-vendor: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data = crData(t, testutil.ParseResponse(w))
	if data["status"] != entity.POChildStatusPendingTDApproval {
		t.Fatalf("expected back to pending_td_approval, got %v", data["status"])
	}
	if data["vendor_id"] != backup.ID {
		t.Fatalf("expected backup vendor, got %v", data["vendor_id"])
	}
	if reason, ok := data["rejection_reason"]; ok && reason != "" {
		t.Fatalf("expected rejection reason cleared, got %v", reason)
	}
}

// TestResplitRebuildsChildren verifies resplit replaces children atomically
// and refuses once store purchases have happened.
func TestResplitRebuildsChildren(t *testing.T) {
	db, router := setupChangeTest(t)
	boq := testutil.SeedBOQ(t, db, "proj-001", 100000)
	vendor := testutil.SeedVendor(t, db, "华东建材")
	cr := seedApprovedCR(t, db, boq.ID, boq.ProjectID)
	buyerToken := testutil.GenerateTestToken("user-est", "赵预算", "estimator")

	testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+cr.ID+"/split",
		splitBody(cr, vendor.ID), buyerToken)

	// Send everything to the store instead
	allStore := map[string]interface{}{
		"assignments": []map[string]interface{}{
			{"material_line_id": cr.Lines[0].ID, "routing": "store"},
			{"material_line_id": cr.Lines[1].ID, "routing": "store"},
			{"material_line_id": cr.Lines[2].ID, "routing": "store"},
		},
	}
	w := testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+cr.ID+"/resplit", allStore, buyerToken)
	if w.Code != http.StatusOK {
		t.Fatalf("resplit: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	children := testutil.ParseResponse(w)["data"].([]interface{})
	if len(children) != 1 {
		t.Fatalf("expected single store child, got %d", len(children))
	}
	if children[0].(map[string]interface{})["status"] != entity.POChildStatusRoutedToStore {
		t.Fatalf("expected routed_to_store")
	}

	// Old children are gone, queue rebuilt with all three lines
	var count int64
	db.Model(&entity.POChild{}).Where("cr_id = ?", cr.ID).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 child after resplit, got %d", count)
	}
	db.Model(&entity.RoutedMaterial{}).Where("cr_id = ?", cr.ID).Count(&count)
	if count != 3 {
		t.Fatalf("expected 3 queued rows, got %d", count)
	}

	// A store purchase pins the split in place
	var routed entity.RoutedMaterial
	db.Where("cr_id = ?", cr.ID).First(&routed)
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/routed-materials/"+routed.ID+"/purchase", nil, buyerToken)
	if w.Code != http.StatusOK {
		t.Fatalf("mark purchased: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+cr.ID+"/resplit",
		splitBody(cr, vendor.ID), buyerToken)
	if w.Code != http.StatusConflict {
		t.Fatalf("resplit after purchase: expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

// TestMarkRoutedPurchasedIdempotence checks the queued-only guard on the
// store purchase endpoint.
func TestMarkRoutedPurchasedIdempotence(t *testing.T) {
	db, router := setupChangeTest(t)
	boq := testutil.SeedBOQ(t, db, "proj-001", 100000)
	vendor := testutil.SeedVendor(t, db, "华东建材")
	cr := seedApprovedCR(t, db, boq.ID, boq.ProjectID)
	buyerToken := testutil.GenerateTestToken("user-est", "赵预算", "estimator")

	testutil.DoRequest(router, http.MethodPost, "/api/v1/change-requests/"+cr.ID+"/split",
		splitBody(cr, vendor.ID), buyerToken)

	var routed entity.RoutedMaterial
	db.Where("cr_id = ? AND routing = ?", cr.ID, entity.RoutingStore).First(&routed)

	w := testutil.DoRequest(router, http.MethodPost, "/api/v1/routed-materials/"+routed.ID+"/purchase", nil, buyerToken)
	if w.Code != http.StatusOK {
		t.Fatalf("purchase: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var fresh entity.RoutedMaterial
	db.Where("id = ?", routed.ID).First(&fresh)
	if fresh.Status != entity.RoutedStatusPurchased {
		t.Fatalf("expected purchased, got %s", fresh.Status)
	}
	if fresh.PurchasedBy != "user-est" {
		t.Fatalf("expected purchaser recorded, got %q", fresh.PurchasedBy)
	}

	// Second attempt finds no queued row
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/routed-materials/"+routed.ID+"/purchase", nil, buyerToken)
	if w.Code != http.StatusNotFound {
		t.Fatalf("repeat purchase: expected 404, got %d: %s", w.Code, w.Body.String())
	}

	// Vendor-routed rows settle through their purchase order, not here
	var vendorRouted entity.RoutedMaterial
	db.Where("cr_id = ? AND routing = ?", cr.ID, entity.RoutingVendor).First(&vendorRouted)
	w = testutil.DoRequest(router, http.MethodPost, "/api/v1/routed-materials/"+vendorRouted.ID+"/purchase", nil, buyerToken)
	if w.Code != http.StatusNotFound {
		t.Fatalf("vendor-routed purchase: expected 404, got %d: %s", w.Code, w.Body.String())
	}
}
