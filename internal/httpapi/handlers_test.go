package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"scanpos/backend/internal/cache"
	"scanpos/backend/internal/domain"
	"scanpos/backend/internal/service"
	"scanpos/backend/internal/store/memory"
)

// Seeded scan codes used by handler tests.
const (
	scanMie   = "8991002501010" // Mie Goreng Instan, 3500 cents, stock 120
	scanTelur = "8991002501027" // Telur 10 Butir, 26500 cents, stock 60
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopProductCache{}, 5*time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

// postJSON sends an authenticated JSON POST with a valid CSRF token.
func postJSON(t *testing.T, api *API, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, api *API, path string, token string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_ListWithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := getJSON(t, api, "/api/v1/products", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["products"] == nil {
		t.Fatalf("expected products key in response, got %v", body)
	}
}

func TestHandleProductLookupByScanCode(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := getJSON(t, api, "/api/v1/products/"+scanMie, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Product domain.Product `json:"product"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Product.Name != "Mie Goreng Instan" {
		t.Fatalf("unexpected product name %q", body.Product.Name)
	}

	missing := getJSON(t, api, "/api/v1/products/0000000000000", token)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown scan code, got %d", missing.Code)
	}
}

func TestHandleCreateProduct_ForbiddenForCashier(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := postJSON(t, api, "/api/v1/products", token, domain.ProductCreateRequest{
		ScanCode:         "8991002509999",
		Name:             "Biskuit Coklat",
		SellingRateCents: 8500,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier create, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleStockAdjust_AdminOnly(t *testing.T) {
	api := newTestAPI(t)
	cashierToken := loginAs(t, api, "cashier", "cashier123")
	adminToken := loginAs(t, api, "admin", "admin123")

	forbidden := postJSON(t, api, "/api/v1/products/"+scanMie+"/stock", cashierToken, domain.StockAdjustRequest{Delta: 10})
	if forbidden.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier adjustment, got %d (body: %s)", forbidden.Code, forbidden.Body.String())
	}

	rec := postJSON(t, api, "/api/v1/products/"+scanMie+"/stock", adminToken, domain.StockAdjustRequest{Delta: 10})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Product domain.Product `json:"product"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Product.Stock != 130 {
		t.Fatalf("expected stock 130 after receiving, got %d", body.Product.Stock)
	}
}

func TestHandleSale_Success(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := postJSON(t, api, "/api/v1/sales", token, domain.SaleRequest{ScanCode: scanMie, Quantity: 2})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.SaleResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.NewStock != 118 {
		t.Fatalf("expected new stock 118, got %d", resp.NewStock)
	}
	if resp.TotalAmountCents != 7000 {
		t.Fatalf("expected total 7000, got %d", resp.TotalAmountCents)
	}
}

func TestHandleSale_InsufficientStockConflict(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := postJSON(t, api, "/api/v1/sales", token, domain.SaleRequest{ScanCode: scanTelur, Quantity: 61})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["available"] != float64(60) {
		t.Fatalf("expected available 60 in conflict payload, got %v", body["available"])
	}
}

func TestHandleSale_UnknownProductNotFound(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := postJSON(t, api, "/api/v1/sales", token, domain.SaleRequest{ScanCode: "0000000000000", Quantity: 1})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleBatchSale_AllOrNothing(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := postJSON(t, api, "/api/v1/sales/batch", token, domain.BatchSaleRequest{
		Items: []domain.SaleLine{
			{ScanCode: scanMie, Quantity: 2},
			{ScanCode: scanTelur, Quantity: 61},
		},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for failing batch, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// The passing line must not have been decremented.
	lookup := getJSON(t, api, "/api/v1/products/"+scanMie, token)
	var body struct {
		Product domain.Product `json:"product"`
	}
	if err := json.NewDecoder(lookup.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Product.Stock != 120 {
		t.Fatalf("expected stock untouched at 120, got %d", body.Product.Stock)
	}
}

func TestHandleReturn_Success(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := postJSON(t, api, "/api/v1/returns", token, domain.ReturnRequest{ScanCode: scanTelur, Quantity: 1})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.ReturnResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.NewStock != 61 {
		t.Fatalf("expected stock 61 after restock, got %d", resp.NewStock)
	}
	if resp.RefundCents != 26500 {
		t.Fatalf("expected refund 26500, got %d", resp.RefundCents)
	}
}

func TestHandleUnknownScans_Lifecycle(t *testing.T) {
	api := newTestAPI(t)
	cashierToken := loginAs(t, api, "cashier", "cashier123")
	adminToken := loginAs(t, api, "admin", "admin123")

	// Cashiers log unknown scans from the register.
	rec := postJSON(t, api, "/api/v1/unknown-scans", cashierToken, domain.UnknownScanRequest{ScanCode: "4999999999990"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// Listing is an admin view; the service rejects cashiers.
	cashierList := getJSON(t, api, "/api/v1/unknown-scans", cashierToken)
	if cashierList.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier list, got %d", cashierList.Code)
	}

	adminList := getJSON(t, api, "/api/v1/unknown-scans", adminToken)
	if adminList.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin list, got %d (body: %s)", adminList.Code, adminList.Body.String())
	}

	del := httptest.NewRequest(http.MethodDelete, "/api/v1/unknown-scans/4999999999990", nil)
	del.Header.Set("Authorization", "Bearer "+adminToken)
	delRec := httptest.NewRecorder()
	api.Handler().ServeHTTP(delRec, del)
	if delRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for delete, got %d (body: %s)", delRec.Code, delRec.Body.String())
	}

	again := httptest.NewRequest(http.MethodDelete, "/api/v1/unknown-scans/4999999999990", nil)
	again.Header.Set("Authorization", "Bearer "+adminToken)
	againRec := httptest.NewRecorder()
	api.Handler().ServeHTTP(againRec, again)
	if againRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for second delete, got %d", againRec.Code)
	}
}

func TestHandleSalesReport_AdminOnly(t *testing.T) {
	api := newTestAPI(t)
	cashierToken := loginAs(t, api, "cashier", "cashier123")
	adminToken := loginAs(t, api, "admin", "admin123")

	if rec := postJSON(t, api, "/api/v1/sales", cashierToken, domain.SaleRequest{ScanCode: scanMie, Quantity: 3}); rec.Code != http.StatusCreated {
		t.Fatalf("seed sale failed: %d (body: %s)", rec.Code, rec.Body.String())
	}

	forbidden := getJSON(t, api, "/api/v1/reports/sales", cashierToken)
	if forbidden.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier report, got %d", forbidden.Code)
	}

	rec := getJSON(t, api, "/api/v1/reports/sales", adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var report domain.SalesReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Totals.ItemsSold != 3 {
		t.Fatalf("expected 3 items sold, got %d", report.Totals.ItemsSold)
	}
	if report.Totals.RevenueCents != 10500 {
		t.Fatalf("expected revenue 10500, got %d", report.Totals.RevenueCents)
	}
}

func TestHandleSalesReport_RejectsBadDates(t *testing.T) {
	api := newTestAPI(t)
	adminToken := loginAs(t, api, "admin", "admin123")

	rec := getJSON(t, api, "/api/v1/reports/sales?from=not-a-date", adminToken)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rec.Code)
	}
}

func loginAs(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed, status %d (body: %s)", username, rec.Code, rec.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if payload.AccessToken == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}
