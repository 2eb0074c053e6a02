package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cajaflow/backend/internal/cashcut"
	"cajaflow/backend/internal/domain"
	"cajaflow/backend/internal/service"
	"cajaflow/backend/internal/store/memory"
)

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier123")

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil, nil, time.Hour)
	engine := cashcut.NewEngine(repo, nil, nil, cashcut.Options{WaitTimeout: 2 * time.Second})
	auth := NewAuthManager("test-secret-that-is-long-enough-0000", time.Hour, repo)
	return New(svc, engine, auth, "*", nil).Handler()
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: username,
		Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: status %d body %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("login must return a token")
	}
	return resp.AccessToken
}

func orderBody(key string) domain.OrderRequest {
	return domain.OrderRequest{
		ServiceType:   "cafe",
		PaymentMethod: domain.PaymentCash,
		Items: []domain.OrderLine{
			{ProductID: "prod-latte", Qty: 2, UnitPriceCents: 6000},
		},
		SubtotalCents:  12000,
		TotalCents:     12000,
		IdempotencyKey: key,
	}
}

func TestHealthzIsPublic(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestOrdersRequireBearerToken(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", "", orderBody("key-1"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders", "not-a-jwt", orderBody("key-1"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", rec.Code)
	}
}

func TestCommitOrderAndReplay(t *testing.T) {
	handler := newTestAPI(t)
	token := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, orderBody("key-replay"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for fresh commit, got %d body %s", rec.Code, rec.Body.String())
	}
	var first domain.OrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if first.Duplicate || first.OrderID == "" {
		t.Fatalf("unexpected fresh commit response: %+v", first)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, orderBody("key-replay"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for replay, got %d", rec.Code)
	}
	var second domain.OrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !second.Duplicate || second.OrderID != first.OrderID {
		t.Fatalf("replay must return the original order as duplicate: %+v", second)
	}
}

func TestIdempotencyKeyHeaderOverridesBody(t *testing.T) {
	handler := newTestAPI(t)
	token := login(t, handler, "cashier", "cashier123")

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(orderBody("body-key")); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", "header-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body %s", rec.Code, rec.Body.String())
	}

	lookup := doJSON(t, handler, http.MethodGet, "/api/v1/orders/idempotency/header-key", token, nil)
	if lookup.Code != http.StatusOK {
		t.Fatalf("lookup failed: %d", lookup.Code)
	}
	var found domain.OrderLookupResponse
	if err := json.Unmarshal(lookup.Body.Bytes(), &found); err != nil {
		t.Fatalf("decode lookup: %v", err)
	}
	if !found.Found {
		t.Fatalf("order must be registered under the header key")
	}

	lookup = doJSON(t, handler, http.MethodGet, "/api/v1/orders/idempotency/body-key", token, nil)
	var missed domain.OrderLookupResponse
	if err := json.Unmarshal(lookup.Body.Bytes(), &missed); err != nil {
		t.Fatalf("decode lookup: %v", err)
	}
	if missed.Found {
		t.Fatalf("body key must be ignored when the header is present")
	}
}

func TestInsufficientStockMapsToConflict(t *testing.T) {
	handler := newTestAPI(t)
	admin := login(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPut, "/api/v1/products/prod-agua/stock", admin, map[string]int{"qty": 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("set stock failed: %d body %s", rec.Code, rec.Body.String())
	}

	order := domain.OrderRequest{
		ServiceType:   "cafe",
		PaymentMethod: domain.PaymentCash,
		Items: []domain.OrderLine{
			{ProductID: "prod-agua", Qty: 2, UnitPriceCents: 2000},
		},
		SubtotalCents:  4000,
		TotalCents:     4000,
		IdempotencyKey: "key-oversell",
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders", admin, order)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for insufficient stock, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestCashCutEndpoints(t *testing.T) {
	handler := newTestAPI(t)
	token := login(t, handler, "cashier", "cashier123")

	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, orderBody("key-for-cut")); rec.Code != http.StatusCreated {
		t.Fatalf("order commit failed: %d", rec.Code)
	}

	// Empty body is valid, notes are optional.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cash-cuts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cash cut trigger failed: %d body %s", rec.Code, rec.Body.String())
	}
	var cutResp struct {
		CashCut domain.CashCut `json:"cash_cut"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &cutResp); err != nil {
		t.Fatalf("decode cut response: %v", err)
	}
	if cutResp.CashCut.Stats.OrderCount != 1 || cutResp.CashCut.Stats.IncomeCents != 12000 {
		t.Fatalf("cut must cover the committed order: %+v", cutResp.CashCut.Stats)
	}

	list := doJSON(t, handler, http.MethodGet, "/api/v1/cash-cuts", token, nil)
	if list.Code != http.StatusOK {
		t.Fatalf("list cuts failed: %d", list.Code)
	}
	var listResp struct {
		CashCuts []domain.CashCut `json:"cash_cuts"`
	}
	if err := json.Unmarshal(list.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listResp.CashCuts) != 1 || listResp.CashCuts[0].ID != cutResp.CashCut.ID {
		t.Fatalf("unexpected cut list: %+v", listResp.CashCuts)
	}

	status := doJSON(t, handler, http.MethodGet, "/api/v1/cash-cuts/status", token, nil)
	if status.Code != http.StatusOK {
		t.Fatalf("status failed: %d", status.Code)
	}
	var statusResp domain.CashCutStatus
	if err := json.Unmarshal(status.Body.Bytes(), &statusResp); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if statusResp.LastCutTime == "" {
		t.Fatalf("status must report the watermark after a cut")
	}
}

func TestAuditLogsAreAdminOnly(t *testing.T) {
	handler := newTestAPI(t)

	cashier := login(t, handler, "cashier", "cashier123")
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs", cashier, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	admin := login(t, handler, "admin", "admin123")
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestCreateAndListCashiers(t *testing.T) {
	handler := newTestAPI(t)
	admin := login(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users/cashiers", admin, domain.LoginRequest{
		Username: "marta",
		Password: "secret99",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cashier failed: %d body %s", rec.Code, rec.Body.String())
	}

	list := doJSON(t, handler, http.MethodGet, "/api/v1/users/cashiers", admin, nil)
	if list.Code != http.StatusOK {
		t.Fatalf("list cashiers failed: %d", list.Code)
	}
	var listResp struct {
		Cashiers []CashierUser `json:"cashiers"`
	}
	if err := json.Unmarshal(list.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	found := false
	for _, c := range listResp.Cashiers {
		if c.Username == "marta" && c.Active {
			found = true
		}
	}
	if !found {
		t.Fatalf("created cashier missing from list: %+v", listResp.Cashiers)
	}

	if token := login(t, handler, "marta", "secret99"); token == "" {
		t.Fatalf("new cashier must be able to log in")
	}
}

func TestLoginRateLimit(t *testing.T) {
	handler := newTestAPI(t)

	var last int
	for i := 0; i < 6; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
			Username: "admin",
			Password: fmt.Sprintf("wrong-%d", i),
		})
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated failures, got %d", last)
	}
}

func TestEmptyAndTruncatedBodiesAreDistinguished(t *testing.T) {
	handler := newTestAPI(t)
	token := login(t, handler, "cashier", "cashier123")

	// An absent body on the cut trigger is fine, notes are optional.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cash-cuts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("empty body must be accepted on the cut trigger, got %d body %s", rec.Code, rec.Body.String())
	}

	// Truncated JSON is a malformed request, not an empty body.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/cash-cuts", strings.NewReader(`{"notes":`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("truncated JSON must be rejected, got %d", rec.Code)
	}

	// An order commit has required fields, so an empty body is an error.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty order body must be rejected, got %d", rec.Code)
	}
}

func TestInvalidOrderMapsToBadRequest(t *testing.T) {
	handler := newTestAPI(t)
	token := login(t, handler, "cashier", "cashier123")

	order := orderBody("key-bad-math")
	order.TotalCents = 99999

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, order)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inconsistent totals, got %d body %s", rec.Code, rec.Body.String())
	}
}
