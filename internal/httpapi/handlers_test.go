package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"pantry/backend/internal/cache"
	"pantry/backend/internal/domain"
	"pantry/backend/internal/logging"
	"pantry/backend/internal/report"
	"pantry/backend/internal/service"
	"pantry/backend/internal/store/memory"
)

// newTestAPI builds a full API over an in-memory store, a real AuthManager
// and a real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewEmpty()
	engine := report.NewEngine(cache.NewLRUReportCache(32, time.Minute), time.Minute, report.PolicyCurrent, time.UTC, logging.Discard())
	svc := service.New(repo, engine, logging.Discard())
	auth := NewAuthManager("test-secret-key-with-enough-length", time.Hour, repo)

	return New(svc, auth, "*", logging.Discard())
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	payload, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d (%s)", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.AccessToken
}

func do(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := do(t, handler, http.MethodGet, "/healthz", "", nil)
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

func TestLoginSessionAndLogout(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "admin", "admin123")

	rec := do(t, handler, http.MethodGet, "/api/v1/auth/session", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("session: expected 200, got %d", rec.Code)
	}
	var body struct {
		Session domain.Session `json:"session"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if body.Session.Username != "admin" || body.Session.Role != domain.RoleAdmin {
		t.Fatalf("unexpected session %+v", body.Session)
	}

	if rec := do(t, handler, http.MethodPost, "/api/v1/auth/logout", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodGet, "/api/v1/auth/session", token, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked session to get 401, got %d", rec.Code)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := do(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "nope"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestConsumptionAndSummaryFlow(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", "admin123")
	today := time.Now().UTC().Format(domain.DateLayout)

	rec := do(t, handler, http.MethodPost, "/api/v1/consumption", admin, domain.LogConsumptionRequest{
		Date: today,
		Type: domain.LogTypeDaily,
		Items: []domain.LogLine{
			{ItemID: "tea", Quantity: 4},
			{ItemID: "coffee", Quantity: 0},
			{ItemID: "biscuits", Quantity: 1},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("log consumption: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var logged domain.LogConsumptionResponse
	if err := json.NewDecoder(rec.Body).Decode(&logged); err != nil {
		t.Fatalf("decode log response: %v", err)
	}
	if len(logged.Logs) != 2 || logged.Skipped != 1 {
		t.Fatalf("unexpected log response %+v", logged)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/reports/summary?period=today", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var summary report.Summary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.TotalQuantity != 5 || !summary.TotalCost.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected 5 units costing 40, got %d / %s", summary.TotalQuantity, summary.TotalCost)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/consumption?period=today&item_id=tea", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list logs: expected 200, got %d", rec.Code)
	}
	var rows struct {
		Logs []report.LogRow `json:"logs"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&rows); err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	if len(rows.Logs) != 1 {
		t.Fatalf("expected one tea row, got %+v", rows.Logs)
	}
}

func TestConsumptionValidationReturnsField(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", "admin123")

	rec := do(t, handler, http.MethodPost, "/api/v1/consumption", admin, domain.LogConsumptionRequest{
		Date:  "2024-03-15",
		Type:  domain.LogTypeDaily,
		Items: []domain.LogLine{{ItemID: "caviar", Quantity: 1}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body struct {
		Validation domain.ValidationError `json:"validation"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Validation.Field != "items[0].item_id" {
		t.Fatalf("expected items[0].item_id, got %+v", body.Validation)
	}
}

func TestRoleRestrictions(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", "admin123")
	vendor := login(t, handler, "vendor", "vendor123")

	cases := []struct {
		method string
		path   string
		token  string
		want   int
	}{
		{http.MethodGet, "/api/v1/items", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/items", vendor, http.StatusOK},
		{http.MethodGet, "/api/v1/prices", admin, http.StatusOK},
		{http.MethodGet, "/api/v1/reports/summary", vendor, http.StatusForbidden},
		{http.MethodGet, "/api/v1/dashboard/admin", vendor, http.StatusForbidden},
		{http.MethodGet, "/api/v1/dashboard/admin", admin, http.StatusOK},
		{http.MethodGet, "/api/v1/dashboard/vendor", admin, http.StatusForbidden},
		{http.MethodGet, "/api/v1/dashboard/vendor", vendor, http.StatusOK},
		{http.MethodGet, "/api/v1/invoices", admin, http.StatusForbidden},
		{http.MethodGet, "/api/v1/prices/insights", vendor, http.StatusOK},
		{http.MethodGet, "/api/v1/audit-logs", vendor, http.StatusForbidden},
		{http.MethodGet, "/api/v1/settings", vendor, http.StatusOK},
	}
	for _, tc := range cases {
		rec := do(t, handler, tc.method, tc.path, tc.token, nil)
		if rec.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d (%s)", tc.method, tc.path, tc.want, rec.Code, rec.Body.String())
		}
	}

	rec := do(t, handler, http.MethodPut, "/api/v1/prices", admin, domain.PriceUpdateRequest{
		Prices: []domain.PriceInput{{ItemID: "tea", Price: decimal.NewFromInt(6)}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("admin price update: expected 403, got %d", rec.Code)
	}
}

func TestVendorUpdatesPricesAndReadsInvoice(t *testing.T) {
	handler := newTestAPI(t).Handler()
	vendor := login(t, handler, "vendor", "vendor123")

	rec := do(t, handler, http.MethodPut, "/api/v1/prices", vendor, domain.PriceUpdateRequest{
		Prices: []domain.PriceInput{{ItemID: "coffee", Price: decimal.RequireFromString("12.50")}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update prices: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var updated domain.PriceUpdateResponse
	if err := json.NewDecoder(rec.Body).Decode(&updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(updated.Results) != 1 || !updated.Results[0].Delta.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("unexpected update results %+v", updated.Results)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/prices/history?item_id=coffee", vendor, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", rec.Code)
	}
	var history struct {
		History []domain.PriceChange `json:"history"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.History) != 1 {
		t.Fatalf("expected one price change, got %+v", history.History)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/invoices?months_back=1", vendor, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("invoice: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	if rec := do(t, handler, http.MethodGet, "/api/v1/invoices?months_back=7", vendor, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for months_back out of range, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodGet, "/api/v1/invoices?months_back=x", vendor, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric months_back, got %d", rec.Code)
	}
}

func TestSettingsPatch(t *testing.T) {
	handler := newTestAPI(t).Handler()
	vendor := login(t, handler, "vendor", "vendor123")

	rec := do(t, handler, http.MethodPatch, "/api/v1/settings", vendor, map[string]any{
		"appearance": map[string]any{"theme": "dark"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch settings: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/settings", vendor, nil)
	var body struct {
		Settings domain.Settings `json:"settings"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Settings.Appearance.Theme != "dark" || !body.Settings.Notifications.Email {
		t.Fatalf("unexpected settings %+v", body.Settings)
	}
}

func TestSeriesRejectsUnknownGranularity(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", "admin123")

	if rec := do(t, handler, http.MethodGet, "/api/v1/reports/series?granularity=week", admin, nil); rec.Code != http.StatusOK {
		t.Fatalf("weekly series: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if rec := do(t, handler, http.MethodGet, "/api/v1/reports/series?granularity=hourly", admin, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown granularity, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", "admin123")

	if rec := do(t, handler, http.MethodDelete, "/api/v1/items", admin, nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestStatusForMapsDomainErrors(t *testing.T) {
	cases := map[error]int{
		domain.Invalid("date", "x", "bad"): http.StatusBadRequest,
		service.ErrUnauthenticated:         http.StatusUnauthorized,
		service.ErrForbidden:               http.StatusForbidden,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Fatalf("%v: expected %d, got %d", err, want, got)
		}
	}
}
