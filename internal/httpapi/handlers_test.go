package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"kassza/internal/archive"
	"kassza/internal/domain"
	"kassza/internal/ledger"
	"kassza/internal/service"
	"kassza/internal/store"
	"kassza/internal/store/memory"
)

type testEnv struct {
	handler http.Handler
	port    *memory.Store
	svc     *service.Service
}

// newTestEnv builds a full API with an in-memory store, a real AuthManager
// and a real Service so handler tests exercise the complete request path.
func newTestEnv(t *testing.T, till TillFeed) testEnv {
	t.Helper()

	port := memory.New()
	svc := service.New(port, nil, archive.NewMemory(), nil, service.Config{Location: time.UTC})
	auth := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, svc, nil)

	ctx := context.Background()
	for _, user := range []domain.UserAccount{
		{Username: "admin", PasswordHash: mustHashPassword(t, "admin-pass"), Role: domain.RoleAdmin, Active: true},
		{Username: "anna", PasswordHash: mustHashPassword(t, "anna-pass"), Role: domain.RoleStaff, Active: true},
		{Username: "bela", PasswordHash: mustHashPassword(t, "bela-pass"), Role: domain.RoleStaff, Active: false},
	} {
		if err := svc.CreateUser(ctx, user); err != nil {
			t.Fatalf("seed user %s: %v", user.Username, err)
		}
	}
	book := domain.Item{ID: "book-1", Kind: domain.ItemKindBook, Name: "A Pál utcai fiúk", Price: decimal.NewFromInt(3490), Quantity: 2}
	if err := port.Write(ctx, store.Path(store.Books, book.ID), book); err != nil {
		t.Fatalf("seed book: %v", err)
	}

	api := New(svc, auth, till, Options{AllowedOrigin: "http://127.0.0.1:3000", Heartbeat: time.Hour})
	return testEnv{handler: api.Handler(), port: port, svc: svc}
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

func (e testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": username, "password": password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s failed: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
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
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers on every response")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/healthz", "", nil)

	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "kassza_http_request_duration_seconds") {
		t.Fatalf("expected request duration histogram in metrics output")
	}
}

func TestHandleLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	if token := env.login(t, "Admin", "admin-pass"); token == "" {
		t.Fatalf("expected access token")
	}

	cases := map[string]map[string]string{
		"wrong password": {"username": "admin", "password": "nope"},
		"unknown user":   {"username": "ghost", "password": "admin-pass"},
		"inactive user":  {"username": "bela", "password": "bela-pass"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	payload := map[string]string{"username": "admin", "password": "badpass"}

	var lastCode int
	for i := 0; i < 6; i++ {
		lastCode = env.do(t, http.MethodPost, "/api/v1/auth/login", "", payload).Code
	}
	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/shifts/active", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/shifts/active", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestAdminRoutesRejectStaff(t *testing.T) {
	env := newTestEnv(t, nil)
	staff := env.login(t, "anna", "anna-pass")

	for _, path := range []string{"/api/v1/users", "/api/v1/audit-logs", "/api/v1/reports/closing"} {
		rec := env.do(t, http.MethodGet, path, staff, nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", path, rec.Code)
		}
	}
	rec := env.do(t, http.MethodPost, "/api/v1/items/book", staff, map[string]any{"name": "x", "price": 1, "quantity": 1})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff item create, got %d", rec.Code)
	}
}

func TestShiftLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	staff := env.login(t, "anna", "anna-pass")

	rec := env.do(t, http.MethodPost, "/api/v1/shifts/close", staff, map[string]any{"actual_balance": 0})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("close without shift: expected 422, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/shifts/open", staff, map[string]any{"opening_balance": 20000, "staff_on_duty": []string{"Anna"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open shift: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var opened domain.ShiftResponse
	if err := json.NewDecoder(rec.Body).Decode(&opened); err != nil {
		t.Fatalf("decode shift: %v", err)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/shifts/open", staff, map[string]any{"opening_balance": 1, "staff_on_duty": []string{"Anna"}})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second open: expected 409, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/sales", staff, map[string]any{"item_type": "book", "item_id": "book-1", "quantity": 1})
	if rec.Code != http.StatusCreated {
		t.Fatalf("record sale: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/api/v1/sales", staff, map[string]any{"item_type": "book", "item_id": "book-1", "quantity": 5})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("oversell: expected 422, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/v1/sales", staff, map[string]any{"item_type": "book", "item_id": "book-1", "quantity": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero quantity: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/extra-transactions", staff, map[string]any{"description": "Posta", "amount": 1500, "type": "expense"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("extra: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/till/summary", staff, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("till summary: expected 200, got %d", rec.Code)
	}
	var till ledger.TillState
	if err := json.NewDecoder(rec.Body).Decode(&till); err != nil {
		t.Fatalf("decode till: %v", err)
	}
	if till.Summary == nil || !till.Summary.ExpectedBalance.Equal(decimal.NewFromInt(21990)) {
		t.Fatalf("expected running balance 21990, got %+v", till.Summary)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/shifts/close", staff, map[string]any{"actual_balance": 21490})
	if rec.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var closed domain.ShiftCloseResponse
	if err := json.NewDecoder(rec.Body).Decode(&closed); err != nil {
		t.Fatalf("decode close: %v", err)
	}
	if closed.Shift.Discrepancy == nil || !closed.Shift.Discrepancy.Equal(decimal.NewFromInt(-500)) {
		t.Fatalf("expected -500 discrepancy, got %v", closed.Shift.Discrepancy)
	}
	if !strings.Contains(closed.Report, "(hiány)") {
		t.Fatalf("expected shortfall label in report:\n%s", closed.Report)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/shifts/"+opened.Shift.ID+"/report?format=text", staff, nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("report text: got %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if rec.Body.String() != closed.Report {
		t.Fatalf("archived report differs from close response")
	}

	rec = env.do(t, http.MethodGet, "/api/v1/shifts/active", staff, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("active after close: expected 422, got %d", rec.Code)
	}
}

func TestSaleEditDeleteAndExport(t *testing.T) {
	env := newTestEnv(t, nil)
	staff := env.login(t, "anna", "anna-pass")

	rec := env.do(t, http.MethodPost, "/api/v1/sales", staff, map[string]any{"item_type": "book", "item_id": "book-1", "quantity": 1, "payment_method": "card"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("record sale: %d %s", rec.Code, rec.Body.String())
	}
	var sale domain.Sale
	if err := json.NewDecoder(rec.Body).Decode(&sale); err != nil {
		t.Fatalf("decode sale: %v", err)
	}

	rec = env.do(t, http.MethodPatch, "/api/v1/sales/"+sale.ID, staff, map[string]any{"quantity": 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPatch, "/api/v1/sales/"+sale.ID, staff, map[string]any{"quantity": 9})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("edit past stock: expected 422, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/sales?scope=daily", staff, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), sale.ID) {
		t.Fatalf("list sales: %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/api/v1/sales?scope=weekly", staff, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown scope: expected 400, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/sales?date=tegnap", staff, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/sales/export.xlsx?scope=all", staff, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "eladasok-all-") {
		t.Fatalf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Fatalf("expected a zip-based workbook")
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/sales/"+sale.ID, staff, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/api/v1/sales/"+sale.ID, staff, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete twice: expected 404, got %d", rec.Code)
	}

	var book domain.Item
	if err := env.port.Get(context.Background(), store.Path(store.Books, "book-1"), &book); err != nil {
		t.Fatalf("get book: %v", err)
	}
	if book.Quantity != 2 {
		t.Fatalf("expected stock restored to 2, got %d", book.Quantity)
	}
}

func TestItemAndUserAdministration(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.login(t, "admin", "admin-pass")

	rec := env.do(t, http.MethodGet, "/api/v1/items/toys", admin, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad kind: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/items/gifts", admin, map[string]any{"name": "Bögre", "price": 2990, "quantity": 4})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create gift: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var gift domain.Item
	if err := json.NewDecoder(rec.Body).Decode(&gift); err != nil {
		t.Fatalf("decode gift: %v", err)
	}
	rec = env.do(t, http.MethodPatch, "/api/v1/items/gift/"+gift.ID, admin, map[string]any{"quantity": 6})
	if rec.Code != http.StatusOK {
		t.Fatalf("update gift: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodDelete, "/api/v1/items/gift/"+gift.ID, admin, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete gift: expected 204, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/users", admin, map[string]any{"username": "csilla", "password": "csilla-pass", "display_name": "Csilla"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("user view leaked password hash: %s", rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/api/v1/users", admin, map[string]any{"username": "csilla", "password": "csilla-pass"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate user: expected 409, got %d", rec.Code)
	}
	if token := env.login(t, "csilla", "csilla-pass"); token == "" {
		t.Fatalf("new staff could not log in")
	}

	rec = env.do(t, http.MethodPatch, "/api/v1/users/csilla", admin, map[string]any{"active": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate: expected 200, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "csilla", "password": "csilla-pass"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("deactivated login: expected 401, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/audit-logs", admin, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "user_create") {
		t.Fatalf("audit logs: %d %s", rec.Code, rec.Body.String())
	}
}

func TestLoansOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	staff := env.login(t, "anna", "anna-pass")

	rec := env.do(t, http.MethodPost, "/api/v1/loans", staff, map[string]any{"book_id": "book-1", "borrower": "Kovács Péter"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("lend: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var loan domain.LoanView
	if err := json.NewDecoder(rec.Body).Decode(&loan); err != nil {
		t.Fatalf("decode loan: %v", err)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/loans?outstanding=true", staff, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), loan.ID) {
		t.Fatalf("list loans: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/loans/"+loan.ID+"/return", staff, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("return: expected 200, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/v1/loans/"+loan.ID+"/return", staff, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second return: expected 400, got %d", rec.Code)
	}
}

type staticFeed struct {
	states []ledger.TillState
}

func (f staticFeed) Watch(context.Context) <-chan ledger.TillState {
	ch := make(chan ledger.TillState, len(f.states))
	for _, state := range f.states {
		ch <- state
	}
	close(ch)
	return ch
}

func TestTillStream(t *testing.T) {
	feed := staticFeed{states: []ledger.TillState{{OpenShifts: 1, TodaySalesCount: 3}}}
	env := newTestEnv(t, feed)
	staff := env.login(t, "anna", "anna-pass")

	rec := env.do(t, http.MethodGet, "/api/v1/till/stream", staff, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: till\n") || !strings.Contains(body, `"today_sales_count":3`) {
		t.Fatalf("unexpected stream body:\n%s", body)
	}
}

func TestTillStreamUnavailableWithoutFeed(t *testing.T) {
	env := newTestEnv(t, nil)
	staff := env.login(t, "anna", "anna-pass")

	rec := env.do(t, http.MethodGet, "/api/v1/till/stream", staff, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", store.ErrInvalidTransaction), http.StatusBadRequest},
		{fmt.Errorf("get x: %w", store.ErrNotFound), http.StatusNotFound},
		{service.ErrShiftAlreadyOpen, http.StatusConflict},
		{service.ErrUserExists, http.StatusConflict},
		{store.ErrInsufficientStock, http.StatusUnprocessableEntity},
		{service.ErrNoOpenShift, http.StatusUnprocessableEntity},
		{service.ErrForbidden, http.StatusForbidden},
		{ErrInvalidCredentials, http.StatusUnauthorized},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusInternalServerError, errors.New("pq: password authentication failed"))
	if strings.Contains(rec.Body.String(), "pq:") {
		t.Fatalf("internal error leaked: %s", rec.Body.String())
	}
}
