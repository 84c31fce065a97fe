package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/transfa/ussd-service/internal/app"
	"github.com/transfa/ussd-service/internal/domain"
	"github.com/transfa/ussd-service/internal/store"
)

const (
	testInternalKey = "internal-test-key"
	testAdminSecret = "admin-test-secret"
)

type limiterStub struct {
	count int
	err   error
	calls int
}

func (l *limiterStub) Allow(ctx context.Context, phone string) (app.RateDecision, error) {
	l.calls++
	if l.err != nil {
		return app.RateDecision{}, l.err
	}
	return app.RateDecision{Allowed: l.count <= 60, Count: l.count, RetryAfter: 30 * time.Second}, nil
}

type failingSweeper struct{}

func (failingSweeper) RunOnce(ctx context.Context) (int64, error) {
	return 0, errors.New("store unavailable")
}

type testServer struct {
	handler  http.Handler
	handlers *USSDHandlers
	repo     *store.MemoryRepository
	sessions *store.MemorySessionStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo := store.NewMemoryRepository(store.LimitPolicy{})
	sessions := store.NewMemorySessionStore(90 * time.Second)
	service := app.NewService(repo, sessions, app.NewPINGuard(repo, 3), app.Settings{
		USSDCode:          "*384*2025#",
		BankName:          "QuickBank",
		DefaultRegion:     "NG",
		MaxTransferAmount: 10_000_000,
	})
	handlers := NewUSSDHandlers(service, service, app.NewDepositConsumer(repo, nil), app.NewSweeper(sessions, "@every 1m"))

	return &testServer{
		handler: NewRouter(handlers, RouterConfig{
			InternalAPIKey: testInternalKey,
			AdminJWTSecret: testAdminSecret,
		}),
		handlers: handlers,
		repo:     repo,
		sessions: sessions,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) seedAccount(t *testing.T, phone string) *domain.Account {
	t.Helper()
	account, err := s.repo.CreateAccount(context.Background(), &domain.Account{PhoneNumber: phone, FirstName: "Ada", LastName: "Obi", PINHash: "secret-hash"})
	if err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}
	return account
}

func ussdForm(sessionID, phone, text string) *http.Request {
	form := url.Values{}
	form.Set("sessionId", sessionID)
	form.Set("phoneNumber", phone)
	form.Set("text", text)
	form.Set("serviceCode", "*384*2025#")
	req := httptest.NewRequest(http.MethodPost, "/ussd", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func adminToken(t *testing.T, role string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "ops@example.com",
		"role": role,
		"exp":  time.Now().Add(expiresIn).Unix(),
	})
	signed, err := token.SignedString([]byte(testAdminSecret))
	if err != nil {
		t.Fatalf("SignedString returned error: %v", err)
	}
	return signed
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "healthy" {
		t.Fatalf("expected 200 healthy, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestUSSDCallback_FormEncoded(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(ussdForm("AT-1", "08031234567", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected text/plain, got %q", ct)
	}
	if !strings.HasPrefix(rec.Body.String(), "CON Welcome to QuickBank") {
		t.Fatalf("expected main menu, got %q", rec.Body.String())
	}

	rec = srv.do(ussdForm("AT-1", "08031234567", "2"))
	if rec.Body.String() != "END Account not found. Please create an account first." {
		t.Fatalf("unexpected reply %q", rec.Body.String())
	}
}

func TestUSSDCallback_JSON(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/ussd", strings.NewReader(`{"sessionId":"AT-2","phoneNumber":"+2348031234567","text":""}`))
	req.Header.Set("Content-Type", "application/json")
	rec := srv.do(req)
	if !strings.HasPrefix(rec.Body.String(), "CON ") {
		t.Fatalf("expected CON reply, got %q", rec.Body.String())
	}
	if _, ok := srv.sessions.Get("AT-2"); !ok {
		t.Fatalf("expected session AT-2 to be stored")
	}
}

func TestUSSDCallback_RejectsBadRequests(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{name: "missing phone", req: ussdForm("AT-3", "", "")},
		{
			name: "malformed json",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/ussd", strings.NewReader(`{"sessionId":`))
				req.Header.Set("Content-Type", "application/json")
				return req
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := srv.do(tt.req); rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestUSSDCallback_RateLimit(t *testing.T) {
	tests := []struct {
		name    string
		limiter *limiterStub
		want    string
	}{
		{name: "under limit", limiter: &limiterStub{count: 3}, want: "CON Welcome"},
		{name: "over limit", limiter: &limiterStub{count: 61}, want: "END Too many requests. Please try again shortly."},
		{name: "limiter down fails open", limiter: &limiterStub{err: errors.New("redis: connection refused")}, want: "CON Welcome"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			srv.handlers.SetRateLimiter(tt.limiter)

			rec := srv.do(ussdForm("AT-4", "08031234567", ""))
			if !strings.HasPrefix(rec.Body.String(), tt.want) {
				t.Fatalf("expected reply starting %q, got %q", tt.want, rec.Body.String())
			}
			if tt.limiter.calls != 1 {
				t.Fatalf("expected one limiter call, got %d", tt.limiter.calls)
			}
		})
	}
}

func TestInternalDeposits(t *testing.T) {
	srv := newTestServer(t)
	account := srv.seedAccount(t, "+2348031234567")

	post := func(key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/internal/deposits", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if key != "" {
			req.Header.Set("X-Internal-API-Key", key)
		}
		return srv.do(req)
	}
	body := `{"account_number":"` + account.AccountNumber + `","amount":150000,"external_reference":"nip-001"}`

	if rec := post("", body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}
	if rec := post("wrong-key", body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", rec.Code)
	}

	rec := post(testInternalKey, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}
	var created depositResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.BalanceAfter != 150000 || created.Replayed {
		t.Fatalf("unexpected deposit response: %+v", created)
	}

	rec = post(testInternalKey, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", rec.Code)
	}
	if balance, _ := srv.repo.GetBalance(context.Background(), account.AccountNumber); balance != 150000 {
		t.Fatalf("expected balance 150000 after replay, got %d", balance)
	}

	if rec := post(testInternalKey, `{"account_number":"0000009999","amount":100,"external_reference":"nip-002"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown account, got %d", rec.Code)
	}
	if rec := post(testInternalKey, `{"account_number":"`+account.AccountNumber+`","amount":-5,"external_reference":"nip-003"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative amount, got %d", rec.Code)
	}
}

func TestInternalSweep(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/internal/sessions/sweep", nil)
	req.Header.Set("X-Internal-API-Key", testInternalKey)
	rec := srv.do(req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"swept":0`) {
		t.Fatalf("expected 200 with swept count, got %d %s", rec.Code, rec.Body.String())
	}

	srv.handlers.sweeper = failingSweeper{}
	req = httptest.NewRequest(http.MethodPost, "/internal/sessions/sweep", nil)
	req.Header.Set("X-Internal-API-Key", testInternalKey)
	if rec := srv.do(req); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from failing sweeper, got %d", rec.Code)
	}
}

func TestInternalRoutesRejectWhenKeyUnset(t *testing.T) {
	srv := newTestServer(t)
	handler := NewRouter(srv.handlers, RouterConfig{})

	req := httptest.NewRequest(http.MethodPost, "/internal/sessions/sweep", nil)
	req.Header.Set("X-Internal-API-Key", "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no configured key, got %d", rec.Code)
	}
}

func TestAdminAuthorization(t *testing.T) {
	srv := newTestServer(t)
	srv.seedAccount(t, "+2348031234567")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer not.a.jwt", want: http.StatusUnauthorized},
		{name: "expired token", header: "Bearer " + adminToken(t, adminRole, -time.Minute), want: http.StatusUnauthorized},
		{name: "wrong role", header: "Bearer " + adminToken(t, "support", time.Hour), want: http.StatusForbidden},
		{name: "admin", header: "Bearer " + adminToken(t, adminRole, time.Hour), want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/accounts/08031234567", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if rec := srv.do(req); rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestAdminAccountLookup(t *testing.T) {
	srv := newTestServer(t)
	account := srv.seedAccount(t, "+2348031234567")
	token := "Bearer " + adminToken(t, adminRole, time.Hour)

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", token)
		return srv.do(req)
	}

	rec := get("/admin/accounts/08031234567")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret-hash") {
		t.Fatalf("account summary leaked the PIN hash: %s", rec.Body.String())
	}
	var summary accountSummaryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.AccountNumber != account.AccountNumber || summary.Name != "Ada Obi" || summary.Status != domain.AccountStatusActive {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if rec := get("/admin/accounts/08039999999"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown phone, got %d", rec.Code)
	}
	if rec := get("/admin/accounts/12"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid phone, got %d", rec.Code)
	}
}

func TestAdminTransactions(t *testing.T) {
	srv := newTestServer(t)
	account := srv.seedAccount(t, "+2348031234567")
	token := "Bearer " + adminToken(t, adminRole, time.Hour)

	for _, ref := range []string{"a", "b", "c"} {
		if _, err := srv.repo.Credit(context.Background(), store.CreditParams{
			AccountNumber:  account.AccountNumber,
			Amount:         1000,
			Category:       domain.CategoryDeposit,
			Description:    "Deposit",
			IdempotencyKey: "deposit:" + ref,
		}); err != nil {
			t.Fatalf("Credit returned error: %v", err)
		}
	}

	tests := []struct {
		query string
		code  int
		count int
	}{
		{query: "", code: http.StatusOK, count: 3},
		{query: "?limit=2", code: http.StatusOK, count: 2},
		{query: "?limit=zero", code: http.StatusBadRequest},
		{query: "?limit=-1", code: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run("limit"+tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/accounts/08031234567/transactions"+tt.query, nil)
			req.Header.Set("Authorization", token)
			rec := srv.do(req)
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rec.Code)
			}
			if tt.code != http.StatusOK {
				return
			}
			var body struct {
				Transactions []domain.Transaction `json:"transactions"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if len(body.Transactions) != tt.count {
				t.Fatalf("expected %d transactions, got %d", tt.count, len(body.Transactions))
			}
		})
	}
}

func TestAdminCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/admin/accounts/08031234567", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := srv.do(req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
		t.Fatalf("expected allowed origin echoed, got %q", got)
	}
}
