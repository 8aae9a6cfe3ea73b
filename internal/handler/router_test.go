package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/weatherid/internal/auth"
	"github.com/hitoshi/weatherid/internal/gateway"
	"github.com/hitoshi/weatherid/internal/middleware"
	"github.com/hitoshi/weatherid/internal/model"
)

// --- ルーターテスト用のステートフルモック ---

// fakeAuthBackend は電話番号登録とトークン解決のみを持つ最小の認証バックエンド。
type fakeAuthBackend struct {
	mu       sync.Mutex
	nextID   int64
	byPhone  map[string]int64
	sessions map[string]int64
}

func newFakeAuthBackend() *fakeAuthBackend {
	return &fakeAuthBackend{byPhone: map[string]int64{}, sessions: map[string]int64{}}
}

func (f *fakeAuthBackend) grant(userID int64) *auth.Grant {
	token := "token-" + string(rune('a'+len(f.sessions)))
	f.sessions[token] = userID
	return &auth.Grant{Token: token, UserID: userID, ExpiresAt: time.Now().Add(auth.DefaultSessionTTL)}
}

func (f *fakeAuthBackend) Register(_ context.Context, phone, _, _ string) (*auth.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if phone == "" {
		return nil, model.NewInputError("phone is required")
	}
	id, ok := f.byPhone[phone]
	if !ok {
		f.nextID++
		id = f.nextID
		f.byPhone[phone] = id
	}
	return f.grant(id), nil
}

func (f *fakeAuthBackend) Login(_ context.Context, phone string) (*auth.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byPhone[phone]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	return f.grant(id), nil
}

func (f *fakeAuthBackend) OAuthCallback(context.Context, string) (*auth.Grant, error) {
	return nil, model.ErrUpstreamAuth
}

func (f *fakeAuthBackend) ResolveToken(_ context.Context, token string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token == "" {
		return 0, model.ErrMissingToken
	}
	id, ok := f.sessions[token]
	if !ok {
		return 0, model.ErrInvalidToken
	}
	return id, nil
}

func (f *fakeAuthBackend) Profile(ctx context.Context, token string) (*model.User, error) {
	id, err := f.ResolveToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &model.User{ID: id}, nil
}

func (f *fakeAuthBackend) UpdateProfile(ctx context.Context, token string, _ auth.ProfileUpdate) error {
	_, err := f.ResolveToken(ctx, token)
	return err
}

func (f *fakeAuthBackend) LoginURL(state string) string {
	return "https://oauth.yandex.ru/authorize?state=" + state
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

func newTestRouter(backend *fakeAuthBackend, limiter *middleware.RateLimiter, db Pinger) http.Handler {
	return NewRouter(newTestRouterDeps(backend, limiter, db))
}

func newTestRouterDeps(backend *fakeAuthBackend, limiter *middleware.RateLimiter, db Pinger) *RouterDeps {
	return &RouterDeps{
		TokenResolver:     backend,
		CORSAllowedOrigin: "*",
		RateLimiter:       limiter,
		Gateway:           gateway.New(backend, gateway.Config{}),
		AuthService:       backend,
		DB:                db,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
	}
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("failed to decode %s %s response: %v", method, path, err)
		}
	}
	return w, decoded
}

// --- テスト ---

// TestRouter_RegisterThenResolve は登録で得たトークンが/api/sessionで解決できることを検証する。
func TestRouter_RegisterThenResolve(t *testing.T) {
	backend := newFakeAuthBackend()
	router := newTestRouter(backend, nil, nil)

	w, body := doJSON(t, router, http.MethodPost, "/auth", `{"action":"register","phone":"+79990001122"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("register status = %d, body = %s", w.Code, w.Body.String())
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("expected token in register response")
	}

	w, body = doJSON(t, router, http.MethodGet, "/api/session", "", map[string]string{"X-Authorization": "Bearer " + token})
	if w.Code != http.StatusOK {
		t.Fatalf("session status = %d", w.Code)
	}
	if body["user_id"] != float64(1) {
		t.Errorf("user_id = %v, want 1", body["user_id"])
	}

	// ゲートウェイのGETでも同じトークンが使える
	w, body = doJSON(t, router, http.MethodGet, "/", "", map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK || body["id"] != float64(1) {
		t.Errorf("introspect status = %d body = %v", w.Code, body)
	}
}

func TestRouter_GatewayStatusMapping(t *testing.T) {
	router := newTestRouter(newFakeAuthBackend(), nil, nil)

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
	}{
		{"login unknown phone", http.MethodPost, `{"action":"login","phone":"+70000000000"}`, http.StatusNotFound},
		{"register without phone", http.MethodPost, `{"action":"register"}`, http.StatusBadRequest},
		{"unknown action", http.MethodPost, `{"action":"logout"}`, http.StatusMethodNotAllowed},
		{"delete", http.MethodDelete, ``, http.StatusMethodNotAllowed},
		{"introspect without token", http.MethodGet, ``, http.StatusUnauthorized},
		{"oauth upstream failure", http.MethodPost, `{"action":"yandex_callback","code":"x"}`, http.StatusBadGateway},
		{"malformed json", http.MethodPost, `{"action"`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := doJSON(t, router, tt.method, "/auth", tt.body, nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if body["code"] == nil || body["error"] == nil {
				t.Errorf("error body should carry error and code, got %v", body)
			}
			if w.Header().Get("Access-Control-Allow-Origin") != "*" {
				t.Error("gateway responses should carry Access-Control-Allow-Origin")
			}
		})
	}
}

func TestRouter_GatewayPreflight(t *testing.T) {
	router := newTestRouter(newFakeAuthBackend(), nil, nil)

	w, _ := doJSON(t, router, http.MethodOptions, "/auth", "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("preflight body should be empty, got %q", w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, X-Authorization" {
		t.Errorf("Allow-Headers = %q", got)
	}
}

func TestRouter_APISession_RequiresToken(t *testing.T) {
	router := newTestRouter(newFakeAuthBackend(), nil, nil)

	w, body := doJSON(t, router, http.MethodGet, "/api/session", "", map[string]string{"X-Authorization": "Bearer unknown"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if body["code"] != model.ErrCodeTokenInvalid {
		t.Errorf("code = %v", body["code"])
	}
}

func TestRouter_RateLimitOnGateway(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{Rate: 0.01, Burst: 2, CleanupInterval: time.Minute})
	defer limiter.Stop()
	router := newTestRouter(newFakeAuthBackend(), limiter, nil)

	for i := 0; i < 2; i++ {
		w, _ := doJSON(t, router, http.MethodPost, "/auth", `{"action":"login","phone":"+7"}`, nil)
		if w.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d should not be limited", i)
		}
	}
	w, body := doJSON(t, router, http.MethodPost, "/auth", `{"action":"login","phone":"+7"}`, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if body["code"] != model.ErrCodeRateLimited {
		t.Errorf("code = %v", body["code"])
	}

	// /api配下は制限対象外
	w, _ = doJSON(t, router, http.MethodGet, "/api/session", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("/api/session status = %d, want 401", w.Code)
	}
}

// TestRouter_RateLimit_ForwardedHeaders はプロキシヘッダーを信頼しない設定では
// X-Forwarded-Forを変えても同じバケットが使われることを検証する。
func TestRouter_RateLimit_ForwardedHeaders(t *testing.T) {
	tests := []struct {
		name          string
		trustProxy    bool
		wantThirdCode int
	}{
		{"untrusted headers share the remote address bucket", false, http.StatusTooManyRequests},
		{"trusted headers give each client its own bucket", true, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{Rate: 0.01, Burst: 2, CleanupInterval: time.Minute})
			defer limiter.Stop()
			deps := newTestRouterDeps(newFakeAuthBackend(), limiter, nil)
			deps.TrustProxyHeaders = tt.trustProxy
			router := NewRouter(deps)

			var w *httptest.ResponseRecorder
			for i, ip := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
				w, _ = doJSON(t, router, http.MethodPost, "/auth", `{"action":"login","phone":"+7"}`,
					map[string]string{"X-Forwarded-For": ip})
				if i < 2 && w.Code == http.StatusTooManyRequests {
					t.Fatalf("request %d should not be limited", i)
				}
			}
			if w.Code != tt.wantThirdCode {
				t.Errorf("third request status = %d, want %d", w.Code, tt.wantThirdCode)
			}
		})
	}
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name       string
		pinger     Pinger
		wantStatus int
	}{
		{"healthy", stubPinger{}, http.StatusOK},
		{"db down", stubPinger{err: errors.New("connection refused")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(newFakeAuthBackend(), nil, tt.pinger)
			w, _ := doJSON(t, router, http.MethodGet, "/health", "", nil)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_CommonHeadersAndMetrics(t *testing.T) {
	router := newTestRouter(newFakeAuthBackend(), nil, nil)

	w, _ := doJSON(t, router, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "# metrics" {
		t.Errorf("metrics status = %d body = %q", w.Code, w.Body.String())
	}
	if w.Header().Get(middleware.HeaderRequestID) == "" {
		t.Error("expected X-Request-ID header")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
}

func TestRouter_YandexLogin(t *testing.T) {
	router := newTestRouter(newFakeAuthBackend(), nil, nil)

	w, _ := doJSON(t, router, http.MethodGet, "/auth/yandex/login", "", nil)
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Location"), "https://oauth.yandex.ru/authorize") {
		t.Errorf("Location = %q", w.Header().Get("Location"))
	}
}

func TestGatewayHandler_BodyTooLarge(t *testing.T) {
	router := newTestRouter(newFakeAuthBackend(), nil, nil)

	big := `{"action":"register","phone":"` + strings.Repeat("1", maxGatewayBodyBytes) + `"}`
	w, _ := doJSON(t, router, http.MethodPost, "/auth", big, nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}
