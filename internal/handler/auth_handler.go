// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/weatherid/internal/auth"
	"github.com/hitoshi/weatherid/internal/gateway"
	"github.com/hitoshi/weatherid/internal/middleware"
	"github.com/hitoshi/weatherid/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface はブラウザ向けOAuthフローが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	LoginURL(state string) string
	OAuthCallback(ctx context.Context, code string) (*auth.Grant, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
}

// AuthHandler はYandex OAuthのブラウザフローを扱うHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// Login はYandex OAuthフローを開始する。
// GET /auth/yandex/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.LoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はYandexからのリダイレクトを受けてセッションを発行する。
// GET /auth/yandex/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.WarnContext(r.Context(), "oauth state mismatch")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("invalid state parameter"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 認可コードの交換とセッション発行
	grant, err := h.service.OAuthCallback(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		status, apiErr := gateway.StatusFor(err)
		if status == http.StatusInternalServerError {
			slog.ErrorContext(r.Context(), "oauth callback failed", slog.String("error", err.Error()))
		}
		middleware.WriteErrorResponse(w, status, apiErr)
		return
	}

	writeJSON(w, http.StatusOK, grantBody{
		Token:     grant.Token,
		UserID:    grant.UserID,
		ExpiresAt: grant.ExpiresAt.UTC(),
	})
}

type grantBody struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
