package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/weatherid/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	TokenResolver     middleware.TokenResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           middleware.HTTPStatusCollector
	// TrustProxyHeaders がtrueの場合のみX-Forwarded-For/X-Real-IPをクライアントIPとして採用する。
	// レート制限のキーになるため、信頼できるリバースプロキシの背後でのみ有効にする。
	TrustProxyHeaders bool

	// 認証
	Gateway     GatewayDispatcher
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 運用
	DB             Pinger
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	[RealIP] → RequestID → Metrics → Logging → Recovery → SecurityHeaders
//
// ゲートウェイ（/auth, /）はCORSヘッダーを自身で付与するため、CORSミドルウェアは/api配下のみに適用する。
// レート制限はゲートウェイ全体と/auth/yandex/*に掛かる。アクションはボディを読むまで確定しないため、
// ゲートウェイ上の認証済みGET/PUTも同じバケットを消費する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRequestIDMiddleware())
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())

	gatewayHandler := NewGatewayHandler(deps.Gateway)
	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)

	// --- 認証ゲートウェイ ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Handle("/auth", gatewayHandler)
		r.Handle("/", gatewayHandler)

		// ブラウザ向けOAuthフロー
		r.Get("/auth/yandex/login", authHandler.Login)
		r.Get("/auth/yandex/callback", authHandler.Callback)
	})

	// --- 認証が必要なルート ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.TokenResolver))
			r.Get("/session", Session)
		})
	})

	// --- 運用 ---
	if deps.DB != nil {
		r.Get("/health", NewHealthHandler(deps.DB))
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	return r
}
