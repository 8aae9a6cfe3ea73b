package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/weatherid/internal/auth"
	"github.com/hitoshi/weatherid/internal/model"
)

const (
	allowMethods = "GET, POST, PUT, OPTIONS"
	allowHeaders = "Content-Type, X-Authorization"
)

// AuthService はゲートウェイが利用する認証サービスのインターフェース。
type AuthService interface {
	Register(ctx context.Context, phone, firstName, lastName string) (*auth.Grant, error)
	Login(ctx context.Context, phone string) (*auth.Grant, error)
	OAuthCallback(ctx context.Context, code string) (*auth.Grant, error)
	Profile(ctx context.Context, token string) (*model.User, error)
	UpdateProfile(ctx context.Context, token string, update auth.ProfileUpdate) error
	ResolveToken(ctx context.Context, token string) (int64, error)
}

// Config はゲートウェイの設定。
type Config struct {
	// AllowedOrigin はAccess-Control-Allow-Originに設定する値。空の場合は"*"。
	AllowedOrigin string
}

// Gateway は認証リクエストのディスパッチャー。状態を持たず、並行に呼び出してよい。
type Gateway struct {
	auth          AuthService
	allowedOrigin string
}

// New はGatewayを生成する。
func New(svc AuthService, cfg Config) *Gateway {
	origin := cfg.AllowedOrigin
	if origin == "" {
		origin = "*"
	}
	return &Gateway{auth: svc, allowedOrigin: origin}
}

// grantResponse はセッション発行時のレスポンスボディ。
type grantResponse struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// profileResponse はトークン検証（プロフィール参照）のレスポンスボディ。
// 電話番号のみのアカウントではyandex_idがnullとなる。
type profileResponse struct {
	ID        int64   `json:"id"`
	Phone     string  `json:"phone"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	YandexID  *string `json:"yandex_id"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// credentialsRequest は登録・ログイン・OAuthコールバックのボディ。
type credentialsRequest struct {
	Phone     string `json:"phone"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Code      string `json:"code"`
}

type profileUpdateRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// Handle はリクエストを1つのアクションとして処理し、レスポンスを返す。
// エラーは全てJSONボディ{"error", "code"}とステータスコードに変換される。
func (g *Gateway) Handle(ctx context.Context, req Request) Response {
	action, err := ParseAction(req)
	if err != nil {
		return g.fail(ctx, action, err)
	}

	// 認証が必要なアクションはボディを解釈する前にトークンを検証する
	if action.RequiresToken() {
		if _, err := g.auth.ResolveToken(ctx, req.BearerToken()); err != nil {
			return g.fail(ctx, action, err)
		}
	}

	switch action {
	case ActionPreflight:
		return g.preflight()
	case ActionRegister:
		var body credentialsRequest
		if err := req.decodeBody(&body); err != nil {
			return g.fail(ctx, action, model.NewInputError("request body must be a JSON object"))
		}
		grant, err := g.auth.Register(ctx, body.Phone, body.FirstName, body.LastName)
		return g.grant(ctx, action, grant, err)
	case ActionLogin:
		var body credentialsRequest
		if err := req.decodeBody(&body); err != nil {
			return g.fail(ctx, action, model.NewInputError("request body must be a JSON object"))
		}
		grant, err := g.auth.Login(ctx, body.Phone)
		return g.grant(ctx, action, grant, err)
	case ActionOAuthCallback:
		var body credentialsRequest
		if err := req.decodeBody(&body); err != nil {
			return g.fail(ctx, action, model.NewInputError("request body must be a JSON object"))
		}
		code := body.Code
		if code == "" {
			code = req.Query("code")
		}
		grant, err := g.auth.OAuthCallback(ctx, code)
		return g.grant(ctx, action, grant, err)
	case ActionIntrospect:
		user, err := g.auth.Profile(ctx, req.BearerToken())
		if err != nil {
			return g.fail(ctx, action, err)
		}
		return g.json(http.StatusOK, profileResponse{
			ID:        user.ID,
			Phone:     user.Phone,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			YandexID:  user.ExternalOAuthID,
		})
	case ActionUpdateProfile:
		var body profileUpdateRequest
		if err := req.decodeBody(&body); err != nil {
			return g.fail(ctx, action, model.NewInputError("request body must be a JSON object"))
		}
		err := g.auth.UpdateProfile(ctx, req.BearerToken(), auth.ProfileUpdate{
			FirstName: body.FirstName,
			LastName:  body.LastName,
			Phone:     body.Phone,
		})
		if err != nil {
			return g.fail(ctx, action, err)
		}
		return g.json(http.StatusOK, map[string]bool{"success": true})
	case ActionUnsupported:
		return g.json(http.StatusMethodNotAllowed, toErrorBody(model.NewMethodNotAllowedError()))
	}

	// Actionは閉じた集合のため到達しない
	return g.json(http.StatusMethodNotAllowed, toErrorBody(model.NewMethodNotAllowedError()))
}

func (g *Gateway) grant(ctx context.Context, action Action, grant *auth.Grant, err error) Response {
	if err != nil {
		return g.fail(ctx, action, err)
	}
	return g.json(http.StatusOK, grantResponse{
		Token:     grant.Token,
		UserID:    grant.UserID,
		ExpiresAt: grant.ExpiresAt.UTC(),
	})
}

// fail はエラーをステータスコードとエラーボディに変換する。
func (g *Gateway) fail(ctx context.Context, action Action, err error) Response {
	status, apiErr := StatusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		slog.ErrorContext(ctx, "auth action failed",
			slog.String("action", action.String()),
			slog.String("error", err.Error()),
		)
	}
	return g.json(status, toErrorBody(apiErr))
}

// StatusFor はエラーをHTTPステータスコードとクライアント向けエラーに分類する。
// 内部エラーの詳細はクライアントに返さない。
func StatusFor(err error) (int, *model.APIError) {
	var inputErr *model.InputError
	switch {
	case errors.Is(err, model.ErrMissingToken):
		return http.StatusUnauthorized, model.NewTokenMissingError()
	case errors.Is(err, model.ErrInvalidToken):
		return http.StatusUnauthorized, model.NewTokenInvalidError()
	case errors.As(err, &inputErr):
		return http.StatusBadRequest, model.NewInvalidInputError(inputErr.Reason)
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, model.NewInvalidInputError("invalid request")
	case errors.Is(err, model.ErrUserNotFound):
		return http.StatusNotFound, model.NewUserNotFoundError()
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict, model.NewConflictError()
	case errors.Is(err, model.ErrUpstreamAuth):
		return http.StatusBadGateway, model.NewUpstreamAuthError()
	default:
		return http.StatusInternalServerError, model.NewInternalError()
	}
}

func toErrorBody(apiErr *model.APIError) errorResponse {
	return errorResponse{Error: apiErr.Message, Code: apiErr.Code}
}

func (g *Gateway) preflight() Response {
	return Response{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Access-Control-Allow-Origin":  g.allowedOrigin,
			"Access-Control-Allow-Methods": allowMethods,
			"Access-Control-Allow-Headers": allowHeaders,
		},
		Body: "",
	}
}

func (g *Gateway) json(status int, v any) Response {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"internal error","code":"INTERNAL_ERROR"}`)
	}
	return Response{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":                "application/json",
			"Access-Control-Allow-Origin": g.allowedOrigin,
		},
		Body: string(body),
	}
}
