// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/weatherid/internal/gateway"
	"github.com/hitoshi/weatherid/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// TokenResolver はベアラートークンからユーザーIDを解決する。
// auth.ServiceのResolveTokenを満たす。
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (int64, error)
}

// NewSessionMiddleware はX-Authorization（無ければAuthorization）ヘッダーのベアラートークンを検証し、
// 認証済みユーザーIDをリクエストコンテキストに注入するミドルウェアを返す。
// トークン未提供・無効の場合は401を返す。
func NewSessionMiddleware(resolver TokenResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := resolver.ResolveToken(r.Context(), BearerToken(r))
			switch {
			case err == nil:
			case errors.Is(err, model.ErrMissingToken):
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewTokenMissingError())
				return
			case errors.Is(err, model.ErrInvalidToken):
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewTokenInvalidError())
				return
			default:
				slog.ErrorContext(r.Context(), "failed to resolve token",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			noteUserID(r.Context(), userID)
			ctx := ContextWithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken はリクエストヘッダーからベアラートークンを取り出す。
// 抽出規則はゲートウェイと共通。
func BearerToken(r *http.Request) string {
	return gateway.ExtractBearer(
		r.Header.Get(gateway.HeaderXAuthorization),
		r.Header.Get(gateway.HeaderAuthorization),
	)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	if !ok || userID == 0 {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
