package handler

import (
	"net/http"

	"github.com/hitoshi/weatherid/internal/middleware"
)

// Session はトークンから解決したユーザーIDを返す。
// 他サービスがトークンの所有者を確認するためのエンドポイント。
// GET /api/session
func Session(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"user_id": userID})
}
