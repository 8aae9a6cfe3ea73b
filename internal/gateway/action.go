package gateway

import (
	"net/http"
	"strings"

	"github.com/hitoshi/weatherid/internal/model"
)

// Action はゲートウェイが処理するアクションの閉じた集合。
type Action int

const (
	// ActionUnsupported は対応していないメソッドまたはアクションを表す。
	ActionUnsupported Action = iota
	ActionPreflight
	ActionRegister
	ActionLogin
	ActionOAuthCallback
	ActionIntrospect
	ActionUpdateProfile
)

// String はメトリクスやログで使用するアクション名を返す。
func (a Action) String() string {
	switch a {
	case ActionPreflight:
		return "preflight"
	case ActionRegister:
		return "register"
	case ActionLogin:
		return "login"
	case ActionOAuthCallback:
		return "oauth_callback"
	case ActionIntrospect:
		return "introspect"
	case ActionUpdateProfile:
		return "update_profile"
	default:
		return "unsupported"
	}
}

// RequiresToken は認証済みトークンが必要なアクションかどうかを返す。
func (a Action) RequiresToken() bool {
	return a == ActionIntrospect || a == ActionUpdateProfile
}

// postActions はPOSTボディのactionフィールドとアクションの対応。
var postActions = map[string]Action{
	"register":        ActionRegister,
	"login":           ActionLogin,
	"yandex_callback": ActionOAuthCallback,
	"oauth_callback":  ActionOAuthCallback,
}

// ParseAction はメソッドとPOSTボディのactionフィールドからアクションを判定する。
// POSTボディがJSONとして解釈できない場合はmodel.ErrInvalidInputを返す。
func ParseAction(req Request) (Action, error) {
	switch strings.ToUpper(req.HTTPMethod) {
	case http.MethodOptions:
		return ActionPreflight, nil
	case http.MethodGet:
		return ActionIntrospect, nil
	case http.MethodPut:
		return ActionUpdateProfile, nil
	case http.MethodPost:
		var body struct {
			Action string `json:"action"`
		}
		if err := req.decodeBody(&body); err != nil {
			return ActionUnsupported, model.NewInputError("request body must be a JSON object")
		}
		if a, ok := postActions[strings.TrimSpace(body.Action)]; ok {
			return a, nil
		}
		return ActionUnsupported, nil
	default:
		return ActionUnsupported, nil
	}
}
