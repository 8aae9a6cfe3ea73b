// Package gateway はリクエスト単位の認証ゲートウェイを提供する。
// トランスポートに依存しないRequest/Responseを受け取り、アクションを判定して認証サービスに振り分ける。
package gateway

import (
	"encoding/json"
	"strings"
)

// 認証ヘッダー名。
const (
	HeaderXAuthorization = "X-Authorization"
	HeaderAuthorization  = "Authorization"
)

const bearerPrefix = "bearer "

// Request はゲートウェイが受け取るリクエストを表す。
type Request struct {
	HTTPMethod            string            `json:"httpMethod"`
	Headers               map[string]string `json:"headers"`
	Body                  string            `json:"body"`
	QueryStringParameters map[string]string `json:"queryStringParameters"`
}

// Response はゲートウェイが返すレスポンスを表す。
type Response struct {
	StatusCode      int               `json:"statusCode"`
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body"`
	IsBase64Encoded bool              `json:"isBase64Encoded"`
}

// Header は大文字小文字を区別せずにヘッダー値を返す。
func (r Request) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Query はクエリパラメータの値を返す。
func (r Request) Query(name string) string {
	return r.QueryStringParameters[name]
}

// BearerToken はX-Authorizationヘッダー（無ければAuthorizationヘッダー）からトークンを取り出す。
// 空の場合は空文字列を返し、呼び出し側はこれを「トークン未提供」として扱う。
func (r Request) BearerToken() string {
	return ExtractBearer(r.Header(HeaderXAuthorization), r.Header(HeaderAuthorization))
}

// ExtractBearer は2つの認証ヘッダー値からトークンを取り出す。xAuthorizationが空でなければ優先する。
// "Bearer "接頭辞は大文字小文字を区別せずに除去する。
func ExtractBearer(xAuthorization, authorization string) string {
	raw := strings.TrimSpace(xAuthorization)
	if raw == "" {
		raw = strings.TrimSpace(authorization)
	}
	if strings.EqualFold(raw, strings.TrimSpace(bearerPrefix)) {
		return ""
	}
	if len(raw) >= len(bearerPrefix) && strings.EqualFold(raw[:len(bearerPrefix)], bearerPrefix) {
		raw = raw[len(bearerPrefix):]
	}
	return strings.TrimSpace(raw)
}

// decodeBody はJSONボディをvにデコードする。空ボディは空オブジェクトとして扱う。
func (r Request) decodeBody(v any) error {
	body := strings.TrimSpace(r.Body)
	if body == "" {
		body = "{}"
	}
	return json.Unmarshal([]byte(body), v)
}
