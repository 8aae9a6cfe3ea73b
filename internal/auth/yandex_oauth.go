package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/yandex"

	"github.com/hitoshi/weatherid/internal/model"
)

const (
	defaultYandexInfoURL = "https://login.yandex.ru/info"
	defaultOAuthTimeout  = 5 * time.Second

	// maxProfileBodySize はプロフィール応答の読み取り上限。
	maxProfileBodySize = 1 << 20
)

// YandexOAuthConfig はYandex OAuthプロバイダーの設定。
type YandexOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL。空の場合はYandexの既定エンドポイント。
	AuthURL  string
	TokenURL string
	InfoURL  string

	// Timeout はトークン交換・プロフィール取得それぞれの上限時間。
	Timeout time.Duration
	// HTTPClient は外部呼び出しに使用するクライアント。nilの場合はTimeout付きの標準クライアント。
	HTTPClient *http.Client
}

// YandexOAuthProvider はYandex OAuth 2.0による認証を提供する。
type YandexOAuthProvider struct {
	oauth   *oauth2.Config
	infoURL string
	timeout time.Duration
	client  *http.Client
}

// NewYandexOAuthProvider はYandexOAuthProviderを生成する。
func NewYandexOAuthProvider(config YandexOAuthConfig) *YandexOAuthProvider {
	endpoint := yandex.Endpoint
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}
	// クライアント資格情報はフォームパラメータで送る
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	if config.InfoURL == "" {
		config.InfoURL = defaultYandexInfoURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultOAuthTimeout
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &YandexOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
		},
		infoURL: config.InfoURL,
		timeout: config.Timeout,
		client:  client,
	}
}

// AuthCodeURL はYandexの認可画面URLを生成する。
func (p *YandexOAuthProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// ExchangeCode は認可コードをアクセストークンに交換する。
// 通信エラー、タイムアウト、2xx以外の応答、access_tokenの欠落はいずれも
// model.ErrUpstreamAuthとして返す。再試行は行わない。
func (p *YandexOAuthProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	if p.oauth.ClientID == "" || p.oauth.ClientSecret == "" {
		return "", fmt.Errorf("%w: oauth client credentials are not configured", model.ErrUpstreamAuth)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%w: token exchange: %v", model.ErrUpstreamAuth, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token in response", model.ErrUpstreamAuth)
	}

	return token.AccessToken, nil
}

// FetchProfile はアクセストークンでYandexのユーザー情報を取得する。
func (p *YandexOAuthProvider) FetchProfile(ctx context.Context, accessToken string) (*OAuthProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	u, err := url.Parse(p.infoURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid info url: %v", model.ErrUpstreamAuth, err)
	}
	q := u.Query()
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create user info request: %v", model.ErrUpstreamAuth, err)
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: user info request failed: %v", model.ErrUpstreamAuth, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read user info response: %v", model.ErrUpstreamAuth, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: user info fetch failed with status %d", model.ErrUpstreamAuth, resp.StatusCode)
	}

	return parseYandexProfile(body)
}

// yandexUserInfo はYandexのユーザー情報エンドポイントのレスポンス。
// idの型が文字列でない場合はデコードに失敗させる。
type yandexUserInfo struct {
	ID           *string `json:"id"`
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	DefaultPhone *struct {
		Number string `json:"number"`
	} `json:"default_phone"`
}

// parseYandexProfile は信頼できない応答を検証し、OAuthProfileに変換する。
// JSONオブジェクトでない、またはidが欠落・空の場合はmodel.ErrUpstreamAuthを返す。
func parseYandexProfile(body []byte) (*OAuthProfile, error) {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return nil, fmt.Errorf("%w: user info is not a JSON object", model.ErrUpstreamAuth)
	}

	var info yandexUserInfo
	if err := json.Unmarshal([]byte(trimmed), &info); err != nil {
		return nil, fmt.Errorf("%w: failed to parse user info response: %v", model.ErrUpstreamAuth, err)
	}

	if info.ID == nil || strings.TrimSpace(*info.ID) == "" {
		return nil, fmt.Errorf("%w: empty id in user info response", model.ErrUpstreamAuth)
	}

	profile := &OAuthProfile{
		ExternalID: strings.TrimSpace(*info.ID),
		FirstName:  info.FirstName,
		LastName:   info.LastName,
	}
	if info.DefaultPhone != nil {
		profile.Phone = strings.TrimSpace(info.DefaultPhone.Number)
	}
	return profile, nil
}

// compile-time interface check
var _ OAuthProvider = (*YandexOAuthProvider)(nil)
