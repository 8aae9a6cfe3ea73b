// Package auth は電話番号・Yandex OAuthによる認証フロー、セッション発行と検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/weatherid/internal/metrics"
	"github.com/hitoshi/weatherid/internal/model"
	"github.com/hitoshi/weatherid/internal/repository"
)

const tracerName = "github.com/hitoshi/weatherid/internal/auth"

// DefaultSessionTTL はセッションの既定の有効期間（30日）。
const DefaultSessionTTL = 30 * 24 * time.Hour

// OAuthProfile はOAuthプロバイダーから取得し、検証済みのユーザー情報を表す。
// Phoneはプロバイダーが共有しない場合は空文字列となる。
type OAuthProfile struct {
	ExternalID string
	FirstName  string
	LastName   string
	Phone      string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 失敗は全てmodel.ErrUpstreamAuthをラップして返す。
type OAuthProvider interface {
	// AuthCodeURL はプロバイダーの認可画面URLを生成する。
	AuthCodeURL(state string) string
	// ExchangeCode は認可コードをアクセストークンに交換する。
	ExchangeCode(ctx context.Context, code string) (string, error)
	// FetchProfile はアクセストークンでユーザー情報を取得する。
	FetchProfile(ctx context.Context, accessToken string) (*OAuthProfile, error)
}

// NameSanitizer は保存前の氏名を正規化する。
type NameSanitizer interface {
	Sanitize(name string) string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionTTL time.Duration
}

// Grant はセッション発行の結果を表す。
type Grant struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
}

// ProfileUpdate はプロフィール更新の入力を表す。
type ProfileUpdate struct {
	FirstName string
	LastName  string
	Phone     string
}

// Service は認証に関するビジネスロジックを提供する。
// リクエスト間で共有する可変状態は持たず、整合性はストレージ層のトランザクションに委ねる。
type Service struct {
	oauth     OAuthProvider
	store     repository.Store
	sanitizer NameSanitizer
	metrics   metrics.MetricsCollector
	tracer    trace.Tracer
	config    ServiceConfig

	now      func() time.Time
	newToken func() (string, error)
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(
	oauth OAuthProvider,
	store repository.Store,
	sanitizer NameSanitizer,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if config.SessionTTL <= 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		oauth:     oauth,
		store:     store,
		sanitizer: sanitizer,
		metrics:   collector,
		tracer:    otel.Tracer(tracerName),
		config:    config,
		now:       time.Now,
		newToken:  GenerateToken,
	}
}

// LoginURL はプロバイダーの認可画面URLを生成する。
func (s *Service) LoginURL(state string) string {
	return s.oauth.AuthCodeURL(state)
}

// Register は電話番号でユーザーを登録（既存の場合は氏名を更新）し、セッションを発行する。
// ユーザーのupsert、設定行の保証、セッション作成は単一トランザクションで行う。
func (s *Service) Register(ctx context.Context, phone, firstName, lastName string) (grant *Grant, err error) {
	ctx, end := s.startAction(ctx, "register")
	defer func() { end(err) }()

	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, model.NewInputError("phone is required")
	}
	firstName = s.sanitizer.Sanitize(firstName)
	lastName = s.sanitizer.Sanitize(lastName)

	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		userID, err := tx.Users().UpsertByPhone(ctx, phone, firstName, lastName)
		if err != nil {
			return fmt.Errorf("failed to upsert user: %w", err)
		}
		if err := tx.Settings().EnsureExists(ctx, userID); err != nil {
			return err
		}
		grant, err = s.issueSession(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "user registered", slog.Int64("user_id", grant.UserID))
	return grant, nil
}

// Login は登録済みの電話番号に対してセッションを発行する。
// 未登録の場合はmodel.ErrUserNotFoundを返し、ユーザーは作成しない。
func (s *Service) Login(ctx context.Context, phone string) (grant *Grant, err error) {
	ctx, end := s.startAction(ctx, "login")
	defer func() { end(err) }()

	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, model.NewInputError("phone is required")
	}

	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		userID, err := tx.Users().FindIDByPhone(ctx, phone)
		if err != nil {
			return err
		}
		grant, err = s.issueSession(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "user logged in", slog.Int64("user_id", grant.UserID))
	return grant, nil
}

// OAuthCallback は認可コードを交換してプロバイダーのプロフィールを取得し、
// 外部IDをキーにユーザーをupsertしてセッションを発行する。
// プロバイダーとの通信はトランザクションの外で行い、失敗時は何も書き込まない。
// 認可コードは一度しか使えないため、失敗しても再試行しない。
func (s *Service) OAuthCallback(ctx context.Context, code string) (grant *Grant, err error) {
	ctx, end := s.startAction(ctx, "oauth_callback")
	defer func() { end(err) }()

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, model.NewInputError("code is required")
	}

	profile, err := s.fetchProviderProfile(ctx, code)
	if err != nil {
		return nil, err
	}

	phone := strings.TrimSpace(profile.Phone)
	if phone == "" {
		phone = model.PlaceholderPhone(profile.ExternalID)
	}
	firstName := s.sanitizer.Sanitize(profile.FirstName)
	lastName := s.sanitizer.Sanitize(profile.LastName)

	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		userID, err := tx.Users().UpsertByExternalID(ctx, profile.ExternalID, phone, firstName, lastName)
		if err != nil {
			return fmt.Errorf("failed to upsert oauth user: %w", err)
		}
		if err := tx.Settings().EnsureExists(ctx, userID); err != nil {
			return err
		}
		grant, err = s.issueSession(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "oauth login",
		slog.Int64("user_id", grant.UserID),
		slog.Bool("placeholder_phone", profile.Phone == ""),
	)
	return grant, nil
}

// fetchProviderProfile はトークン交換とプロフィール取得を順に行う。
func (s *Service) fetchProviderProfile(ctx context.Context, code string) (*OAuthProfile, error) {
	start := time.Now()
	accessToken, err := s.oauth.ExchangeCode(ctx, code)
	s.metrics.RecordUpstreamLatency("token", time.Since(start))
	if err != nil {
		s.metrics.RecordUpstreamFailure("token")
		slog.WarnContext(ctx, "oauth token exchange failed", slog.String("error", err.Error()))
		return nil, upstreamError("failed to exchange oauth code", err)
	}

	start = time.Now()
	profile, err := s.oauth.FetchProfile(ctx, accessToken)
	s.metrics.RecordUpstreamLatency("profile", time.Since(start))
	if err != nil {
		s.metrics.RecordUpstreamFailure("profile")
		slog.WarnContext(ctx, "oauth profile fetch failed", slog.String("error", err.Error()))
		return nil, upstreamError("failed to fetch oauth profile", err)
	}
	if profile == nil || strings.TrimSpace(profile.ExternalID) == "" {
		s.metrics.RecordUpstreamFailure("profile")
		return nil, fmt.Errorf("%w: empty external id", model.ErrUpstreamAuth)
	}

	return profile, nil
}

// upstreamError はプロバイダー由来のエラーが必ずErrUpstreamAuthとして分類されるようにする。
func upstreamError(msg string, err error) error {
	if errors.Is(err, model.ErrUpstreamAuth) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s: %w: %v", msg, model.ErrUpstreamAuth, err)
}

// ResolveToken はトークンを検証し、所有ユーザーのIDを返す。
// 他のコラボレーター（都市・設定）が現在のユーザーに対する書き込みを許可する前に呼び出す。
// 空トークンはmodel.ErrMissingToken、不明または期限切れはmodel.ErrInvalidTokenを返す。
// 結果はキャッシュせず、呼び出しごとに現在時刻で判定する。
func (s *Service) ResolveToken(ctx context.Context, token string) (int64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, model.ErrMissingToken
	}

	session, err := s.store.Sessions().FindValid(ctx, token, s.now())
	if err != nil {
		return 0, err
	}
	return session.UserID, nil
}

// Profile はトークンの所有ユーザーのプロフィールを返す。
func (s *Service) Profile(ctx context.Context, token string) (user *model.User, err error) {
	ctx, end := s.startAction(ctx, "introspect")
	defer func() { end(err) }()

	userID, err := s.ResolveToken(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err = s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return user, nil
}

// UpdateProfile はトークンの所有ユーザーの氏名と電話番号を上書きする。
// 電話番号が他ユーザーと衝突した場合はmodel.ErrConflictを返し、どの行も変更しない。
func (s *Service) UpdateProfile(ctx context.Context, token string, update ProfileUpdate) (err error) {
	ctx, end := s.startAction(ctx, "update_profile")
	defer func() { end(err) }()

	phone := strings.TrimSpace(update.Phone)
	firstName := s.sanitizer.Sanitize(update.FirstName)
	lastName := s.sanitizer.Sanitize(update.LastName)

	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		userID, err := s.resolveIn(ctx, tx, token)
		if err != nil {
			return err
		}
		// 認証エラーを入力エラーより優先する
		if phone == "" {
			return model.NewInputError("phone is required")
		}
		if err := tx.Users().UpdateProfile(ctx, userID, firstName, lastName, phone); err != nil {
			return err
		}
		slog.InfoContext(ctx, "profile updated", slog.Int64("user_id", userID))
		return nil
	})
	return err
}

func (s *Service) resolveIn(ctx context.Context, tx repository.Store, token string) (int64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, model.ErrMissingToken
	}
	session, err := tx.Sessions().FindValid(ctx, token, s.now())
	if err != nil {
		return 0, err
	}
	return session.UserID, nil
}

// issueSession はトークンを生成し、セッションをtx内で永続化する。
// トークンの重複はエントロピーにより無視できるものとして検査しない。
func (s *Service) issueSession(ctx context.Context, tx repository.Store, userID int64) (*Grant, error) {
	token, err := s.newToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.now()
	session := &model.Session{
		UserID:    userID,
		Token:     token,
		ExpiresAt: now.Add(s.config.SessionTTL),
		CreatedAt: now,
	}
	if err := tx.Sessions().Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return &Grant{Token: token, UserID: userID, ExpiresAt: session.ExpiresAt}, nil
}

// startAction はアクション単位のスパンを開始し、終了時にメトリクスを記録する関数を返す。
func (s *Service) startAction(ctx context.Context, action string) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "auth."+action, trace.WithAttributes(attribute.String("auth.action", action)))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.metrics.RecordAuthAction(action, metrics.ResultFailure)
		} else {
			s.metrics.RecordAuthAction(action, metrics.ResultSuccess)
		}
		span.End()
	}
}
