// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/weatherid/internal/model"
)

// UserRepository はユーザーディレクトリの永続化インターフェース。
// 登録の競合は必ずストレージ層の原子的なupsertで解決し、読み取り後の挿入は行わない。
type UserRepository interface {
	// UpsertByPhone はユーザーを作成する。phoneが既存の場合は氏名のみ更新する。
	// 既存・新規いずれの場合もユーザーIDを返す。
	UpsertByPhone(ctx context.Context, phone, firstName, lastName string) (int64, error)

	// UpsertByExternalID は外部OAuth IDをキーとしてユーザーを作成する。
	// 外部IDが既存の場合は氏名のみ更新し、phoneは挿入時にのみ使用する。
	// phoneが他ユーザーと衝突した場合はmodel.ErrConflictを返す。
	UpsertByExternalID(ctx context.Context, externalID, phone, firstName, lastName string) (int64, error)

	// FindIDByPhone は電話番号からユーザーIDを取得する。
	// 見つからない場合はmodel.ErrUserNotFoundを返す。
	FindIDByPhone(ctx context.Context, phone string) (int64, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はmodel.ErrUserNotFoundを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// UpdateProfile は氏名と電話番号を無条件に上書きする。
	// 電話番号の衝突はmodel.ErrConflict、対象が存在しない場合はmodel.ErrUserNotFoundを返す。
	UpdateProfile(ctx context.Context, id int64, firstName, lastName, phone string) error
}

// SessionRepository はセッションストアの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindValid はトークンに対応し、now時点で有効なセッションを取得する。
	// 存在しない、またはexpires_at <= nowの場合はmodel.ErrInvalidTokenを返す。
	FindValid(ctx context.Context, token string, now time.Time) (*model.Session, error)

	// DeleteExpired はbeforeより前に期限切れとなったセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// SettingsRepository はユーザー設定行の存在保証に必要な永続化インターフェース。
type SettingsRepository interface {
	// EnsureExists は設定行が存在しない場合にデフォルト値で作成する。冪等。
	EnsureExists(ctx context.Context, userID int64) error
}

// Store は各リポジトリへのアクセスとトランザクション境界を提供する。
type Store interface {
	Users() UserRepository
	Sessions() SessionRepository
	Settings() SettingsRepository

	// WithinTx はfnを単一トランザクション内で実行する。
	// fnがnilを返した場合のみコミットし、それ以外はロールバックする。
	// fnに渡されるStoreのリポジトリは全て同じトランザクションを共有する。
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// DBTX は*sql.DBと*sql.Txの共通部分。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
