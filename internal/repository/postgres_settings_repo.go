package repository

import (
	"context"
	"fmt"
)

// PostgresSettingsRepo はPostgreSQLを使用したユーザー設定リポジトリ。
// 設定値の読み書きは設定コラボレーターが担い、ここでは行の存在のみを保証する。
type PostgresSettingsRepo struct {
	db DBTX
}

// NewPostgresSettingsRepo はPostgresSettingsRepoを生成する。
func NewPostgresSettingsRepo(db DBTX) *PostgresSettingsRepo {
	return &PostgresSettingsRepo{db: db}
}

// EnsureExists は設定行をデフォルト値で作成する。既に存在する場合は何もしない。
func (r *PostgresSettingsRepo) EnsureExists(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id) VALUES ($1)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure user settings: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SettingsRepository = (*PostgresSettingsRepo)(nil)
