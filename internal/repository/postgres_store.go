package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore はPostgreSQLを使用したStore実装。
// txがnilでない場合はトランザクションに束縛されたStoreとして振る舞う。
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) conn() DBTX {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Users はユーザーリポジトリを返す。
func (s *PostgresStore) Users() UserRepository {
	return NewPostgresUserRepo(s.conn())
}

// Sessions はセッションリポジトリを返す。
func (s *PostgresStore) Sessions() SessionRepository {
	return NewPostgresSessionRepo(s.conn())
}

// Settings は設定リポジトリを返す。
func (s *PostgresStore) Settings() SettingsRepository {
	return NewPostgresSettingsRepo(s.conn())
}

// WithinTx はfnを単一トランザクション内で実行する。
// 既にトランザクション内のStoreから呼ばれた場合は同じトランザクションでfnを実行する。
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&PostgresStore{db: s.db, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
