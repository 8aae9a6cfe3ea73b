package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/weatherid/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db DBTX
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db DBTX) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// UpsertByPhone はphoneの一意制約でINSERT ... ON CONFLICTを行い、ユーザーIDを返す。
func (r *PostgresUserRepo) UpsertByPhone(ctx context.Context, phone, firstName, lastName string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (phone, first_name, last_name)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (phone) DO UPDATE
		 SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name, updated_at = now()
		 RETURNING id`,
		phone, firstName, lastName,
	).Scan(&id)
	if err != nil {
		return 0, wrapWriteError("failed to upsert user by phone", err)
	}
	return id, nil
}

// UpsertByExternalID はexternal_oauth_idの一意制約でINSERT ... ON CONFLICTを行い、ユーザーIDを返す。
// 競合時は氏名のみ更新し、phoneとexternal_oauth_idは変更しない。
func (r *PostgresUserRepo) UpsertByExternalID(ctx context.Context, externalID, phone, firstName, lastName string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (phone, first_name, last_name, external_oauth_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (external_oauth_id) DO UPDATE
		 SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name, updated_at = now()
		 RETURNING id`,
		phone, firstName, lastName, externalID,
	).Scan(&id)
	if err != nil {
		return 0, wrapWriteError("failed to upsert user by external id", err)
	}
	return id, nil
}

// FindIDByPhone は電話番号からユーザーIDを取得する。
func (r *PostgresUserRepo) FindIDByPhone(ctx context.Context, phone string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE phone = $1`,
		phone,
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, model.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find user by phone: %w", err)
	}
	return id, nil
}

// FindByID は指定IDのユーザーを取得する。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user := &model.User{}
	var externalID sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, phone, first_name, last_name, external_oauth_id, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Phone, &user.FirstName, &user.LastName, &externalID, &user.CreatedAt, &user.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	if externalID.Valid {
		user.ExternalOAuthID = &externalID.String
	}
	return user, nil
}

// UpdateProfile は氏名と電話番号、updated_atを上書きする。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id int64, firstName, lastName, phone string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET first_name = $1, last_name = $2, phone = $3, updated_at = now() WHERE id = $4`,
		firstName, lastName, phone, id,
	)
	if err != nil {
		return wrapWriteError("failed to update profile", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
