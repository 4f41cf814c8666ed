package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/authgate/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATEコード。
const uniqueViolation = "23505"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// Create はユーザーを作成する。
// メールアドレスのUNIQUE制約違反はErrDuplicateEmailにマップする。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, oauth_provider, oauth_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.Name, user.PasswordHash,
		user.OAuthProvider, user.OAuthID, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx,
		`SELECT id, email, name, password_hash, oauth_provider, oauth_id, created_at, updated_at
		 FROM users WHERE email = $1`,
		email,
	)
}

// FindByOAuth はOAuthプロバイダーとプロバイダー側ユーザーIDでユーザーを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByOAuth(ctx context.Context, provider, oauthID string) (*model.User, error) {
	return r.findOne(ctx,
		`SELECT id, email, name, password_hash, oauth_provider, oauth_id, created_at, updated_at
		 FROM users WHERE oauth_provider = $1 AND oauth_id = $2`,
		provider, oauthID,
	)
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx,
		`SELECT id, email, name, password_hash, oauth_provider, oauth_id, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	)
}

// findOne は1件取得クエリを実行する。sql.ErrNoRowsはnilユーザーにマップする。
func (r *PostgresUserRepo) findOne(ctx context.Context, query string, args ...interface{}) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash,
		&user.OAuthProvider, &user.OAuthID, &user.CreatedAt, &user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
