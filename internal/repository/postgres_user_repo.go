package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/market/internal/model"
)

const userColumns = `id, name, email, password_hash, mobile1, mobile2, image_file,
	state, budget, is_verified, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var mobile2, imageFile sql.NullString
	err := row.Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash,
		&user.Mobile1, &mobile2, &imageFile,
		&user.State, &user.Budget, &user.IsVerified, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Mobile2 = nullStringValue(mobile2)
	user.ImageFile = nullStringValue(imageFile)
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
// IDとタイムスタンプは呼び出し元で設定する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, mobile1, mobile2, image_file,
		                    state, budget, is_verified, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		user.ID, user.Name, user.Email, user.PasswordHash,
		user.Mobile1, nullString(user.Mobile2), nullString(user.ImageFile),
		user.State, user.Budget, user.IsVerified, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateProfile は名前、メールアドレス、電話番号、状態メッセージ、プロフィール画像を更新する。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET name = $2, email = $3, mobile1 = $4, mobile2 = $5, image_file = $6,
		     state = $7, updated_at = $8
		 WHERE id = $1`,
		user.ID, user.Name, user.Email, user.Mobile1, nullString(user.Mobile2),
		nullString(user.ImageFile), user.State, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	return requireAffected(result, "user", user.ID)
}

// UpdatePassword はパスワードハッシュを更新する。
func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireAffected(result, "user", id)
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するsessionsはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireAffected(result, "user", id)
}

// requireAffected は1行も更新されなかった場合にErrNotFoundを返す。
func requireAffected(result sql.Result, entity, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
