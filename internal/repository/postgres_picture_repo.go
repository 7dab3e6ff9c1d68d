package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/market/internal/model"
)

// PostgresPictureRepo はPostgreSQLを使用した商品画像リポジトリ。
type PostgresPictureRepo struct {
	db *sql.DB
}

// NewPostgresPictureRepo はPostgresPictureRepoを生成する。
func NewPostgresPictureRepo(db *sql.DB) *PostgresPictureRepo {
	return &PostgresPictureRepo{db: db}
}

// Create は画像行を作成する。ファイル実体は保存済みであること。
func (r *PostgresPictureRepo) Create(ctx context.Context, picture *model.Picture) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pictures (id, item_id, filename, created_at) VALUES ($1, $2, $3, $4)`,
		picture.ID, picture.ItemID, picture.Filename, picture.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert picture: %w", err)
	}
	return nil
}

// FindByID は指定IDの画像を取得する。見つからない場合はnilを返す。
func (r *PostgresPictureRepo) FindByID(ctx context.Context, id string) (*model.Picture, error) {
	p := &model.Picture{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, filename, item_id, created_at FROM pictures WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Filename, &p.ItemID, &p.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find picture: %w", err)
	}
	return p, nil
}

// DeleteByID は指定IDの画像行を削除する。
func (r *PostgresPictureRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM pictures WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete picture: %w", err)
	}
	return requireAffected(result, "picture", id)
}

// ListByItem は商品の画像一覧を登録順で返す。
func (r *PostgresPictureRepo) ListByItem(ctx context.Context, itemID string) ([]model.Picture, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, filename, item_id, created_at
		 FROM pictures WHERE item_id = $1
		 ORDER BY created_at ASC, id ASC`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pictures: %w", err)
	}
	defer rows.Close()

	pictures := []model.Picture{}
	for rows.Next() {
		var p model.Picture
		if err := rows.Scan(&p.ID, &p.Filename, &p.ItemID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan picture: %w", err)
		}
		pictures = append(pictures, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pictures: %w", err)
	}
	return pictures, nil
}

// compile-time interface check
var _ PictureRepository = (*PostgresPictureRepo)(nil)
