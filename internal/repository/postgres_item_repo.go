package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/market/internal/model"
)

const itemColumns = `id, name, price, category, description, location, delivery,
	owner_id, created_at, updated_at`

// defaultItemOrder は並び順が指定されない場合の順序。
const defaultItemOrder = "created_at ASC, id ASC"

// PostgresItemRepo はPostgreSQLを使用した商品リポジトリ。
type PostgresItemRepo struct {
	db *sql.DB
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db *sql.DB) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

func scanItem(row rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var category, delivery string
	err := row.Scan(
		&item.ID, &item.Name, &item.Price, &category, &item.Description,
		&item.Location, &delivery, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Category = model.Category(category)
	item.Delivery = model.Delivery(delivery)
	return item, nil
}

// queryer は*sql.DBと*sql.Txの共通インターフェース。
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// FindByID は指定IDの商品を画像付きで取得する。見つからない場合はnilを返す。
func (r *PostgresItemRepo) FindByID(ctx context.Context, id string) (*model.Item, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find item: %w", err)
	}

	items := []model.Item{*item}
	if err := loadPictures(ctx, r.db, items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

// ListByOwner は指定ユーザーが所有する商品一覧を作成日時順で返す。
func (r *PostgresItemRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.Item, error) {
	items, err := r.queryItems(ctx,
		`SELECT `+itemColumns+` FROM items WHERE owner_id = $1 ORDER BY `+defaultItemOrder,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list owned items: %w", err)
	}
	return items, nil
}

// Search は条件に一致する商品の1ページ分と総件数を返す。
// Offsetが負または総件数以上の場合は一覧クエリを発行せず空のスライスを返す。
func (r *PostgresItemRepo) Search(ctx context.Context, q ItemQuery) ([]model.Item, int, error) {
	where := q.Where
	if where == "" {
		where = "TRUE"
	}
	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = defaultItemOrder
	}

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM items WHERE `+where,
		q.Args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count items: %w", err)
	}

	if total == 0 || q.Offset < 0 || q.Offset >= total {
		return []model.Item{}, total, nil
	}

	args := append(append([]any{}, q.Args...), q.Limit, q.Offset)
	limitIdx := len(q.Args) + 1
	query := fmt.Sprintf(
		`SELECT %s FROM items WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		itemColumns, where, orderBy, limitIdx, limitIdx+1,
	)

	items, err := r.queryItems(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search items: %w", err)
	}
	return items, total, nil
}

// queryItems は商品一覧を取得し、画像をまとめて読み込む。
func (r *PostgresItemRepo) queryItems(ctx context.Context, query string, args ...any) ([]model.Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []model.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := loadPictures(ctx, r.db, items); err != nil {
		return nil, err
	}
	return items, nil
}

// loadPictures は商品一覧の画像を1クエリで取得して各商品に割り当てる。
func loadPictures(ctx context.Context, q queryer, items []model.Item) error {
	if len(items) == 0 {
		return nil
	}

	ids := make([]string, len(items))
	index := make(map[string]int, len(items))
	for i := range items {
		ids[i] = items[i].ID
		index[items[i].ID] = i
		items[i].Pictures = []model.Picture{}
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, filename, item_id, created_at
		 FROM pictures
		 WHERE item_id = ANY($1)
		 ORDER BY created_at ASC, id ASC`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to load item pictures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Picture
		if err := rows.Scan(&p.ID, &p.Filename, &p.ItemID, &p.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan item picture: %w", err)
		}
		if i, ok := index[p.ItemID]; ok {
			items[i].Pictures = append(items[i].Pictures, p)
		}
	}
	return rows.Err()
}

// Create は商品を作成する。画像は含まない。
func (r *PostgresItemRepo) Create(ctx context.Context, item *model.Item) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO items (id, name, price, category, description, location, delivery,
		                    owner_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		item.ID, item.Name, item.Price, string(item.Category), item.Description,
		item.Location, string(item.Delivery), item.OwnerID, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

// Update は商品の属性を更新する。所有者と画像は変更しない。
func (r *PostgresItemRepo) Update(ctx context.Context, item *model.Item) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE items
		 SET name = $2, price = $3, category = $4, description = $5,
		     location = $6, delivery = $7, updated_at = $8
		 WHERE id = $1`,
		item.ID, item.Name, item.Price, string(item.Category), item.Description,
		item.Location, string(item.Delivery), item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	return requireAffected(result, "item", item.ID)
}

// DeleteWithPictures は画像行と商品行を同一トランザクションで削除する。
func (r *PostgresItemRepo) DeleteWithPictures(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pictures WHERE item_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete item pictures: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if err := requireAffected(result, "item", id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Transfer は商品と購入者をこの順にFOR UPDATEでロックし、checkが成功した場合のみ
// 購入者の予算を減算して所有者を移転する。
// 商品または購入者が存在しない場合はErrNotFoundを返す。
func (r *PostgresItemRepo) Transfer(ctx context.Context, itemID, buyerID string, check TransferCheck) (*model.Item, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := scanItem(tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1 FOR UPDATE`,
		itemID,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock item: %w", err)
	}

	buyer, err := scanUser(tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`,
		buyerID,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", buyerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock buyer: %w", err)
	}

	if err := check(item, buyer); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET budget = budget - $2, updated_at = now() WHERE id = $1`,
		buyerID, item.Price,
	); err != nil {
		return nil, fmt.Errorf("failed to debit budget: %w", err)
	}

	if err := tx.QueryRowContext(ctx,
		`UPDATE items SET owner_id = $2, updated_at = now() WHERE id = $1 RETURNING updated_at`,
		itemID, buyerID,
	).Scan(&item.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to transfer ownership: %w", err)
	}
	item.OwnerID = buyerID

	items := []model.Item{*item}
	if err := loadPictures(ctx, tx, items); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &items[0], nil
}

// compile-time interface check
var _ ItemRepository = (*PostgresItemRepo)(nil)
