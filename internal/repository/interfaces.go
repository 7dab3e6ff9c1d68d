// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/market/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	// メールアドレスが重複する場合は一意制約違反のエラーを返す（IsUniqueViolationで判定可能）。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile は名前、メールアドレス、電話番号、状態メッセージ、プロフィール画像を更新する。
	UpdateProfile(ctx context.Context, user *model.User) error

	// UpdatePassword はパスワードハッシュを更新する。
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するsessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。UserIDが空の場合は匿名セッションとなる。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// LoadData はセッションに紐付くJSONドキュメントを取得する。
	// セッションが存在しないか期限切れの場合はnilを返す。
	LoadData(ctx context.Context, id string) (*model.SessionData, error)
	// SaveData はセッションのJSONドキュメントを上書きする。
	SaveData(ctx context.Context, id string, data *model.SessionData) error
}

// ItemRepository は商品データの永続化インターフェース。
type ItemRepository interface {
	// FindByID は指定IDの商品を画像付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Item, error)

	// ListByOwner は指定ユーザーが所有する商品一覧を作成日時順で返す。
	ListByOwner(ctx context.Context, ownerID string) ([]model.Item, error)

	// Search は条件に一致する商品の1ページ分と、条件に一致する総件数を返す。
	Search(ctx context.Context, q ItemQuery) ([]model.Item, int, error)

	// Create は商品を作成する。画像は含まない。
	Create(ctx context.Context, item *model.Item) error

	// Update は商品の属性を更新する。所有者と画像は変更しない。
	Update(ctx context.Context, item *model.Item) error

	// DeleteWithPictures は画像行と商品行を同一トランザクションで削除する。
	// 商品が存在しない場合はErrNotFoundを返す。
	DeleteWithPictures(ctx context.Context, id string) error

	// Transfer は商品と購入者を行ロックした上でcheckを実行し、
	// 成功した場合のみ購入者の予算を減算して所有者を移転する。
	Transfer(ctx context.Context, itemID, buyerID string, check TransferCheck) (*model.Item, error)
}

// PictureRepository は商品画像データの永続化インターフェース。
type PictureRepository interface {
	// Create は画像行を作成する。
	Create(ctx context.Context, picture *model.Picture) error
	// FindByID は指定IDの画像を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Picture, error)
	// DeleteByID は指定IDの画像行を削除する。
	DeleteByID(ctx context.Context, id string) error
	// ListByItem は商品の画像一覧を登録順で返す。
	ListByItem(ctx context.Context, itemID string) ([]model.Picture, error)
}

// ItemQuery は商品検索のSQL断片と位置パラメータを保持する。
// Whereの中のプレースホルダーは$1から始まり、Argsの順序と一致する。
type ItemQuery struct {
	Where   string
	Args    []any
	OrderBy string
	Limit   int
	Offset  int
}

// TransferCheck は購入処理中にロック済みの商品と購入者を検証する関数。
// エラーを返した場合はトランザクションをロールバックする。
type TransferCheck func(item *model.Item, buyer *model.User) error

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
