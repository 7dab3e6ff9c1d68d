// Package pending はメール確認待ちの仮登録データをセッション単位で保持する。
//
// 1セッションにつき1件のみ保持し、Putは既存の仮登録を上書きする。
// 保持期間はセッションの有効期限に従う。
package pending

import (
	"context"
	"errors"

	"github.com/hitoshi/market/internal/model"
)

// ErrNoSession は仮登録を保存する対象のセッションが存在しない場合に返す。
var ErrNoSession = errors.New("session not found")

// Store は仮登録データの保存先。
type Store interface {
	// Put は仮登録データを保存する。既存のデータと送信済みフラグは上書きされる。
	Put(ctx context.Context, sessionID string, reg *model.PendingRegistration) error
	// Get は仮登録データを返す。存在しない場合はnilを返す。
	Get(ctx context.Context, sessionID string) (*model.PendingRegistration, error)
	// Clear は仮登録データと送信済みフラグを削除する。
	Clear(ctx context.Context, sessionID string) error
	// MarkEmailSent は確認メールの送信済みフラグを立てる。
	MarkEmailSent(ctx context.Context, sessionID string) error
	// EmailSent は確認メールの送信済みフラグを返す。
	EmailSent(ctx context.Context, sessionID string) (bool, error)
}
