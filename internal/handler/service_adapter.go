package handler

import (
	"context"

	"github.com/hitoshi/market/internal/auth"
	"github.com/hitoshi/market/internal/catalog"
	"github.com/hitoshi/market/internal/imaging"
	"github.com/hitoshi/market/internal/item"
	"github.com/hitoshi/market/internal/model"
	"github.com/hitoshi/market/internal/user"
)

// UserServiceAdapter は user.Service と auth.Service を UserServiceInterface に適合させるアダプタ。
// パスワード変更は認証サービスが、それ以外のアカウント操作はユーザーサービスが担う。
type UserServiceAdapter struct {
	users *user.Service
	auth  *auth.Service
}

// NewUserServiceAdapter はUserServiceAdapterを生成する。
func NewUserServiceAdapter(users *user.Service, authService *auth.Service) *UserServiceAdapter {
	return &UserServiceAdapter{users: users, auth: authService}
}

// Profile はアカウント情報を返す。
func (a *UserServiceAdapter) Profile(ctx context.Context, userID string) (*model.User, error) {
	return a.users.Profile(ctx, userID)
}

// Owner は出品者ページの表示データを返す。
func (a *UserServiceAdapter) Owner(ctx context.Context, ownerID string) (*user.OwnerPage, error) {
	return a.users.Owner(ctx, ownerID)
}

// UpdateProfile はアカウント情報を更新する。
func (a *UserServiceAdapter) UpdateProfile(ctx context.Context, userID string, in user.ProfileInput, picture *imaging.Upload) (*user.ProfileResult, error) {
	return a.users.UpdateProfile(ctx, userID, in, picture)
}

// ChangePassword はパスワードを変更する。
func (a *UserServiceAdapter) ChangePassword(ctx context.Context, userID, current, password, confirm string) error {
	return a.auth.ChangePassword(ctx, userID, current, password, confirm)
}

// Remove はユーザーの退会処理を実行する。
func (a *UserServiceAdapter) Remove(ctx context.Context, actorID, userID string) (model.RemovalResult, error) {
	return a.users.Remove(ctx, actorID, userID)
}

// --- compile-time interface checks ---

var _ UserServiceInterface = (*UserServiceAdapter)(nil)
var _ AuthServiceInterface = (*auth.Service)(nil)
var _ ItemServiceInterface = (*item.Service)(nil)
var _ CatalogServiceInterface = (*catalog.Service)(nil)
