package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/market/internal/imaging"
	"github.com/hitoshi/market/internal/middleware"
	"github.com/hitoshi/market/internal/model"
	"github.com/hitoshi/market/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Profile(ctx context.Context, userID string) (*model.User, error)
	Owner(ctx context.Context, ownerID string) (*user.OwnerPage, error)
	UpdateProfile(ctx context.Context, userID string, in user.ProfileInput, picture *imaging.Upload) (*user.ProfileResult, error)
	ChangePassword(ctx context.Context, userID, current, password, confirm string) error
	// Remove はユーザーを退会させる。
	// 所有商品と画像、プロフィール画像、セッションをまとめて削除する。
	Remove(ctx context.Context, actorID, userID string) (model.RemovalResult, error)
}

// UserHandler はアカウント管理と出品者ページのHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	config  UploadConfig
	cookie  middleware.CookieConfig
	media   mediaURLs
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, config UploadConfig, cookie middleware.CookieConfig) *UserHandler {
	return &UserHandler{
		service: service,
		config:  config,
		cookie:  cookie,
		media:   mediaURLs{baseURL: config.MediaBaseURL},
	}
}

type ownerPageResponse struct {
	Owner ownerResponse  `json:"owner"`
	Items []itemResponse `json:"items"`
}

type updateAccountResponse struct {
	User     accountResponse `json:"user"`
	Warnings []string        `json:"warnings,omitempty"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Owner は出品者と所有商品の一覧を返す。
// GET /api/owners/:id
func (h *UserHandler) Owner(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.Owner(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ownerPageResponse{
		Owner: h.media.owner(page.Owner),
		Items: h.media.items(page.Items),
	})
}

// Account はログインユーザーのアカウント情報を返す。
// GET /api/account
func (h *UserHandler) Account(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	u, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.media.account(u))
}

// UpdateAccount はアカウント情報を更新する。プロフィール画像はpictureフィールドで添付できる。
// PUT /api/account
func (h *UserHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if !parseMultipart(w, r, h.config) {
		return
	}
	uploads, done, err := formUploads(r, "picture")
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer done()

	var picture *imaging.Upload
	if len(uploads) > 0 {
		picture = &uploads[0]
	}

	result, err := h.service.UpdateProfile(r.Context(), userID, user.ProfileInput{
		Name:    r.FormValue("name"),
		Email:   r.FormValue("email_address"),
		Mobile1: r.FormValue("mobile_number1"),
		Mobile2: r.FormValue("mobile_number2"),
		State:   r.FormValue("state"),
	}, picture)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updateAccountResponse{
		User:     h.media.account(result.User),
		Warnings: warningMessages(result.Warnings...),
	})
}

// ChangePassword はログインユーザーのパスワードを変更する。
// PUT /api/account/password
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), userID, req.CurrentPassword, req.Password, req.ConfirmPassword); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Withdraw はユーザーの退会処理を実行する。本人のみ実行できる。
// DELETE /api/users/:id
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	result, err := h.service.Remove(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.ClearSessionCookie(w, h.cookie)
	writeRemoval(w, result)
}
