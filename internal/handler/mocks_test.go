package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/market/internal/auth"
	"github.com/hitoshi/market/internal/catalog"
	"github.com/hitoshi/market/internal/imaging"
	"github.com/hitoshi/market/internal/item"
	"github.com/hitoshi/market/internal/middleware"
	"github.com/hitoshi/market/internal/model"
	"github.com/hitoshi/market/internal/user"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	registerFn             func(ctx context.Context, sessionID string, in auth.RegisterInput) (auth.MailResult, error)
	resendFn               func(ctx context.Context, sessionID string) (auth.MailResult, error)
	verificationSentFn     func(ctx context.Context, sessionID string) (bool, error)
	verifyEmailFn          func(ctx context.Context, sessionID, tok string) (*model.User, error)
	loginFn                func(ctx context.Context, sessionID, email, password string) (*model.Session, *model.User, error)
	logoutFn               func(ctx context.Context, sessionID string) error
	requestPasswordResetFn func(ctx context.Context, email string) error
	resetPasswordFn        func(ctx context.Context, tok, password, confirm string) error
}

func (m *mockAuthService) Register(ctx context.Context, sessionID string, in auth.RegisterInput) (auth.MailResult, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, sessionID, in)
	}
	return auth.MailResult{Sent: true}, nil
}

func (m *mockAuthService) ResendVerification(ctx context.Context, sessionID string) (auth.MailResult, error) {
	if m.resendFn != nil {
		return m.resendFn(ctx, sessionID)
	}
	return auth.MailResult{Sent: true}, nil
}

func (m *mockAuthService) VerificationSent(ctx context.Context, sessionID string) (bool, error) {
	if m.verificationSentFn != nil {
		return m.verificationSentFn(ctx, sessionID)
	}
	return false, nil
}

func (m *mockAuthService) VerifyEmail(ctx context.Context, sessionID, tok string) (*model.User, error) {
	if m.verifyEmailFn != nil {
		return m.verifyEmailFn(ctx, sessionID, tok)
	}
	return &model.User{ID: "user-1"}, nil
}

func (m *mockAuthService) Login(ctx context.Context, sessionID, email, password string) (*model.Session, *model.User, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, sessionID, email, password)
	}
	return nil, nil, model.NewInvalidCredentialsError()
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if m.requestPasswordResetFn != nil {
		return m.requestPasswordResetFn(ctx, email)
	}
	return nil
}

func (m *mockAuthService) ResetPassword(ctx context.Context, tok, password, confirm string) error {
	if m.resetPasswordFn != nil {
		return m.resetPasswordFn(ctx, tok, password, confirm)
	}
	return nil
}

// mockItemService はItemServiceInterfaceのモック実装。
type mockItemService struct {
	getFn           func(ctx context.Context, itemID string) (*model.Item, error)
	createFn        func(ctx context.Context, ownerID string, in item.Input, uploads []imaging.Upload) (*item.SaveResult, error)
	updateFn        func(ctx context.Context, actorID, itemID string, in item.Input, uploads []imaging.Upload) (*item.SaveResult, error)
	removeFn        func(ctx context.Context, actorID, itemID string) (model.RemovalResult, error)
	removePictureFn func(ctx context.Context, actorID, pictureID string) (model.RemovalResult, error)
	buyFn           func(ctx context.Context, buyerID, itemID string) (*model.Item, error)
}

func (m *mockItemService) Get(ctx context.Context, itemID string) (*model.Item, error) {
	if m.getFn != nil {
		return m.getFn(ctx, itemID)
	}
	return nil, model.NewItemNotFoundError(itemID)
}

func (m *mockItemService) Create(ctx context.Context, ownerID string, in item.Input, uploads []imaging.Upload) (*item.SaveResult, error) {
	if m.createFn != nil {
		return m.createFn(ctx, ownerID, in, uploads)
	}
	return &item.SaveResult{Item: &model.Item{ID: "item-new", OwnerID: ownerID}}, nil
}

func (m *mockItemService) Update(ctx context.Context, actorID, itemID string, in item.Input, uploads []imaging.Upload) (*item.SaveResult, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, actorID, itemID, in, uploads)
	}
	return &item.SaveResult{Item: &model.Item{ID: itemID, OwnerID: actorID}}, nil
}

func (m *mockItemService) Remove(ctx context.Context, actorID, itemID string) (model.RemovalResult, error) {
	if m.removeFn != nil {
		return m.removeFn(ctx, actorID, itemID)
	}
	return model.RemovalResult{}, nil
}

func (m *mockItemService) RemovePicture(ctx context.Context, actorID, pictureID string) (model.RemovalResult, error) {
	if m.removePictureFn != nil {
		return m.removePictureFn(ctx, actorID, pictureID)
	}
	return model.RemovalResult{}, nil
}

func (m *mockItemService) Buy(ctx context.Context, buyerID, itemID string) (*model.Item, error) {
	if m.buyFn != nil {
		return m.buyFn(ctx, buyerID, itemID)
	}
	return &model.Item{ID: itemID, OwnerID: buyerID}, nil
}

// mockUserService はUserServiceInterfaceのモック実装。
type mockUserService struct {
	profileFn        func(ctx context.Context, userID string) (*model.User, error)
	ownerFn          func(ctx context.Context, ownerID string) (*user.OwnerPage, error)
	updateProfileFn  func(ctx context.Context, userID string, in user.ProfileInput, picture *imaging.Upload) (*user.ProfileResult, error)
	changePasswordFn func(ctx context.Context, userID, current, password, confirm string) error
	removeFn         func(ctx context.Context, actorID, userID string) (model.RemovalResult, error)
}

func (m *mockUserService) Profile(ctx context.Context, userID string) (*model.User, error) {
	if m.profileFn != nil {
		return m.profileFn(ctx, userID)
	}
	return &model.User{ID: userID}, nil
}

func (m *mockUserService) Owner(ctx context.Context, ownerID string) (*user.OwnerPage, error) {
	if m.ownerFn != nil {
		return m.ownerFn(ctx, ownerID)
	}
	return nil, model.NewUserNotFoundError()
}

func (m *mockUserService) UpdateProfile(ctx context.Context, userID string, in user.ProfileInput, picture *imaging.Upload) (*user.ProfileResult, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, userID, in, picture)
	}
	return &user.ProfileResult{User: &model.User{ID: userID}}, nil
}

func (m *mockUserService) ChangePassword(ctx context.Context, userID, current, password, confirm string) error {
	if m.changePasswordFn != nil {
		return m.changePasswordFn(ctx, userID, current, password, confirm)
	}
	return nil
}

func (m *mockUserService) Remove(ctx context.Context, actorID, userID string) (model.RemovalResult, error) {
	if m.removeFn != nil {
		return m.removeFn(ctx, actorID, userID)
	}
	return model.RemovalResult{}, nil
}

// mockCatalogService はCatalogServiceInterfaceのモック実装。
type mockCatalogService struct {
	searchFn func(ctx context.Context, q catalog.Query) (*catalog.Result, error)
}

func (m *mockCatalogService) Search(ctx context.Context, q catalog.Query) (*catalog.Result, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, q)
	}
	return &catalog.Result{Items: []model.Item{}, Page: 1, PageSize: 10, NoFilter: true}, nil
}

// --- ヘルパー ---

// withUserID はリクエストコンテキストにユーザーIDを注入する。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withSessionID はリクエストコンテキストにセッションIDを注入する。
func withSessionID(r *http.Request, sessionID string) *http.Request {
	return r.WithContext(middleware.ContextWithSessionID(r.Context(), sessionID))
}

// withChiURLParam はchiのURLパラメータをリクエストに設定する。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// multipartFile はmultipartリクエストに添付するファイル。
type multipartFile struct {
	field    string
	filename string
	content  []byte
}

// newMultipartRequest はフォーム値とファイルを含むmultipartリクエストを生成する。
func newMultipartRequest(t *testing.T, method, target string, fields map[string]string, files ...multipartFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.filename)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := fw.Write(f.content); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// readAll はアップロードの内容を読み込む。
func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("failed to read upload: %v", err)
	}
	return string(b)
}

var testUploadConfig = UploadConfig{MaxUploadBytes: 1 << 20, MediaBaseURL: "/static"}
