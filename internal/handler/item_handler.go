package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/market/internal/imaging"
	"github.com/hitoshi/market/internal/item"
	"github.com/hitoshi/market/internal/middleware"
	"github.com/hitoshi/market/internal/model"
)

// ItemServiceInterface は商品ハンドラーが必要とするサービスインターフェース。
type ItemServiceInterface interface {
	Get(ctx context.Context, itemID string) (*model.Item, error)
	Create(ctx context.Context, ownerID string, in item.Input, uploads []imaging.Upload) (*item.SaveResult, error)
	Update(ctx context.Context, actorID, itemID string, in item.Input, uploads []imaging.Upload) (*item.SaveResult, error)
	Remove(ctx context.Context, actorID, itemID string) (model.RemovalResult, error)
	RemovePicture(ctx context.Context, actorID, pictureID string) (model.RemovalResult, error)
	Buy(ctx context.Context, buyerID, itemID string) (*model.Item, error)
}

// ItemHandler は商品管理のHTTPハンドラー。
type ItemHandler struct {
	service ItemServiceInterface
	config  UploadConfig
	media   mediaURLs
}

// NewItemHandler はItemHandlerを生成する。
func NewItemHandler(service ItemServiceInterface, config UploadConfig) *ItemHandler {
	return &ItemHandler{
		service: service,
		config:  config,
		media:   mediaURLs{baseURL: config.MediaBaseURL},
	}
}

// saveItemResponse は出品・更新のレスポンス。
type saveItemResponse struct {
	Item     itemResponse `json:"item"`
	Warnings []string     `json:"warnings,omitempty"`
}

// GetItem は商品詳細を返す。
// GET /api/items/:id
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.media.item(it))
}

// CreateItem は商品を出品する。画像はpictureフィールドで複数添付できる。
// POST /api/items
func (h *ItemHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	in, uploads, done, ok := h.readForm(w, r, "picture")
	if !ok {
		return
	}
	defer done()

	result, err := h.service.Create(r.Context(), userID, in, uploads)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, saveItemResponse{
		Item:     h.media.item(result.Item),
		Warnings: warningMessages(result.Warnings...),
	})
}

// UpdateItem は商品を更新する。追加する画像はimagesフィールドで添付する。
// PUT /api/items/:id
func (h *ItemHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	in, uploads, done, ok := h.readForm(w, r, "images")
	if !ok {
		return
	}
	defer done()

	result, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), in, uploads)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, saveItemResponse{
		Item:     h.media.item(result.Item),
		Warnings: warningMessages(result.Warnings...),
	})
}

// DeleteItem は商品と画像を削除する。
// DELETE /api/items/:id
func (h *ItemHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
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
	writeRemoval(w, result)
}

// DeletePicture は商品画像を1枚削除する。
// DELETE /api/pictures/:id
func (h *ItemHandler) DeletePicture(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	result, err := h.service.RemovePicture(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeRemoval(w, result)
}

// BuyItem は商品を購入する。
// POST /api/items/:id/buy
func (h *ItemHandler) BuyItem(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	it, err := h.service.Buy(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.media.item(it))
}

// readForm は出品フォームと添付画像を読み込む。
// 失敗した場合はエラーレスポンスを書き込みokにfalseを返す。
func (h *ItemHandler) readForm(w http.ResponseWriter, r *http.Request, field string) (in item.Input, uploads []imaging.Upload, done func(), ok bool) {
	if !parseMultipart(w, r, h.config) {
		return item.Input{}, nil, nil, false
	}

	price, err := formPrice(r)
	if err != nil {
		handleServiceError(w, err)
		return item.Input{}, nil, nil, false
	}

	uploads, done, err = formUploads(r, field)
	if err != nil {
		handleServiceError(w, err)
		return item.Input{}, nil, nil, false
	}

	return item.Input{
		Name:        r.FormValue("name"),
		Price:       price,
		Category:    r.FormValue("category"),
		Description: r.FormValue("description"),
		Location:    r.FormValue("location"),
		Delivery:    r.FormValue("delivery"),
	}, uploads, done, true
}
