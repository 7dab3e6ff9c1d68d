package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/market/internal/middleware"
	"github.com/hitoshi/market/internal/model"
	"github.com/hitoshi/market/internal/storage"
)

// --- レスポンス型 ---

// pictureResponse は商品画像のレスポンス。
type pictureResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// itemResponse は商品のレスポンス。
type itemResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Price       int64             `json:"price"`
	Category    string            `json:"category"`
	Description string            `json:"description"`
	Location    string            `json:"location"`
	Delivery    string            `json:"delivery"`
	OwnerID     string            `json:"owner_id"`
	Pictures    []pictureResponse `json:"pictures"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ownerResponse は出品者ページに表示する公開プロフィール。
type ownerResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email_address"`
	Mobile1  string `json:"mobile_number1"`
	Mobile2  string `json:"mobile_number2,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	State    string `json:"state"`
}

// accountResponse は本人向けのアカウント情報。
type accountResponse struct {
	ownerResponse
	Budget     int64     `json:"budget"`
	IsVerified bool      `json:"is_verified"`
	CreatedAt  time.Time `json:"created_at"`
}

// mediaURLs はストレージキーを公開URLに変換する。
type mediaURLs struct {
	baseURL string
}

func (m mediaURLs) url(key storage.Key) string {
	p, err := key.Path()
	if err != nil {
		return ""
	}
	return m.baseURL + "/" + p
}

func (m mediaURLs) item(it *model.Item) itemResponse {
	pictures := make([]pictureResponse, len(it.Pictures))
	for i, p := range it.Pictures {
		pictures[i] = pictureResponse{
			ID:  p.ID,
			URL: m.url(storage.Key{Kind: storage.KindItem, TargetID: it.ID, Filename: p.Filename}),
		}
	}
	return itemResponse{
		ID:          it.ID,
		Name:        it.Name,
		Price:       it.Price,
		Category:    string(it.Category),
		Description: it.Description,
		Location:    it.Location,
		Delivery:    string(it.Delivery),
		OwnerID:     it.OwnerID,
		Pictures:    pictures,
		CreatedAt:   it.CreatedAt,
		UpdatedAt:   it.UpdatedAt,
	}
}

func (m mediaURLs) items(items []model.Item) []itemResponse {
	out := make([]itemResponse, len(items))
	for i := range items {
		out[i] = m.item(&items[i])
	}
	return out
}

func (m mediaURLs) owner(u *model.User) ownerResponse {
	resp := ownerResponse{
		ID:      u.ID,
		Name:    u.Name,
		Email:   u.Email,
		Mobile1: u.Mobile1,
		Mobile2: u.Mobile2,
		State:   u.State,
	}
	if u.ImageFile != "" {
		resp.ImageURL = m.url(storage.Key{Kind: storage.KindProfile, Filename: u.ImageFile})
	}
	return resp
}

func (m mediaURLs) account(u *model.User) accountResponse {
	return accountResponse{
		ownerResponse: m.owner(u),
		Budget:        u.Budget,
		IsVerified:    u.IsVerified,
		CreatedAt:     u.CreatedAt,
	}
}

// removalResponse は削除操作のレスポンス。後始末に失敗した場合のみ返す。
type removalResponse struct {
	Removed  bool     `json:"removed"`
	Warnings []string `json:"warnings"`
}

// writeRemoval は削除結果を書き込む。後始末が全て成功した場合は204を返す。
func writeRemoval(w http.ResponseWriter, result model.RemovalResult) {
	if result.OK() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, removalResponse{
		Removed:  true,
		Warnings: warningMessages(result.Cleanup),
	})
}

// warningMessages は警告エラーを利用者向けのメッセージに変換する。
// errors.Joinで結合されたエラーは個別に展開する。
func warningMessages(errs ...error) []string {
	var messages []string
	for _, err := range errs {
		if err == nil {
			continue
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			messages = append(messages, warningMessages(joined.Unwrap()...)...)
			continue
		}
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			messages = append(messages, apiErr.Message)
			continue
		}
		messages = append(messages, "Some files could not be cleaned up.")
	}
	return messages
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// APIErrorは分類に応じたステータスで返し、それ以外は詳細を隠して500を返す。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, middleware.StatusForError(apiErr), apiErr)
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// decodeJSON はリクエストボディをJSONとして読み込む。失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "The request body could not be parsed.",
			Category: "validation",
			Action:   "Send a valid JSON body.",
			Kind:     model.KindValidation,
		})
		return false
	}
	return true
}
