package handler

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/hitoshi/market/internal/imaging"
	"github.com/hitoshi/market/internal/model"
)

const (
	// maxFormMemory はmultipartフォームをメモリに保持する上限。超過分は一時ファイルに退避される。
	maxFormMemory = 8 << 20
	// maxFilesPerRequest は1リクエストで受け付ける画像の上限。
	maxFilesPerRequest = 10
)

// UploadConfig は画像アップロードを受け付けるハンドラーの設定。
type UploadConfig struct {
	MaxUploadBytes int64  // 画像1枚あたりの上限バイト数
	MediaBaseURL   string // 画像の公開URLの基点
}

// bodyLimit はリクエストボディ全体の上限を返す。
func (c UploadConfig) bodyLimit() int64 {
	perFile := c.MaxUploadBytes
	if perFile <= 0 {
		perFile = imaging.DefaultMaxUploadBytes
	}
	return perFile*maxFilesPerRequest + 1<<20
}

// parseMultipart はmultipartフォームを解析する。
// 失敗した場合はエラーレスポンスを書き込みfalseを返す。
func parseMultipart(w http.ResponseWriter, r *http.Request, config UploadConfig) bool {
	r.Body = http.MaxBytesReader(w, r.Body, config.bodyLimit())
	err := r.ParseMultipartForm(maxFormMemory)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewImageTooLargeError(config.MaxUploadBytes))
		return false
	}

	slog.Warn("failed to parse multipart form", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "The form could not be parsed.",
		Category: "validation",
		Action:   "Submit the form as multipart/form-data.",
		Kind:     model.KindValidation,
	})
	return false
}

// formUploads はフィールドに添付されたファイルを開く。
// ファイル名が空のパート（未選択のファイル入力）は無視する。
// 戻り値のcloseは呼び出し側で必ず呼ぶこと。
func formUploads(r *http.Request, field string) ([]imaging.Upload, func(), error) {
	var files []multipart.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	if r.MultipartForm == nil {
		return nil, closeAll, nil
	}
	headers := r.MultipartForm.File[field]
	if len(headers) > maxFilesPerRequest {
		return nil, closeAll, model.NewValidationError(field, "Too many files.")
	}

	uploads := make([]imaging.Upload, 0, len(headers))
	for _, fh := range headers {
		if fh.Filename == "" {
			continue
		}
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		files = append(files, f)
		uploads = append(uploads, imaging.Upload{Filename: fh.Filename, Content: f})
	}
	return uploads, closeAll, nil
}

// formPrice は価格フィールドを整数として解析する。
func formPrice(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.FormValue("price"))
	if raw == "" {
		return 0, model.NewValidationError("price", "Price is required.")
	}
	price, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, model.NewValidationError("price", "Price must be a whole number.")
	}
	return price, nil
}
