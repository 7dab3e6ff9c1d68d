// Package imaging はアップロード画像の検証・正規化・縮小・保存を行う。
package imaging

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/market/internal/model"
	"github.com/hitoshi/market/internal/storage"
)

// Kind は画像の用途。保存先と縮小サイズが決まる。
type Kind = storage.Kind

const (
	KindItem    = storage.KindItem
	KindProfile = storage.KindProfile
)

// 用途ごとの最大辺の長さ（ピクセル）。
const (
	ItemMaxDimension    = 800
	ProfileMaxDimension = 500
)

// DefaultMaxUploadBytes はアップロードサイズ上限の既定値。
const DefaultMaxUploadBytes int64 = 8 * 1024 * 1024

// maxSourcePixels はデコードを許可する元画像の最大画素数。
const maxSourcePixels = 50_000_000

// allowedExtensions は受け付ける拡張子。小文字で比較する。
var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Upload はアップロードされたファイルを表す。
type Upload struct {
	Filename string
	Content  io.Reader
}

// Recorder は画像取り込み結果のメトリクス記録先。
type Recorder interface {
	RecordImageIngested(kind string)
	RecordImageIngestFailure(kind string, reason string)
}

// Pipeline は画像の取り込みを行う。
type Pipeline struct {
	storage  storage.Storage
	maxBytes int64
	metrics  Recorder
	newName  func() string
}

// NewPipeline は新しいPipelineを生成する。metricsはnilでもよい。
func NewPipeline(store storage.Storage, maxBytes int64, metrics Recorder) *Pipeline {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Pipeline{
		storage:  store,
		maxBytes: maxBytes,
		metrics:  metrics,
		newName:  randomName,
	}
}

// MaxDimension は用途ごとの最大辺の長さを返す。
func MaxDimension(kind Kind) int {
	if kind == KindProfile {
		return ProfileMaxDimension
	}
	return ItemMaxDimension
}

// AllowedExtension はファイル名の拡張子が受け付け対象かどうかを返す。
func AllowedExtension(filename string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Ingest はアップロード画像を検証・変換して保存し、保存したファイル名を返す。
// 拡張子の検証はファイルの読み込みより前に行う。
// ストレージへの書き込みはエンコードが成功した後に1回だけ行う。
func (p *Pipeline) Ingest(ctx context.Context, up Upload, kind Kind, targetID string) (string, error) {
	// 1. 拡張子の検証（I/Oなし）
	if !AllowedExtension(up.Filename) {
		p.recordFailure(kind, "unsupported_type")
		return "", model.NewUnsupportedImageError(filepath.Base(up.Filename))
	}

	// 2. 上限+1バイトまで読み込む
	raw, err := io.ReadAll(io.LimitReader(up.Content, p.maxBytes+1))
	if err != nil {
		slog.Warn("failed to read upload",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		p.recordFailure(kind, "read_error")
		return "", model.NewMalformedImageError()
	}
	if int64(len(raw)) > p.maxBytes {
		p.recordFailure(kind, "too_large")
		return "", model.NewImageTooLargeError(p.maxBytes)
	}

	// 3. 正規化（デコード・縮小・回転・JPEGエンコード）
	out, err := Normalize(raw, MaxDimension(kind))
	if err != nil {
		p.recordFailure(kind, "malformed")
		return "", err
	}

	// 4. 保存
	filename := p.newName() + strings.ToLower(filepath.Ext(up.Filename))
	key := storage.Key{Kind: kind, TargetID: targetID, Filename: filename}
	if err := p.storage.Write(ctx, key, out); err != nil {
		slog.Error("failed to store image",
			slog.String("kind", string(kind)),
			slog.String("target_id", targetID),
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
		p.recordFailure(kind, "storage")
		return "", model.NewImageStorageError()
	}

	if p.metrics != nil {
		p.metrics.RecordImageIngested(string(kind))
	}
	return filename, nil
}

// Normalize は画像をデコードし、maxDim四方に縮小してEXIFの向きを補正し、
// 品質85のJPEGとして返す。
func Normalize(raw []byte, maxDim int) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, model.NewMalformedImageError()
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxSourcePixels {
		return nil, model.NewMalformedImageError()
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, model.NewMalformedImageError()
	}

	// 縮小の枠は正方形なので、回転より先に縮小しても結果の寸法は変わらない
	img = downscale(img, maxDim)
	img = applyOrientation(img, orientation(raw))

	out, err := encodeJPEG(flatten(img))
	if err != nil {
		return nil, model.NewMalformedImageError()
	}
	return out, nil
}

func (p *Pipeline) recordFailure(kind Kind, reason string) {
	if p.metrics != nil {
		p.metrics.RecordImageIngestFailure(string(kind), reason)
	}
}

// randomName は推測困難なファイル名（拡張子なし）を生成する。
func randomName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
