// Package item は商品の出品・更新・削除・購入のドメインロジックを提供する。
package item

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/market/internal/imaging"
	"github.com/hitoshi/market/internal/model"
	"github.com/hitoshi/market/internal/repository"
	"github.com/hitoshi/market/internal/security"
	"github.com/hitoshi/market/internal/storage"
)

// 入力値の上限。
const (
	MaxNameLength        = 30
	MaxDescriptionLength = 1500
	MaxLocationLength    = 200
)

// ImageIngester は画像アップロードを正規化して保存する。
type ImageIngester interface {
	Ingest(ctx context.Context, up imaging.Upload, kind imaging.Kind, targetID string) (string, error)
}

// FileRemover は画像ファイルの削除を行う。
type FileRemover interface {
	Remove(ctx context.Context, key storage.Key) error
	RemoveDir(ctx context.Context, kind storage.Kind, targetID string) error
}

// Recorder は商品操作のメトリクスを記録する。
type Recorder interface {
	RecordPurchase()
	RecordCleanupFailure(target string)
}

// Input は出品フォームの入力値。
type Input struct {
	Name        string
	Price       int64
	Category    string
	Description string
	Location    string
	Delivery    string
}

// SaveResult は出品・更新の結果。
// 画像の保存に失敗しても商品は保存され、失敗はWarningsに格納される。
type SaveResult struct {
	Item     *model.Item
	Warnings []error
}

// Service は商品管理のサービス層。
type Service struct {
	itemRepo    repository.ItemRepository
	pictureRepo repository.PictureRepository
	images      ImageIngester
	files       FileRemover
	sanitizer   security.TextSanitizer
	metrics     Recorder
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。metricsはnilでもよい。
func NewService(
	itemRepo repository.ItemRepository,
	pictureRepo repository.PictureRepository,
	images ImageIngester,
	files FileRemover,
	sanitizer security.TextSanitizer,
	metrics Recorder,
) *Service {
	return &Service{
		itemRepo:    itemRepo,
		pictureRepo: pictureRepo,
		images:      images,
		files:       files,
		sanitizer:   sanitizer,
		metrics:     metrics,
		now:         time.Now,
	}
}

// CanRemove はuserIDが商品を変更・削除できるかを返す。所有者のみが許可される。
func CanRemove(userID string, item *model.Item) bool {
	return item != nil && userID != "" && item.OwnerID == userID
}

// Get は商品を画像付きで取得する。
func (s *Service) Get(ctx context.Context, itemID string) (*model.Item, error) {
	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("商品の取得に失敗しました: %w", err)
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(itemID)
	}
	return item, nil
}

// ListByOwner は指定ユーザーが所有する商品一覧を返す。
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]model.Item, error) {
	items, err := s.itemRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("所有商品一覧の取得に失敗しました: %w", err)
	}
	return items, nil
}

// Create は商品を出品する。
// 商品行を作成した後、アップロードごとにファイルを保存してから画像行を作成する。
func (s *Service) Create(ctx context.Context, ownerID string, in Input, uploads []imaging.Upload) (*SaveResult, error) {
	if err := checkUploads(uploads); err != nil {
		return nil, err
	}
	fields, err := s.normalize(in)
	if err != nil {
		return nil, err
	}

	now := s.now()
	item := &model.Item{
		ID:          uuid.New().String(),
		Name:        fields.Name,
		Price:       fields.Price,
		Category:    model.Category(fields.Category),
		Description: fields.Description,
		Location:    fields.Location,
		Delivery:    model.Delivery(fields.Delivery),
		OwnerID:     ownerID,
		Pictures:    []model.Picture{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.itemRepo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("商品の作成に失敗しました: %w", err)
	}

	slog.Info("商品を出品しました",
		slog.String("item_id", item.ID),
		slog.String("user_id", ownerID),
	)

	warnings := s.attachPictures(ctx, item, uploads)
	return &SaveResult{Item: item, Warnings: warnings}, nil
}

// Update は商品の属性を更新し、画像を追加する。所有者のみが実行できる。
// 配送可否が空の場合は既存の値を維持する。
func (s *Service) Update(ctx context.Context, actorID, itemID string, in Input, uploads []imaging.Upload) (*SaveResult, error) {
	item, err := s.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !CanRemove(actorID, item) {
		return nil, model.NewForbiddenError()
	}
	if err := checkUploads(uploads); err != nil {
		return nil, err
	}

	if strings.TrimSpace(in.Delivery) == "" {
		in.Delivery = string(item.Delivery)
	}
	fields, err := s.normalize(in)
	if err != nil {
		return nil, err
	}

	item.Name = fields.Name
	item.Price = fields.Price
	item.Category = model.Category(fields.Category)
	item.Description = fields.Description
	item.Location = fields.Location
	item.Delivery = model.Delivery(fields.Delivery)
	item.UpdatedAt = s.now()

	if err := s.itemRepo.Update(ctx, item); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewItemNotFoundError(itemID)
		}
		return nil, fmt.Errorf("商品の更新に失敗しました: %w", err)
	}

	warnings := s.attachPictures(ctx, item, uploads)
	return &SaveResult{Item: item, Warnings: warnings}, nil
}

// Remove は商品を削除する。所有者のみが実行できる。
func (s *Service) Remove(ctx context.Context, actorID, itemID string) (model.RemovalResult, error) {
	item, err := s.Get(ctx, itemID)
	if err != nil {
		return model.RemovalResult{}, err
	}
	if !CanRemove(actorID, item) {
		return model.RemovalResult{}, model.NewForbiddenError()
	}
	return s.RemoveOwned(ctx, item)
}

// RemoveOwned は権限確認済みの商品を削除する。
// 画像ディレクトリをベストエフォートで削除した後、画像行と商品行を同一トランザクションで削除する。
// ディレクトリ削除の失敗は処理を中断せずRemovalResult.Cleanupで報告する。
func (s *Service) RemoveOwned(ctx context.Context, item *model.Item) (model.RemovalResult, error) {
	var result model.RemovalResult

	if err := s.files.RemoveDir(ctx, storage.KindItem, item.ID); err != nil {
		slog.Warn("商品画像ディレクトリの削除に失敗しました",
			slog.String("item_id", item.ID),
			slog.String("error", err.Error()),
		)
		s.recordCleanupFailure("item_dir")
		result.Cleanup = model.NewCleanupError("image directory")
	}

	if err := s.itemRepo.DeleteWithPictures(ctx, item.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.RemovalResult{}, model.NewItemNotFoundError(item.ID)
		}
		return model.RemovalResult{}, fmt.Errorf("商品の削除に失敗しました: %w", err)
	}

	slog.Info("商品を削除しました",
		slog.String("item_id", item.ID),
		slog.String("user_id", item.OwnerID),
		slog.Int("pictures", len(item.Pictures)),
	)
	return result, nil
}

// RemovePicture は商品画像を1件削除する。商品の所有者のみが実行できる。
// ファイルをベストエフォートで削除した後、画像行を削除する。
func (s *Service) RemovePicture(ctx context.Context, actorID, pictureID string) (model.RemovalResult, error) {
	pic, err := s.pictureRepo.FindByID(ctx, pictureID)
	if err != nil {
		return model.RemovalResult{}, fmt.Errorf("商品画像の取得に失敗しました: %w", err)
	}
	if pic == nil {
		return model.RemovalResult{}, model.NewPictureNotFoundError(pictureID)
	}

	item, err := s.itemRepo.FindByID(ctx, pic.ItemID)
	if err != nil {
		return model.RemovalResult{}, fmt.Errorf("商品の取得に失敗しました: %w", err)
	}
	if !CanRemove(actorID, item) {
		return model.RemovalResult{}, model.NewForbiddenError()
	}

	var result model.RemovalResult
	key := storage.Key{Kind: storage.KindItem, TargetID: pic.ItemID, Filename: pic.Filename}
	if err := s.files.Remove(ctx, key); err != nil {
		slog.Warn("商品画像ファイルの削除に失敗しました",
			slog.String("item_id", pic.ItemID),
			slog.String("path", pic.Filename),
			slog.String("error", err.Error()),
		)
		s.recordCleanupFailure("picture_file")
		result.Cleanup = model.NewCleanupError("image file")
	}

	if err := s.pictureRepo.DeleteByID(ctx, pictureID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.RemovalResult{}, model.NewPictureNotFoundError(pictureID)
		}
		return model.RemovalResult{}, fmt.Errorf("商品画像の削除に失敗しました: %w", err)
	}
	return result, nil
}

// Buy は商品を購入する。
// 商品と購入者をロックした上で、自分の商品でないことと予算が足りることを確認し、
// 予算の減算と所有者の移転を同一トランザクションで行う。
func (s *Service) Buy(ctx context.Context, buyerID, itemID string) (*model.Item, error) {
	item, err := s.itemRepo.Transfer(ctx, itemID, buyerID, func(item *model.Item, buyer *model.User) error {
		if item.OwnerID == buyer.ID {
			return model.NewOwnItemError()
		}
		if buyer.Budget < item.Price {
			return model.NewInsufficientBudgetError(buyer.Budget, item.Price)
		}
		return nil
	})
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, err
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewItemNotFoundError(itemID)
		}
		return nil, fmt.Errorf("商品の購入に失敗しました: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordPurchase()
	}
	slog.Info("商品を購入しました",
		slog.String("item_id", itemID),
		slog.String("user_id", buyerID),
		slog.Int64("price", item.Price),
	)
	return item, nil
}

// attachPictures はアップロードを順に保存し、ファイル保存後に画像行を作成する。
// 個々の失敗は警告として返し、残りのアップロードの処理は継続する。
func (s *Service) attachPictures(ctx context.Context, item *model.Item, uploads []imaging.Upload) []error {
	var warnings []error
	for _, up := range uploads {
		filename, err := s.images.Ingest(ctx, up, imaging.KindItem, item.ID)
		if err != nil {
			warnings = append(warnings, err)
			continue
		}

		pic := model.Picture{
			ID:        uuid.New().String(),
			Filename:  filename,
			ItemID:    item.ID,
			CreatedAt: s.now(),
		}
		if err := s.pictureRepo.Create(ctx, &pic); err != nil {
			slog.Error("商品画像の登録に失敗しました",
				slog.String("item_id", item.ID),
				slog.String("error", err.Error()),
			)
			key := storage.Key{Kind: storage.KindItem, TargetID: item.ID, Filename: filename}
			if rmErr := s.files.Remove(ctx, key); rmErr != nil {
				s.recordCleanupFailure("picture_file")
			}
			warnings = append(warnings, model.NewImageStorageError())
			continue
		}
		item.Pictures = append(item.Pictures, pic)
	}
	return warnings
}

func (s *Service) recordCleanupFailure(target string) {
	if s.metrics != nil {
		s.metrics.RecordCleanupFailure(target)
	}
}

// checkUploads は全てのアップロードの拡張子を読み込み前に検証する。
func checkUploads(uploads []imaging.Upload) error {
	for _, up := range uploads {
		if !imaging.AllowedExtension(up.Filename) {
			return model.NewUnsupportedImageError(up.Filename)
		}
	}
	return nil
}

// normalize は入力値をサニタイズして検証する。
func (s *Service) normalize(in Input) (Input, error) {
	out := Input{
		Name:        strings.TrimSpace(in.Name),
		Price:       in.Price,
		Category:    strings.TrimSpace(in.Category),
		Description: s.sanitizer.Sanitize(in.Description),
		Location:    s.sanitizer.Sanitize(in.Location),
		Delivery:    strings.TrimSpace(in.Delivery),
	}

	if n := utf8.RuneCountInString(out.Name); n == 0 || n > MaxNameLength {
		return Input{}, model.NewValidationError("name", fmt.Sprintf("must be between 1 and %d characters", MaxNameLength))
	}
	if out.Price < 1 {
		return Input{}, model.NewValidationError("price", "Price can't be zero")
	}
	if !model.Category(out.Category).Valid() {
		return Input{}, model.NewValidationError("category", "must be electronics or clothes")
	}
	if n := utf8.RuneCountInString(out.Description); n == 0 || n > MaxDescriptionLength {
		return Input{}, model.NewValidationError("description", fmt.Sprintf("must be between 1 and %d characters", MaxDescriptionLength))
	}
	if n := utf8.RuneCountInString(out.Location); n == 0 || n > MaxLocationLength {
		return Input{}, model.NewValidationError("location", fmt.Sprintf("must be between 1 and %d characters", MaxLocationLength))
	}
	if !model.Delivery(out.Delivery).Valid() {
		return Input{}, model.NewValidationError("delivery", "must be Yes or No")
	}
	return out, nil
}
