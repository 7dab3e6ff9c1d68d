// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/market/internal/imaging"
	"github.com/hitoshi/market/internal/model"
	"github.com/hitoshi/market/internal/repository"
	"github.com/hitoshi/market/internal/security"
	"github.com/hitoshi/market/internal/storage"
	"github.com/hitoshi/market/internal/validation"
)

// ItemRemover は所有商品の一覧取得と削除を行う。item.Serviceが実装する。
type ItemRemover interface {
	ListByOwner(ctx context.Context, ownerID string) ([]model.Item, error)
	RemoveOwned(ctx context.Context, item *model.Item) (model.RemovalResult, error)
}

// ImageIngester はプロフィール画像を正規化して保存する。
type ImageIngester interface {
	Ingest(ctx context.Context, up imaging.Upload, kind imaging.Kind, targetID string) (string, error)
}

// FileRemover は画像ファイルを削除する。
type FileRemover interface {
	Remove(ctx context.Context, key storage.Key) error
}

// Recorder は後始末の失敗を記録する。
type Recorder interface {
	RecordCleanupFailure(target string)
}

// ProfileInput はアカウント更新フォームの入力値。
type ProfileInput struct {
	Name    string
	Email   string
	Mobile1 string
	Mobile2 string
	State   string
}

// ProfileResult はアカウント更新の結果。
// 旧プロフィール画像の削除失敗はWarningsに格納される。
type ProfileResult struct {
	User     *model.User
	Warnings []error
}

// OwnerPage は出品者ページの表示データ。
type OwnerPage struct {
	Owner *model.User
	Items []model.Item
}

// Service はユーザー管理のサービス層。
// アカウント更新と退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	items       ItemRemover
	images      ImageIngester
	files       FileRemover
	sanitizer   security.TextSanitizer
	metrics     Recorder
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。metricsはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	items ItemRemover,
	images ImageIngester,
	files FileRemover,
	sanitizer security.TextSanitizer,
	metrics Recorder,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		items:       items,
		images:      images,
		files:       files,
		sanitizer:   sanitizer,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Profile はログインユーザーのアカウント情報を返す。
func (s *Service) Profile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Owner は出品者と所有商品の一覧を返す。
func (s *Service) Owner(ctx context.Context, ownerID string) (*OwnerPage, error) {
	owner, err := s.Profile(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	items, err := s.items.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("所有商品一覧の取得に失敗しました: %w", err)
	}
	return &OwnerPage{Owner: owner, Items: items}, nil
}

// UpdateProfile はアカウント情報を更新する。
// 新しい画像がある場合は、新しい画像を保存してから行を更新し、最後に旧画像を削除する。
// 旧画像の削除失敗は更新を中断しない。
func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileInput, picture *imaging.Upload) (*ProfileResult, error) {
	if picture != nil && !imaging.AllowedExtension(picture.Filename) {
		return nil, model.NewUnsupportedImageError(picture.Filename)
	}
	in, err := s.normalize(in)
	if err != nil {
		return nil, err
	}

	user, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if in.Email != user.Email {
		existing, err := s.userRepo.FindByEmail(ctx, in.Email)
		if err != nil {
			return nil, fmt.Errorf("メールアドレスの確認に失敗しました: %w", err)
		}
		if existing != nil {
			return nil, model.NewEmailTakenError()
		}
	}

	oldImage := user.ImageFile
	newImage := ""
	if picture != nil {
		newImage, err = s.images.Ingest(ctx, *picture, imaging.KindProfile, "")
		if err != nil {
			return nil, err
		}
	}

	user.Name = in.Name
	user.Email = in.Email
	user.Mobile1 = in.Mobile1
	user.Mobile2 = in.Mobile2
	user.State = in.State
	if newImage != "" {
		user.ImageFile = newImage
	}
	user.UpdatedAt = s.now()

	if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
		if newImage != "" {
			s.removeProfileImage(ctx, userID, newImage)
		}
		if repository.IsUniqueViolation(err) {
			return nil, model.NewEmailTakenError()
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	result := &ProfileResult{User: user}
	if newImage != "" && oldImage != "" && oldImage != newImage {
		if err := s.removeProfileImage(ctx, userID, oldImage); err != nil {
			result.Warnings = append(result.Warnings, err)
		}
	}

	slog.Info("プロフィールを更新しました",
		slog.String("user_id", userID),
		slog.Bool("picture_changed", newImage != ""),
	)
	return result, nil
}

// Remove はユーザーの退会処理を実行する。本人のみが実行できる。
// 削除順序: プロフィール画像 → 所有商品（画像ディレクトリ、画像行、商品行） → sessions → user
// 画像ファイルの削除失敗は処理を中断せずRemovalResult.Cleanupで報告する。
func (s *Service) Remove(ctx context.Context, actorID, userID string) (model.RemovalResult, error) {
	if actorID == "" || actorID != userID {
		return model.RemovalResult{}, model.NewForbiddenError()
	}

	user, err := s.Profile(ctx, userID)
	if err != nil {
		return model.RemovalResult{}, err
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	var cleanup []error

	// 1. プロフィール画像を削除
	if user.ImageFile != "" {
		if err := s.removeProfileImage(ctx, userID, user.ImageFile); err != nil {
			cleanup = append(cleanup, err)
		}
	}

	// 2. 所有商品を削除
	items, err := s.items.ListByOwner(ctx, userID)
	if err != nil {
		return model.RemovalResult{}, fmt.Errorf("所有商品一覧の取得に失敗しました: %w", err)
	}
	for i := range items {
		res, err := s.items.RemoveOwned(ctx, &items[i])
		if err != nil {
			return model.RemovalResult{}, fmt.Errorf("所有商品の削除に失敗しました: %w", err)
		}
		if res.CleanupFailed() {
			cleanup = append(cleanup, res.Cleanup)
		}
	}

	// 3. セッションを削除
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return model.RemovalResult{}, fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	// 4. ユーザーを削除
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.RemovalResult{}, model.NewUserNotFoundError()
		}
		return model.RemovalResult{}, fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
		slog.Int("items", len(items)),
		slog.Int("cleanup_failures", len(cleanup)),
	)

	return model.RemovalResult{Cleanup: errors.Join(cleanup...)}, nil
}

// removeProfileImage はプロフィール画像をベストエフォートで削除する。
// 失敗した場合はログとメトリクスを記録し、CleanupErrorを返す。
func (s *Service) removeProfileImage(ctx context.Context, userID, filename string) error {
	key := storage.Key{Kind: storage.KindProfile, Filename: filename}
	if err := s.files.Remove(ctx, key); err != nil {
		slog.Warn("プロフィール画像の削除に失敗しました",
			slog.String("user_id", userID),
			slog.String("path", filename),
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.RecordCleanupFailure("profile_picture")
		}
		return model.NewCleanupError("profile picture")
	}
	return nil
}

// normalize は入力値をサニタイズして検証する。
func (s *Service) normalize(in ProfileInput) (ProfileInput, error) {
	out := ProfileInput{
		Name:    strings.TrimSpace(in.Name),
		Email:   validation.NormalizeEmail(in.Email),
		Mobile1: strings.TrimSpace(in.Mobile1),
		Mobile2: strings.TrimSpace(in.Mobile2),
		State:   s.sanitizer.Sanitize(in.State),
	}
	if out.State == "" {
		out.State = model.DefaultUserState
	}

	if err := validation.Name(out.Name); err != nil {
		return ProfileInput{}, err
	}
	if err := validation.Email(out.Email); err != nil {
		return ProfileInput{}, err
	}
	if err := validation.Mobile("mobile1", out.Mobile1, true); err != nil {
		return ProfileInput{}, err
	}
	if err := validation.Mobile("mobile2", out.Mobile2, false); err != nil {
		return ProfileInput{}, err
	}
	if err := validation.State(out.State); err != nil {
		return ProfileInput{}, err
	}
	return out, nil
}
