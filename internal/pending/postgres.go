package pending

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/market/internal/model"
	"github.com/hitoshi/market/internal/repository"
)

// SessionDataRepository はsessions.dataの読み書きに必要なリポジトリ操作。
type SessionDataRepository interface {
	LoadData(ctx context.Context, id string) (*model.SessionData, error)
	SaveData(ctx context.Context, id string, data *model.SessionData) error
}

// PostgresStore はsessionsテーブルのJSONBカラムに仮登録データを保存するStore。
type PostgresStore struct {
	repo SessionDataRepository
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(repo SessionDataRepository) *PostgresStore {
	return &PostgresStore{repo: repo}
}

// Put は仮登録データを保存し、送信済みフラグをリセットする。
func (s *PostgresStore) Put(ctx context.Context, sessionID string, reg *model.PendingRegistration) error {
	return s.save(ctx, sessionID, &model.SessionData{NewUser: reg})
}

// Get は仮登録データを返す。セッションが存在しない場合もnilを返す。
func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*model.PendingRegistration, error) {
	data, err := s.repo.LoadData(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending registration: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return data.NewUser, nil
}

// Clear は仮登録データと送信済みフラグを削除する。
// セッションが既に存在しない場合は何もしない。
func (s *PostgresStore) Clear(ctx context.Context, sessionID string) error {
	err := s.save(ctx, sessionID, &model.SessionData{})
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	return err
}

// MarkEmailSent は送信済みフラグを立てる。仮登録データは維持する。
func (s *PostgresStore) MarkEmailSent(ctx context.Context, sessionID string) error {
	data, err := s.repo.LoadData(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load pending registration: %w", err)
	}
	if data == nil {
		return ErrNoSession
	}
	data.EmailSent = true
	return s.save(ctx, sessionID, data)
}

// EmailSent は送信済みフラグを返す。
func (s *PostgresStore) EmailSent(ctx context.Context, sessionID string) (bool, error) {
	data, err := s.repo.LoadData(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to load pending registration: %w", err)
	}
	return data != nil && data.EmailSent, nil
}

func (s *PostgresStore) save(ctx context.Context, sessionID string, data *model.SessionData) error {
	err := s.repo.SaveData(ctx, sessionID, data)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNoSession
	}
	if err != nil {
		return fmt.Errorf("failed to save pending registration: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
