package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/market/internal/model"
)

// keyPrefix はRedisに保存する仮登録データのキー接頭辞。
const keyPrefix = "market:pending:"

// RedisClient はRedisStoreが使用するRedisコマンドのサブセット。
// *redis.Clientがこれを満たす。
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore はRedisに仮登録データを保存するStore。
// キーはセッションの有効期限と同じTTLで失効する。
type RedisStore struct {
	client RedisClient
	ttl    time.Duration
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client RedisClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(sessionID string) string {
	return keyPrefix + sessionID
}

// Put は仮登録データを保存し、送信済みフラグをリセットする。
func (s *RedisStore) Put(ctx context.Context, sessionID string, reg *model.PendingRegistration) error {
	return s.save(ctx, sessionID, &model.SessionData{NewUser: reg})
}

// Get は仮登録データを返す。キーが存在しない場合はnilを返す。
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*model.PendingRegistration, error) {
	data, err := s.load(ctx, sessionID)
	if err != nil || data == nil {
		return nil, err
	}
	return data.NewUser, nil
}

// Clear はキーを削除する。
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, redisKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear pending registration: %w", err)
	}
	return nil
}

// MarkEmailSent は送信済みフラグを立て、TTLを延長する。
func (s *RedisStore) MarkEmailSent(ctx context.Context, sessionID string) error {
	data, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if data == nil {
		data = &model.SessionData{}
	}
	data.EmailSent = true
	return s.save(ctx, sessionID, data)
}

// EmailSent は送信済みフラグを返す。
func (s *RedisStore) EmailSent(ctx context.Context, sessionID string) (bool, error) {
	data, err := s.load(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return data != nil && data.EmailSent, nil
}

func (s *RedisStore) load(ctx context.Context, sessionID string) (*model.SessionData, error) {
	raw, err := s.client.Get(ctx, redisKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending registration: %w", err)
	}

	data := &model.SessionData{}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("failed to decode pending registration: %w", err)
	}
	return data, nil
}

func (s *RedisStore) save(ctx context.Context, sessionID string, data *model.SessionData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode pending registration: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(sessionID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save pending registration: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ Store       = (*RedisStore)(nil)
	_ RedisClient = (*redis.Client)(nil)
)
