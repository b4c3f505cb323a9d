package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "kresearch:session:"
	redisIndexKey  = "kresearch:sessions"
)

// RedisStore keeps each session as a JSON string and indexes ids in a sorted
// set scored by creation time.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromURL connects to url and verifies the connection.
func NewRedisStoreFromURL(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisStore(client), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Save(ctx context.Context, item HistoryItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisKeyPrefix+item.ID, data, 0)
		pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(item.CreatedAt.UnixMilli()), Member: item.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", item.ID, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (HistoryItem, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return HistoryItem{}, ErrNotFound
	}
	if err != nil {
		return HistoryItem{}, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	var item HistoryItem
	if err := json.Unmarshal(data, &item); err != nil {
		return HistoryItem{}, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return item, nil
}

func (s *RedisStore) List(ctx context.Context) ([]HistoryItem, error) {
	ids, err := s.client.ZRevRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		return []HistoryItem{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisKeyPrefix + id
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	items := make([]HistoryItem, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a value; the session was deleted concurrently.
			continue
		}
		var item HistoryItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("failed to decode session %s: %w", ids[i], err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, redisKeyPrefix+id)
		pipe.ZRem(ctx, redisIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}
