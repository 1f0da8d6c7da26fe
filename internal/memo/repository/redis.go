package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iamyasumichi/only-one/internal/memo/model"
	"github.com/iamyasumichi/only-one/pkg/logger"
)

const updateRetries = 5

// RedisStore keeps each owner's memos in one hash, field id -> memo JSON. Every write publishes
// on the owner's change channel.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redisURL and checks the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "memos:"}
}

func (s *RedisStore) key(owner string) string {
	return s.prefix + owner
}

func (s *RedisStore) channel(owner string) string {
	return s.prefix + owner + ":changed"
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) List(ctx context.Context, owner string) ([]model.Memo, error) {
	fields, err := s.client.HGetAll(ctx, s.key(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("list memos: %w", err)
	}

	memos := make([]model.Memo, 0, len(fields))
	for id, raw := range fields {
		var m model.Memo
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			logger.Sugar.Warnf("Skipping unreadable memo %s for %s: %v", id, owner, err)
			continue
		}
		m.ID = id
		m.Origin = model.OriginRemote
		memos = append(memos, m)
	}
	sort.Slice(memos, func(i, j int) bool { return memos[i].ID < memos[j].ID })
	return model.SortByUpdated(memos), nil
}

func (s *RedisStore) Create(ctx context.Context, owner string, m model.Memo) (string, error) {
	m = prepare(m)
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal memo: %w", err)
	}
	if err := s.client.HSet(ctx, s.key(owner), m.ID, b).Err(); err != nil {
		return "", fmt.Errorf("create memo: %w", err)
	}
	s.publish(ctx, owner)
	return m.ID, nil
}

// Update is an optimistic read-merge-write guarded by WATCH on the owner's hash.
func (s *RedisStore) Update(ctx context.Context, owner, id string, p model.Patch) error {
	key := s.key(owner)
	for attempt := 0; attempt < updateRetries; attempt++ {
		found := false
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.HGet(ctx, key, id).Result()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			var m model.Memo
			if err := json.Unmarshal([]byte(raw), &m); err != nil {
				return fmt.Errorf("unmarshal memo: %w", err)
			}
			b, err := json.Marshal(model.Apply(m, p))
			if err != nil {
				return fmt.Errorf("marshal memo: %w", err)
			}
			found = true
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, id, b)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("update memo: %w", err)
		}
		if found {
			s.publish(ctx, owner)
		}
		return nil
	}
	return fmt.Errorf("update memo %s: too much contention", id)
}

func (s *RedisStore) Delete(ctx context.Context, owner, id string) error {
	n, err := s.client.HDel(ctx, s.key(owner), id).Result()
	if err != nil {
		return fmt.Errorf("delete memo: %w", err)
	}
	if n > 0 {
		s.publish(ctx, owner)
	}
	return nil
}

func (s *RedisStore) publish(ctx context.Context, owner string) {
	if err := s.client.Publish(ctx, s.channel(owner), owner).Err(); err != nil {
		logger.Sugar.Warnf("Failed to publish memo change for %s: %v", owner, err)
	}
}

// Watch subscribes to the owner's change channel and reloads the hash on every message.
func (s *RedisStore) Watch(owner string, onSnapshot func([]model.Memo), onError func(error)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := s.client.Subscribe(ctx, s.channel(owner))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		if onError != nil {
			onError(err)
		}
		return func() {}
	}

	reload := func() {
		memos, err := s.List(ctx, owner)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		if onSnapshot != nil {
			onSnapshot(memos)
		}
	}

	go func() {
		reload()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				reload()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = pubsub.Close()
		})
	}
}
