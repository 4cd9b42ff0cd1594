package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"foxq/pkg/logx"
)

const defaultRedisKey = "foxq:tasks"

// redisStore keeps the document under a single string key and pushes audit
// entries onto <key>:audit.
type redisStore struct {
	client *redis.Client
	key    string
	log    logx.Logger
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	key := strings.TrimSpace(cfg.Redis.Key)
	if key == "" {
		key = defaultRedisKey
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	// SETNX leaves an existing document alone.
	if err := client.SetNX(pctx, key, emptyDocument, 0).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	log.Info("connected to redis", logx.String("addr", addr), logx.String("key", key))
	return &redisStore{client: client, key: key, log: log}, nil
}

func (s *redisStore) Driver() string { return "redis" }

func (s *redisStore) Load(ctx context.Context) ([]byte, error) {
	b, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return emptyDocument, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *redisStore) Save(ctx context.Context, doc []byte) error {
	return s.client.Set(ctx, s.key, doc, 0).Err()
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.key+":audit", b).Err()
}

func (s *redisStore) Close() error { return s.client.Close() }
