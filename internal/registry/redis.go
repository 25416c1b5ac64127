package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/aggregw/internal/observability"
)

const (
	redisStoreName = "redis"

	// maxTxRetries bounds optimistic-lock retries for health updates.
	maxTxRetries = 5
)

// RedisStore keeps every record as a JSON value in a single hash
// (<prefix>services) keyed by service name.
type RedisStore struct {
	client *redis.Client
	key    string
	now    func() time.Time
	owned  bool
	logger observability.Logger
}

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Logger    observability.Logger
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, storeErr(redisStoreName, "ping", err)
	}

	store := NewRedisStoreFromClient(client, opts.KeyPrefix)
	store.owned = true
	if opts.Logger != nil {
		store.logger = opts.Logger
	}
	return store, nil
}

// NewRedisStoreFromClient wraps an existing client. The caller keeps
// ownership of the client.
func NewRedisStoreFromClient(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{
		client: client,
		key:    keyPrefix + "services",
		now:    time.Now,
		logger: observability.NopLogger(),
	}
}

// Register implements Registry.
func (s *RedisStore) Register(ctx context.Context, record ServiceRecord) error {
	rec, err := prepare(record, s.now())
	if err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return storeErr(redisStoreName, "encode", err)
	}
	return storeErr(redisStoreName, "register", s.client.HSet(ctx, s.key, rec.Name, data).Err())
}

// Discover implements Registry.
func (s *RedisStore) Discover(ctx context.Context, name string) (ServiceRecord, error) {
	data, err := s.client.HGet(ctx, s.key, name).Bytes()
	if errors.Is(err, redis.Nil) {
		return ServiceRecord{}, ErrServiceNotFound
	}
	if err != nil {
		return ServiceRecord{}, storeErr(redisStoreName, "discover", err)
	}

	var rec ServiceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ServiceRecord{}, storeErr(redisStoreName, "decode", err)
	}
	return rec, nil
}

// List implements Registry. Entries that fail to decode are logged and
// left out.
func (s *RedisStore) List(ctx context.Context) (map[string]ServiceRecord, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, storeErr(redisStoreName, "list", err)
	}

	out := make(map[string]ServiceRecord, len(raw))
	for name, data := range raw {
		var rec ServiceRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.logger.Warn("skipping undecodable registry entry",
				observability.String("service", name),
				observability.Error(err),
			)
			continue
		}
		out[name] = rec
	}
	return out, nil
}

// UpdateHealth implements Registry. The read-modify-write runs under
// WATCH so a concurrent re-registration is never overwritten with stale
// metadata.
func (s *RedisStore) UpdateHealth(ctx context.Context, name string, healthy bool) error {
	txf := func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, s.key, name).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrServiceNotFound
		}
		if err != nil {
			return err
		}

		var rec ServiceRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}

		updated, err := json.Marshal(markHealth(rec, healthy, s.now()))
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key, name, updated)
			return nil
		})
		return err
	}

	var err error
	for range maxTxRetries {
		err = s.client.Watch(ctx, txf, s.key)
		if !errors.Is(err, redis.TxFailedErr) {
			return storeErr(redisStoreName, "update health", err)
		}
	}
	return storeErr(redisStoreName, "update health", err)
}

// Unregister implements Registry.
func (s *RedisStore) Unregister(ctx context.Context, name string) error {
	n, err := s.client.HDel(ctx, s.key, name).Result()
	if err != nil {
		return storeErr(redisStoreName, "unregister", err)
	}
	if n == 0 {
		return ErrServiceNotFound
	}
	return nil
}

// Close closes the client when the store created it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
