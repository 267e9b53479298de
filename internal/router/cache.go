package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/circuitbreaker"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/util"
)

const cachePrefix = "atlas:route:"

// RedisCache keeps decisions in Redis so replicas share them.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	cb     *circuitbreaker.Instrumented
	logger *zap.Logger
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, ttl: ttl, cb: circuitbreaker.ForDependency(circuitbreaker.RouterCache, logger), logger: logger}
}

func cacheKey(question string) string {
	sum := sha256.Sum256([]byte(util.NormalizeQuery(question)))
	return cachePrefix + hex.EncodeToString(sum[:])
}

func (r *RedisCache) Get(ctx context.Context, question string) (Decision, bool) {
	var raw []byte
	err := r.cb.Execute(ctx, func() error {
		var err error
		raw, err = r.client.Get(ctx, cacheKey(question)).Bytes()
		if err == redis.Nil {
			return nil
		}
		return err
	})
	if err != nil {
		r.logger.Debug("Routing cache read failed", zap.Error(err))
		return Decision{}, false
	}
	if len(raw) == 0 {
		return Decision{}, false
	}
	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return Decision{}, false
	}
	if _, ok := ParseCategory(string(d.Category)); !ok {
		return Decision{}, false
	}
	return d, true
}

func (r *RedisCache) Set(ctx context.Context, question string, d Decision) {
	if d.Fallback {
		return
	}
	d.TokensUsed, d.Cached = 0, false
	raw, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := r.cb.Execute(ctx, func() error {
		return r.client.Set(ctx, cacheKey(question), raw, r.ttl).Err()
	}); err != nil {
		r.logger.Debug("Routing cache write failed", zap.Error(err))
	}
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
