package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/neurobridge-synthesis/internal/platform/logger"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
)

type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	TTL        time.Duration
	MaxEntries int
}

// Redis stores results as JSON with a native TTL. A sorted set scored by expiry time bounds the
// number of entries; on overflow the lowest scores (closest to expiry) are popped.
type Redis struct {
	log        *logger.Logger
	rdb        *goredis.Client
	owned      bool
	prefix     string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	hits, misses, evictions, expirations atomic.Int64
}

func NewRedis(log *logger.Logger, opts RedisOptions) (*Redis, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	r := NewRedisWithClient(log, rdb, opts)
	r.owned = true
	return r, nil
}

// NewRedisWithClient wraps an existing client. Close does not close a borrowed client.
func NewRedisWithClient(log *logger.Logger, rdb *goredis.Client, opts RedisOptions) *Redis {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1024
	}
	if opts.Prefix == "" {
		opts.Prefix = "synthesis:"
	}
	return &Redis{
		log:        log.With("service", "RedisResultCache"),
		rdb:        rdb,
		prefix:     opts.Prefix,
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		now:        time.Now,
	}
}

func (r *Redis) resultKey(key string) string { return r.prefix + "result:" + key }
func (r *Redis) indexKey() string            { return r.prefix + "expiry" }

func (r *Redis) Get(ctx context.Context, key string) (content.SynthesisResult, bool) {
	raw, err := r.rdb.Get(ctx, r.resultKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			r.log.Warn("redis cache get failed", "error", err.Error())
		}
		r.misses.Add(1)
		return content.SynthesisResult{}, false
	}
	var res content.SynthesisResult
	if err := json.Unmarshal(raw, &res); err != nil {
		r.log.Warn("redis cache entry undecodable; dropping", "error", err.Error())
		r.Delete(ctx, key)
		r.misses.Add(1)
		return content.SynthesisResult{}, false
	}
	r.hits.Add(1)
	return res, true
}

func (r *Redis) Set(ctx context.Context, key string, result content.SynthesisResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	now := r.now()
	expiresAt := now.Add(r.ttl)

	_, err = r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, r.resultKey(key), raw, r.ttl)
		pipe.ZAdd(ctx, r.indexKey(), goredis.Z{Score: float64(expiresAt.UnixMilli()), Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis cache set: %w", err)
	}
	return r.enforceBound(ctx, now)
}

// enforceBound drops index members whose entries already expired, then pops the members closest
// to expiry until the index fits MaxEntries.
func (r *Redis) enforceBound(ctx context.Context, now time.Time) error {
	expired, err := r.rdb.ZRemRangeByScore(ctx, r.indexKey(), "-inf", strconv.FormatInt(now.UnixMilli(), 10)).Result()
	if err != nil {
		return fmt.Errorf("redis cache sweep: %w", err)
	}
	r.expirations.Add(expired)

	n, err := r.rdb.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("redis cache size: %w", err)
	}
	over := n - int64(r.maxEntries)
	if over <= 0 {
		return nil
	}
	popped, err := r.rdb.ZPopMin(ctx, r.indexKey(), over).Result()
	if err != nil {
		return fmt.Errorf("redis cache evict: %w", err)
	}
	keys := make([]string, 0, len(popped))
	for _, z := range popped {
		if m, ok := z.Member.(string); ok {
			keys = append(keys, r.resultKey(m))
		}
	}
	if len(keys) > 0 {
		if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis cache evict: %w", err)
		}
	}
	r.evictions.Add(int64(len(popped)))
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) bool {
	var del *goredis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		del = pipe.Del(ctx, r.resultKey(key))
		pipe.ZRem(ctx, r.indexKey(), key)
		return nil
	})
	if err != nil {
		r.log.Warn("redis cache delete failed", "error", err.Error())
		return false
	}
	return del.Val() > 0
}

func (r *Redis) Len(ctx context.Context) int {
	n, err := r.rdb.ZCount(ctx, r.indexKey(), "("+strconv.FormatInt(r.now().UnixMilli(), 10), "+inf").Result()
	if err != nil {
		r.log.Warn("redis cache len failed", "error", err.Error())
		return 0
	}
	return int(n)
}

func (r *Redis) Stats(ctx context.Context) Stats {
	s := Stats{
		Backend:     "redis",
		Entries:     r.Len(ctx),
		MaxEntries:  r.maxEntries,
		Hits:        r.hits.Load(),
		Misses:      r.misses.Load(),
		Evictions:   r.evictions.Load(),
		Expirations: r.expirations.Load(),
	}
	s.computeHitRate()
	return s
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	if r.owned {
		return r.rdb.Close()
	}
	return nil
}
