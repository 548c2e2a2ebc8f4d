package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the shared backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

// Redis stores JSON-encoded values under a key prefix.
type Redis[V any] struct {
	client *redis.Client
	prefix string
}

// NewRedis returns a Store that keeps its keys under prefix.
func NewRedis[V any](client *redis.Client, prefix string) *Redis[V] {
	return &Redis[V]{client: client, prefix: prefix}
}

func (r *Redis[V]) key(k string) string { return r.prefix + k }

func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var value V

	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return value, false, nil
	}
	if err != nil {
		return value, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return value, true, nil
}

func (r *Redis[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return r.client.Set(ctx, r.key(key), data, ttl).Err()
}

func (r *Redis[V]) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *Redis[V]) Range(ctx context.Context, fn func(key string, value V) bool) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), r.prefix)
		value, ok, err := r.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if !fn(key, value) {
			return nil
		}
	}
	return iter.Err()
}

func (r *Redis[V]) Len(ctx context.Context) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, iter.Err()
}

const (
	fieldCount = "count"
	fieldReset = "reset"
)

// RedisCounters keeps each window as a hash {count, reset} that Redis
// expires at the window's reset time.
type RedisCounters struct {
	client *redis.Client
	prefix string
}

// NewRedisCounters returns a CounterStore under prefix.
func NewRedisCounters(client *redis.Client, prefix string) *RedisCounters {
	return &RedisCounters{client: client, prefix: prefix}
}

func (r *RedisCounters) key(k string) string { return r.prefix + k }

func (r *RedisCounters) Get(ctx context.Context, key string) (Counter, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.key(key)).Result()
	if err != nil {
		return Counter{}, false, fmt.Errorf("redis hgetall %s: %w", key, err)
	}
	if len(fields) == 0 {
		return Counter{}, false, nil
	}
	return parseCounter(fields), true, nil
}

func (r *RedisCounters) Set(ctx context.Context, key string, c Counter) error {
	k := r.key(key)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k, fieldCount, c.Count, fieldReset, c.ResetTime.UnixMilli())
		pipe.PExpireAt(ctx, k, c.ResetTime)
		return nil
	})
	return err
}

func (r *RedisCounters) Increment(ctx context.Context, key string) (Counter, error) {
	k := r.key(key)

	var incr *redis.IntCmd
	var reset *redis.StringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, k, fieldCount, 1)
		reset = pipe.HGet(ctx, k, fieldReset)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Counter{}, fmt.Errorf("redis increment %s: %w", key, err)
	}

	c := Counter{Count: int(incr.Val())}
	if ms, perr := strconv.ParseInt(reset.Val(), 10, 64); perr == nil {
		c.ResetTime = time.UnixMilli(ms)
	}
	return c, nil
}

func (r *RedisCounters) Decrement(ctx context.Context, key string) error {
	k := r.key(key)
	n, err := r.client.HIncrBy(ctx, k, fieldCount, -1).Result()
	if err != nil {
		return err
	}
	if n < 0 {
		return r.client.Del(ctx, k).Err()
	}
	return nil
}

func (r *RedisCounters) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// Sweep is a no-op: Redis expires windows on its own.
func (r *RedisCounters) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (r *RedisCounters) Len(ctx context.Context) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, iter.Err()
}

func parseCounter(fields map[string]string) Counter {
	var c Counter
	if n, err := strconv.Atoi(fields[fieldCount]); err == nil {
		c.Count = n
	}
	if ms, err := strconv.ParseInt(fields[fieldReset], 10, 64); err == nil {
		c.ResetTime = time.UnixMilli(ms)
	}
	return c
}
