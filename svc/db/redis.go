package db

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"pastelink/cfg"
)

// consumeScript is the atomic decrement-if-positive. It mirrors the Go
// read-modify-write in svc/store but runs in one server-side step, and
// rewrites with KEEPTTL so the absolute deadline never moves.
var consumeScript = redis.NewScript(`
	local raw = redis.call("GET", KEYS[1])
	if not raw then
		return false
	end
	local rec = cjson.decode(raw)
	local now = tonumber(ARGV[1])
	local ttl = rec["ttlSeconds"]
	if ttl ~= nil and ttl ~= cjson.null then
		if now >= tonumber(rec["createdAt"]) + tonumber(ttl) * 1000 then
			redis.call("DEL", KEYS[1])
			return false
		end
	end
	local max = rec["maxViews"]
	if max == nil or max == cjson.null then
		return raw
	end
	local remaining = rec["remainingViews"]
	if remaining == nil or remaining == cjson.null then
		return raw
	end
	remaining = tonumber(remaining)
	if remaining <= 0 then
		return false
	end
	rec["remainingViews"] = remaining - 1
	local out = cjson.encode(rec)
	redis.call("SET", KEYS[1], out, "KEEPTTL")
	return out
`)

var rateScript = redis.NewScript(`
	local current = redis.call("GET", KEYS[1])
	if current == false then
		current = 0
	else
		current = tonumber(current)
	end
	if current >= tonumber(ARGV[2]) then
		return current + 1
	end
	local new_val = redis.call("INCR", KEYS[1])
	if new_val == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return new_val
`)

type Redis struct {
	client  redis.UniversalClient
	timeout time.Duration
}

func NewRedis(url string, c *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	// Transient failures surface to the caller as BackendUnavailable.
	opt.MaxRetries = -1
	if c.RedisTLS {
		tlsConfig, err := buildRedisTLSConfig(c.Environment)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build Redis TLS config")
		}
		opt.TLSConfig = tlsConfig
	}
	if c.RedisUsername != "" {
		opt.Username = c.RedisUsername
	}
	if c.RedisPassword.Value() != "" {
		opt.Password = c.RedisPassword.Value()
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return NewRedisFromClient(client, c.RedisTimeout), nil
}

// NewRedisFromClient wraps an existing client, e.g. a cluster or ring client.
func NewRedisFromClient(client redis.UniversalClient, timeout time.Duration) *Redis {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Redis{client: client, timeout: timeout}
}

func buildRedisTLSConfig(env string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if host := os.Getenv("REDIS_HOSTNAME"); host != "" {
		tlsConfig.ServerName = host
	}
	certPath := os.Getenv("REDIS_TLS_CA_CERT")
	if certPath != "" {
		caCert, err := os.ReadFile(certPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read Redis CA cert: %w", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append Redis CA cert to pool")
		}
		tlsConfig.RootCAs = certPool
		return tlsConfig, nil
	}
	systemPool, err := x509.SystemCertPool()
	if err != nil {
		return nil, fmt.Errorf("failed to load system cert pool: %w", err)
	}
	tlsConfig.RootCAs = systemPool
	if env != "production" && os.Getenv("REDIS_TLS_INSECURE") == "true" {
		tlsConfig.InsecureSkipVerify = true
	}
	return tlsConfig, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get")
	}
	return data, nil
}

// Set writes val; ttl == 0 stores the key without expiry.
func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return errors.Wrap(r.client.Set(ctx, key, val, ttl).Err(), "set")
}

func (r *Redis) SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ok, err := r.client.SetNX(ctx, key, val, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "setnx")
	}
	return ok, nil
}

func (r *Redis) Del(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrap(err, "del")
	}
	return nil
}

// ConsumeView runs the atomic consume. A nil result means absent, expired
// or exhausted.
func (r *Redis) ConsumeView(ctx context.Context, key string, now time.Time) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := consumeScript.Run(ctx, r.client, []string{key}, strconv.FormatInt(now.UnixMilli(), 10)).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "consume lua")
	}
	return []byte(data), nil
}

// RateLimit bumps a fixed-window counter and returns the usage so far.
func (r *Redis) RateLimit(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	usage, err := rateScript.Run(ctx, r.client, []string{key}, int(window.Milliseconds()), limit).Int()
	if err != nil {
		return 0, errors.Wrap(err, "rate limit lua")
	}
	return usage, nil
}

func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
