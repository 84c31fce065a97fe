package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// rateWindowScript increments the caller's counter, starting the window on the first hit,
// and returns the count together with the milliseconds left in the window.
var rateWindowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local remaining = redis.call("PTTL", KEYS[1])
if remaining < 0 then
  remaining = tonumber(ARGV[1])
end
return {hits, remaining}
`)

// RateDecision is the verdict for one request.
type RateDecision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// RateLimiter throttles gateway requests per phone number.
type RateLimiter interface {
	Allow(ctx context.Context, phone string) (RateDecision, error)
}

// RedisRateLimiter counts requests per phone in a fixed window shared by every replica.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "ussd"
	}
	if window < time.Second {
		window = time.Second
	}
	return &RedisRateLimiter{
		client: client,
		prefix: trimmed + ":rate_limit",
		limit:  limit,
		window: window,
	}
}

// Allow records one request for phone. A limiter without a client or a positive limit
// allows everything.
func (r *RedisRateLimiter) Allow(ctx context.Context, phone string) (RateDecision, error) {
	subject := strings.TrimSpace(phone)
	if r == nil || r.client == nil || r.limit <= 0 || subject == "" {
		return RateDecision{Allowed: true}, nil
	}

	key := r.prefix + ":" + subject
	raw, err := rateWindowScript.Run(ctx, r.client, []string{key}, r.window.Milliseconds()).Result()
	if err != nil {
		return RateDecision{}, err
	}
	hits, remainingMs, err := parseWindowReply(raw)
	if err != nil {
		return RateDecision{}, err
	}

	decision := RateDecision{Allowed: hits <= int64(r.limit), Count: int(hits)}
	if !decision.Allowed {
		decision.RetryAfter = time.Duration(remainingMs) * time.Millisecond
		if decision.RetryAfter < time.Second {
			decision.RetryAfter = time.Second
		}
	}
	return decision, nil
}

func parseWindowReply(raw interface{}) (hits int64, remainingMs int64, err error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limiter reply: %T", raw)
	}
	if hits, ok = values[0].(int64); !ok {
		return 0, 0, fmt.Errorf("unexpected rate limiter count: %T", values[0])
	}
	if remainingMs, ok = values[1].(int64); !ok {
		return 0, 0, fmt.Errorf("unexpected rate limiter ttl: %T", values[1])
	}
	return hits, remainingMs, nil
}
