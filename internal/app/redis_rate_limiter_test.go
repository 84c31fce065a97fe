package app

import (
	"context"
	"testing"
	"time"
)

func TestRedisRateLimiter_DisabledPathsAllow(t *testing.T) {
	var nilLimiter *RedisRateLimiter

	tests := []struct {
		name    string
		limiter *RedisRateLimiter
		phone   string
	}{
		{name: "nil limiter", limiter: nilLimiter, phone: "+2348030000001"},
		{name: "nil client", limiter: NewRedisRateLimiter(nil, "ussd", 5, time.Minute), phone: "+2348030000001"},
		{name: "zero limit", limiter: NewRedisRateLimiter(nil, "ussd", 0, time.Minute), phone: "+2348030000001"},
		{name: "blank phone", limiter: NewRedisRateLimiter(nil, "ussd", 5, time.Minute), phone: " "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := tt.limiter.Allow(context.Background(), tt.phone)
			if err != nil || !decision.Allowed {
				t.Fatalf("expected request to be allowed, got %+v err=%v", decision, err)
			}
		})
	}
}

func TestNewRedisRateLimiter_Defaults(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "ussd", want: "ussd:rate_limit"},
		{prefix: "wallet:", want: "wallet:rate_limit"},
		{prefix: "", want: "ussd:rate_limit"},
	}
	for _, tt := range tests {
		limiter := NewRedisRateLimiter(nil, tt.prefix, 60, 10*time.Millisecond)
		if limiter.prefix != tt.want {
			t.Fatalf("prefix %q: expected %q, got %q", tt.prefix, tt.want, limiter.prefix)
		}
		if limiter.window != time.Second {
			t.Fatalf("expected window clamped to 1s, got %s", limiter.window)
		}
	}
}

func TestParseWindowReply(t *testing.T) {
	hits, remaining, err := parseWindowReply([]interface{}{int64(4), int64(35000)})
	if err != nil || hits != 4 || remaining != 35000 {
		t.Fatalf("expected (4, 35000), got (%d, %d) err=%v", hits, remaining, err)
	}

	bad := []interface{}{
		"OK",
		[]interface{}{int64(1)},
		[]interface{}{"1", int64(10)},
		[]interface{}{int64(1), "10"},
	}
	for _, raw := range bad {
		if _, _, err := parseWindowReply(raw); err == nil {
			t.Fatalf("expected error for %#v", raw)
		}
	}
}
