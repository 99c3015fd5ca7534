package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestAllowFailsOpenWhenRedisIsDown(t *testing.T) {
	// A port nothing listens on: every command errors immediately.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	limiter := NewLimiter(client)

	allowed, err := limiter.Allow(context.Background(), "reporter-pk", RuleReport)
	if err == nil {
		t.Error("expected a Redis error")
	}
	if !allowed {
		t.Error("limiter must fail open on Redis errors")
	}
}

func TestRuleReportShape(t *testing.T) {
	if RuleReport.Limit < 1 {
		t.Errorf("Limit = %d", RuleReport.Limit)
	}
	if RuleReport.Window < time.Minute {
		t.Errorf("Window = %s", RuleReport.Window)
	}
	if RuleReport.Key == "" {
		t.Error("empty key prefix")
	}
}
