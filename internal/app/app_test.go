package app

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/nulpointcorp/anthropic-go/internal/config"
	"github.com/nulpointcorp/anthropic-go/internal/mockapi"
	"github.com/nulpointcorp/anthropic-go/pkg/apierr"
	"github.com/nulpointcorp/anthropic-go/pkg/client"
	"github.com/nulpointcorp/anthropic-go/pkg/messages"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		APIKey:     "sk-test",
		BaseURL:    baseURL,
		APIVersion: "2023-06-01",
		Timeout:    5 * time.Second,
		LogLevel:   "info",
		Cache:      config.CacheConfig{Mode: "none", TTL: time.Hour},
		CircuitBreaker: config.CircuitBreakerConfig{
			ErrorThreshold:  5,
			TimeWindow:      time.Minute,
			HalfOpenTimeout: 30 * time.Second,
		},
	}
}

func deterministic(t *testing.T, prompt string) messages.Request {
	t.Helper()
	req, err := messages.NewBuilder("claude-sonnet-4-5", []messages.Message{messages.UserText(prompt)}, 32).
		Temperature(0).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return req
}

func TestNew_NilContext(t *testing.T) {
	var ctx context.Context
	if _, err := New(ctx, testConfig("http://unused"), nil, "test"); err == nil {
		t.Fatal("expected error for nil context")
	}
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.Cache.Mode = "redis"
	cfg.Redis.URL = "redis://127.0.0.1:1"

	_, err := New(context.Background(), cfg, nil, "test")
	if err == nil || !strings.Contains(err.Error(), "init infra") {
		t.Fatalf("err = %v", err)
	}
}

func TestRun_CacheLimiterAndCallLog(t *testing.T) {
	mock := mockapi.New(mockapi.Config{APIKey: "sk-test"})
	upstream := httptest.NewServer(mock)
	t.Cleanup(upstream.Close)

	mr := miniredis.RunT(t)

	cfg := testConfig(upstream.URL)
	cfg.Cache.Mode = "redis"
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.RateLimit.RPMLimit = 2

	var logs bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&logs, nil))

	a, err := New(context.Background(), cfg, log, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = a.Run(context.Background(), func(ctx context.Context, c *client.Client) error {
		first, err := c.Call(ctx, deterministic(t, "2+2?"))
		if err != nil {
			return err
		}
		again, err := c.Call(ctx, deterministic(t, "2+2?"))
		if err != nil {
			return err
		}
		if again.ID != first.ID {
			t.Errorf("cache miss: %s != %s", again.ID, first.ID)
		}

		if _, err := c.Call(ctx, deterministic(t, "3+3?")); err != nil {
			return err
		}
		_, err = c.Call(ctx, deterministic(t, "4+4?"))
		if !apierr.IsKind(err, apierr.KindRateLimited) {
			t.Errorf("fourth call: err = %v, want rate_limited", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := mock.Requests(); got != 2 {
		t.Fatalf("upstream requests = %d, want 2", got)
	}

	a.Close()
	a.Close()

	if n := strings.Count(logs.String(), `"msg":"call"`); n != 4 {
		t.Fatalf("call log entries = %d, want 4\n%s", n, logs.String())
	}
}

func TestRun_PropagatesCallbackError(t *testing.T) {
	a, err := New(context.Background(), testConfig("http://unused"), nil, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	want := apierr.New(apierr.KindInvalidRequest, "boom")
	got := a.Run(context.Background(), func(context.Context, *client.Client) error { return want })
	if got != want {
		t.Fatalf("Run = %v, want %v", got, want)
	}
}

func TestRedactURL(t *testing.T) {
	cases := map[string]string{
		"redis://:secret@localhost:6379":  "redis://***@localhost:6379",
		"clickhouse://user:pw@ch:9000/db": "clickhouse://***@ch:9000/db",
		"redis://localhost:6379":          "redis://localhost:6379",
	}
	for in, want := range cases {
		if got := redactURL(in); got != want {
			t.Errorf("redactURL(%q) = %q, want %q", in, got, want)
		}
	}
}
