// Command anthropic runs a lightweight HTTP server that simulates the
// Messages API (POST /v1/messages, JSON and SSE). It is used for E2E and load
// testing without real credentials.
//
// Environment:
//
//	PORT                listen port (default 19002)
//	MOCK_API_KEY        when set, x-api-key must match
//	MOCK_LATENCY_MS     artificial latency added to every response (default 0)
//	MOCK_ERROR_RATE     fraction [0,1] of requests answered with 529 (default 0)
//	MOCK_STREAM_WORDS   words per generated reply (default 10)
//	MOCK_FRAGMENT       characters per streamed text delta (default 8)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nulpointcorp/anthropic-go/internal/mockapi"
)

func loadConfig() mockapi.Config {
	c := mockapi.Config{Words: 10, APIKey: os.Getenv("MOCK_API_KEY")}

	if v := os.Getenv("MOCK_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Latency = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("MOCK_ERROR_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.ErrorRate = f
		}
	}
	if v := os.Getenv("MOCK_STREAM_WORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Words = n
		}
	}
	if v := os.Getenv("MOCK_FRAGMENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Fragment = n
		}
	}
	return c
}

func portFromEnv(key string, defaultPort int) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return strconv.Itoa(defaultPort)
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := loadConfig()
	addr := ":" + portFromEnv("PORT", 19002)

	log.Info("starting mock messages api",
		slog.String("addr", addr),
		slog.Duration("latency", cfg.Latency),
		slog.Float64("error_rate", cfg.ErrorRate),
		slog.Int("words", cfg.Words),
	)

	h := mockapi.New(cfg)
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Print readiness
	fmt.Println("READY")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)

	log.Info("mock messages api stopped", slog.Int64("requests", h.Requests()))
}
