package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"pastelink/cfg"
	"pastelink/svc/api"
	"pastelink/svc/db"
	"pastelink/svc/lim"
	"pastelink/svc/store"
	"pastelink/svc/util"
)

func main() {
	util.InitLog("info", false)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		util.Warn().Err(err).Msg("failed to read .env")
	}
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(healthcheck())
	}

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Str("environment", c.Environment).Msg("starting pastelink")
	if c.TestMode {
		util.Warn().Str("header", util.TestNowHeader).Msg("test mode enabled, request clock can be overridden")
	}

	var (
		kv      store.Backend
		counter lim.Counter
	)
	if c.RedisURL != "" {
		rdb, err := db.NewRedis(c.RedisURL, c)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to connect to redis")
			os.Exit(1)
		}
		defer rdb.Close()
		kv, counter = rdb, rdb
		util.Info().Bool("tls", c.RedisTLS).Msg("redis connected")
	} else {
		mem, err := db.NewMemory(c.MemoryStoreSize)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to create memory store")
			os.Exit(1)
		}
		kv = mem
		util.Warn().Int("size", c.MemoryStoreSize).Msg("REDIS_URL not set, pastes are kept in memory only")
	}

	pastes := store.New(kv, store.Options{
		BaseURL:   c.AppURL,
		KeyPrefix: c.KeyPrefix,
		Atomic:    c.AtomicViews,
	})
	util.Info().
		Str("key_prefix", c.KeyPrefix).
		Bool("atomic_views", pastes.Atomic()).
		Msg("paste store initialized")

	limiter, err := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, counter, c.TrustedProxies)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create rate limiter")
		os.Exit(1)
	}
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Bool("shared", counter != nil).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	server := api.NewServer(c, pastes, limiter)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		util.Info().Msg("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		util.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	util.Info().Msg("shutdown complete")
}

// healthcheck probes the local /api/healthz endpoint for container
// health checks.
func healthcheck() int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://127.0.0.1:" + port + "/api/healthz")
	if err != nil {
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
