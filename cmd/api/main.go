package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/haxaco/payos-sub010/internal/api"
	"github.com/haxaco/payos-sub010/internal/capabilities"
	"github.com/haxaco/payos-sub010/internal/checkout"
	"github.com/haxaco/payos-sub010/internal/config"
	"github.com/haxaco/payos-sub010/internal/contextview"
	"github.com/haxaco/payos-sub010/internal/execution"
	"github.com/haxaco/payos-sub010/internal/facilitator"
	"github.com/haxaco/payos-sub010/internal/idempotency"
	"github.com/haxaco/payos-sub010/internal/mandate"
	"github.com/haxaco/payos-sub010/internal/metrics"
	"github.com/haxaco/payos-sub010/internal/middleware"
	"github.com/haxaco/payos-sub010/internal/simulation"
	"github.com/haxaco/payos-sub010/internal/store"
	"github.com/haxaco/payos-sub010/internal/webhooks"
)

func main() {
	// .env is a local-dev convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("PAYOS_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	log.Printf("⚙️  environment=%s port=%s", cfg.Environment, cfg.Port)

	// Persistence: memory in mock mode, Postgres everywhere else.
	var st store.Store
	if cfg.Environment == config.EnvMock {
		st = store.NewMemory()
		log.Printf("💾 using in-memory store")
	} else {
		pg, err := store.NewPostgres(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		st = pg
		log.Printf("💾 using postgres store")
	}

	// Idempotency: Redis when configured, memory otherwise.
	var idem idempotency.Store
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("❌ redis url: %v", err)
		}
		idem = idempotency.NewRedis(redis.NewClient(opts))
		log.Printf("🔑 idempotency backed by redis")
	} else {
		idem = idempotency.NewMemory()
	}

	fx := simulation.NewFXTable()
	engine := simulation.NewEngine(st, cfg, fx, nil)
	gate := execution.NewGate(st, engine)

	m := metrics.NewMetrics()
	webhookReg := webhooks.NewRegistry()
	dispatcher := webhooks.NewDispatcher(webhookReg, 4, m)

	server := api.NewServer(api.Deps{
		Config:      cfg,
		Store:       st,
		Engine:      engine,
		Gate:        gate,
		Mandates:    mandate.NewService(st),
		Checkouts:   checkout.NewService(st),
		Aggregator:  contextview.NewAggregator(st),
		Cache:       contextview.NewCache(),
		Caps:        capabilities.NewRegistry(cfg),
		Facilitator: facilitator.New(facilitator.Options{SettleDelay: 500 * time.Millisecond}),
		Idempotency: idem,
		WebhookReg:  webhookReg,
		Emitter:     dispatcher,
		Metrics:     m,
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimitConfig{}),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("❌ server: %v", err)
	case sig := <-stop:
		log.Printf("🛑 received %s, draining", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("⚠️  shutdown: %v", err)
		}
	}
}
