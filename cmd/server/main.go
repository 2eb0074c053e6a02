package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cajaflow/backend/internal/cache"
	"cajaflow/backend/internal/cashcut"
	"cajaflow/backend/internal/config"
	"cajaflow/backend/internal/httpapi"
	"cajaflow/backend/internal/metrics"
	"cajaflow/backend/internal/notify"
	"cajaflow/backend/internal/schedule"
	"cajaflow/backend/internal/service"
	"cajaflow/backend/internal/store"
	"cajaflow/backend/internal/store/memory"
	pgstore "cajaflow/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	responseCache := cache.OrderResponseCache(cache.NoopOrderResponseCache{})
	notifier := notify.Notifier(notify.NoopNotifier{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisOrderResponseCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache and notifier", err)
		} else {
			responseCache = redisCache
			closers = append(closers, redisCache.Close)
			redisNotifier := notify.NewRedisNotifier(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			notifier = redisNotifier
			closers = append(closers, redisNotifier.Close)
			log.Println("cache: redis, notifier: redis")
		}
	} else {
		log.Println("cache: noop, notifier: noop")
	}

	reg := metrics.NewRegistry()

	svc := service.New(repo, responseCache, notifier, reg, cfg.IdempotencyTTL())
	engine := cashcut.NewEngine(repo, notifier, reg, cashcut.Options{
		KeyTTL:         cfg.IdempotencyTTL(),
		ManualLookback: cfg.ManualLookback(),
		WaitTimeout:    cfg.OpWaitTimeout(),
		PurgeAfter:     cfg.InFlightPurge(),
		CutInterval:    cfg.CutInterval(),
	})
	runner := schedule.New(engine, repo, reg, cfg.CutInterval(), cfg.SweepInterval())
	runner.Start()

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, engine, auth, cfg.AllowedOrigin, reg.Handler())

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("ledger backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	runner.Stop()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
