package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/leadprobe/internal/catchall"
	"github.com/ignite/leadprobe/internal/config"
	"github.com/ignite/leadprobe/internal/extract"
	"github.com/ignite/leadprobe/internal/fallback"
	"github.com/ignite/leadprobe/internal/fetch"
	"github.com/ignite/leadprobe/internal/mxresolve"
	"github.com/ignite/leadprobe/internal/observability"
	"github.com/ignite/leadprobe/internal/pipeline"
	"github.com/ignite/leadprobe/internal/pkg/distlock"
	"github.com/ignite/leadprobe/internal/queue"
	"github.com/ignite/leadprobe/internal/ratelimit"
	"github.com/ignite/leadprobe/internal/smtpprobe"
	"github.com/ignite/leadprobe/internal/store"
	"github.com/ignite/leadprobe/internal/worker"
)

func main() {
	log.Println("Starting leadprobe worker...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Printf("failed to load config: %v", err)
		os.Exit(2)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Printf("failed to connect to database: %v", err)
		os.Exit(3)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())
	db.SetConnMaxIdleTime(1 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = db.PingContext(pingCtx)
	pingCancel()
	if err != nil {
		log.Printf("failed to ping database: %v", err)
		os.Exit(3)
	}
	log.Println("connected to database")

	redisClient := mustRedis(cfg.Redis.URL)
	defer redisClient.Close()

	st := store.New(db)
	workerID := hostnameOrDefault() + "-" + randSuffix()
	q := queue.New(db, workerID)
	limiter := ratelimit.New(redisClient)
	resolver := mxresolve.New(st, cfg.MXResolver.ResolverTimeout(), cfg.MXResolver.CacheTTL(), cfg.MXResolver.FreemailDenylist)
	prober := smtpprobe.New(cfg.SMTPProbe.EnableSTARTTLS)
	detector := catchall.New(prober, cfg.CatchAll.ProbeCount)
	extractor := extract.NewHeuristic()
	fetcher := fetch.New(fetch.Config{
		UserAgent:         cfg.Fetcher.UserAgent,
		Timeout:           cfg.Fetcher.Timeout(),
		MaxBodyBytes:      cfg.Fetcher.MaxBodyBytes,
		RespectRobots:     cfg.Fetcher.RespectRobots,
		DefaultCrawlDelay: time.Duration(cfg.Fetcher.DefaultCrawlDelayMS) * time.Millisecond,
		MaxRetries:        cfg.Fetcher.MaxRetries,
		RobotsTTL:         cfg.Fetcher.RobotsTTL(),
		RobotsDenyTTL:     cfg.Fetcher.RobotsDenyTTL(),
		CacheTTL:          cfg.Fetcher.CacheTTL(),
	})

	orchestrator := pipeline.New(st, q, limiter, cfg.Orchestrator)
	orchestrator.SetRecoverySweepLock(distlock.NewLock(redisClient, db, "leadprobe:recovery-sweep", 2*time.Minute))
	collector := observability.New(db, resolver.BehaviorCache(), q, 30*time.Second)

	stageWorker := worker.New(q, st, fetcher, extractor, resolver, prober, detector, limiter, worker.Config{
		NumWorkers:           4,
		BatchSize:            cfg.Queue.BatchSize,
		Lease:                cfg.Queue.Lease(),
		PollInterval:         cfg.Queue.PollIntervalMS,
		MaxCrawlPages:        cfg.Fetcher.CrawlMaxPagesPerDomain,
		MaxCrawlDepth:        cfg.Fetcher.CrawlMaxDepth,
		CatchAllTTL:          cfg.CatchAll.CacheTTL(),
		GlobalConcurrency:    cfg.RateLimiter.GlobalPerSecond,
		PerDomainConcurrency: cfg.SMTPProbe.MaxConcurrentPerDomain,
		PerMXConcurrency:     cfg.SMTPProbe.MaxConcurrentPerMX,
		Identity: smtpprobe.Identity{
			HeloDomain: cfg.SMTPProbe.HeloHostname,
			MailFrom:   cfg.SMTPProbe.MailFrom,
		},
		ProbeTimeouts: smtpprobe.Timeouts{
			Preflight: cfg.SMTPProbe.PreflightTimeout(),
			Connect:   cfg.SMTPProbe.ConnectTimeout(),
			Command:   cfg.SMTPProbe.CommandTimeout(),
		},
	})

	if cfg.FallbackProvider.Enabled() {
		stageWorker.SetFallbackProvider(fallback.NewHTTPProvider(
			cfg.FallbackProvider.URL, cfg.FallbackProvider.APIKey, cfg.Fetcher.MaxRetries))
		log.Println("fallback verification provider enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orchestrator.Start(ctx)
	collector.Start(ctx, nil)
	stageWorker.Start(ctx)
	log.Println("worker running...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down worker...")
	cancel()
	stageWorker.Stop()
	orchestrator.Stop()
	collector.Stop()
	log.Println("worker stopped")
}

func mustRedis(url string) *redis.Client {
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Printf("warning: could not parse REDIS_URL (%v), falling back to addr-only client", err)
		return redis.NewClient(&redis.Options{Addr: url})
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	return client
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "leadprobe-worker"
	}
	return h
}

func randSuffix() string {
	return time.Now().UTC().Format("150405.000")
}
