// Command server runs the agent reputation engine: score aggregation,
// leaderboard, live event fanout, and policy-gated wallet execution behind
// one HTTP surface.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	agentstore "arp/internal/agent/store"
	"arp/internal/events"
	"arp/internal/fanout"
	httpapi "arp/internal/http"
	"arp/internal/platform/config"
	"arp/internal/platform/httpserver"
	"arp/internal/platform/logger"
	platformredis "arp/internal/platform/redis"
	"arp/internal/policy"
	policystore "arp/internal/policy/store"
	"arp/internal/policy/submitter"
	"arp/internal/ranking"
	"arp/internal/ratelimit"
	rlstore "arp/internal/ratelimit/store"
	"arp/internal/score"

	agenthandler "arp/internal/agent/handler"
	policyhandler "arp/internal/policy/handler"
)

const spendLedgerRetention = 48 * time.Hour

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx := context.Background()
	var health []httpapi.HealthCheck

	// Durable stores: Postgres when configured, otherwise in-memory.
	var (
		agents agentstore.AgentStore
		txs    agentstore.TransactionStore
		pols   policystore.PolicyStore
	)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return err
		}
		pg := agentstore.NewPostgres(pool)
		agents, txs = pg, pg
		pols = policystore.NewPostgresPolicies(pool)
		health = append(health, httpapi.HealthCheck{Name: "postgres", Check: pool.Ping})
		log.Info("using postgres stores")
	} else {
		mem := agentstore.NewInMemory()
		agents, txs = mem, mem
		pols = policystore.NewInMemoryPolicies()
		log.Info("using in-memory stores")
	}

	// Admission counters: Redis when configured, otherwise process-local.
	var buckets rlstore.BucketStore = rlstore.NewInMemory()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		buckets = rlstore.NewRedis(redisClient.Client)
		health = append(health, httpapi.HealthCheck{Name: "redis", Check: redisClient.Health})
		log.Info("using redis rate-limit counters")
	}

	publisher, err := events.NewPublisher(cfg.Kafka.Brokers, log)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
		log.Info("kafka event stream enabled", "brokers", cfg.Kafka.Brokers)
	}

	index := ranking.New()
	hub := fanout.NewHub(log, fanout.DefaultBuffer)

	sinks := []score.Sink{hub}
	if publisher != nil {
		sinks = append(sinks, publisher)
	}
	scores := score.NewService(agents, txs, index, log, cfg.Scoring, sinks...)

	// The index is a cache of the durable store; rebuild before serving.
	if err := index.Rebuild(ctx, agents); err != nil {
		return err
	}
	log.Info("ranking index rebuilt", "agents", index.Len())

	var sub policy.Submitter = submitter.Loopback{}
	if cfg.Executor.URL != "" {
		sub = submitter.NewHTTP(cfg.Executor.URL, cfg.Executor.APIKey)
		log.Info("using external execution backend", "url", cfg.Executor.URL)
	}
	executor := policy.NewExecutor(
		pols,
		policystore.NewInMemorySpendLedger(spendLedgerRetention),
		sub,
		scores,
		log,
		cfg.Policy,
	)

	limiter := ratelimit.NewLimiter(buckets, cfg.RateLimit)
	admission := ratelimit.NewMiddleware(limiter, log, ratelimit.WithDisabled(cfg.RateLimitDisabled))

	router := httpapi.New(httpapi.Deps{
		Agents:    agenthandler.New(scores, index, log),
		Policy:    policyhandler.New(executor, log),
		Fanout:    fanout.NewHandler(hub, log, cfg.WSAllowedOrigins),
		Admission: admission,
		Health:    health,
	})

	srv := httpserver.New(cfg.Server.Addr, router)
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
