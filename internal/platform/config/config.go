// Package config builds the process configuration from environment variables
// so main stays lean. Every scoring and policy parameter is explicit; there
// are no hidden constants.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"arp/internal/policy"
	"arp/internal/ratelimit"
	"arp/internal/ratelimit/models"
	"arp/internal/score"
)

// Config is the full process configuration.
type Config struct {
	Server    Server
	Postgres  Postgres
	Redis     Redis
	Kafka     Kafka
	Executor  Executor
	Scoring   score.Config
	RateLimit ratelimit.Config
	Policy    policy.Config
	// WSAllowedOrigins lists browser origins admitted to the event stream.
	WSAllowedOrigins []string
	// RateLimitDisabled turns admission control off for demos and tests.
	RateLimitDisabled bool
	LogLevel          string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Postgres captures the durable store connection. An empty URL selects the
// in-memory stores.
type Postgres struct {
	URL string
}

// Redis captures the shared rate-limit counter store. An empty URL selects
// the in-memory bucket store.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka captures the event stream brokers. An empty list disables the stream.
type Kafka struct {
	Brokers []string
}

// Executor captures the external transaction execution backend. An empty URL
// selects the loopback submitter.
type Executor struct {
	URL    string
	APIKey string
}

// FromEnv builds the configuration from environment variables, with working
// development defaults.
func FromEnv() Config {
	scoring := score.DefaultConfig()
	scoring.StakeFactor = envFloat("ARP_SCORE_STAKE_FACTOR", scoring.StakeFactor)
	scoring.SeedCap = envFloat("ARP_SCORE_SEED_CAP", scoring.SeedCap)
	scoring.RatingWeight = envFloat("ARP_SCORE_RATING_WEIGHT", scoring.RatingWeight)
	scoring.TxWeight = envFloat("ARP_SCORE_TX_WEIGHT", scoring.TxWeight)
	scoring.InternalCap = envFloat("ARP_SCORE_INTERNAL_CAP", scoring.InternalCap)
	scoring.InternalWeight = envFloat("ARP_SCORE_INTERNAL_WEIGHT", scoring.InternalWeight)
	scoring.ExternalWeight = envFloat("ARP_SCORE_EXTERNAL_WEIGHT", scoring.ExternalWeight)
	scoring.EstablishedAt = envInt("ARP_TIER_ESTABLISHED_AT", scoring.EstablishedAt)
	scoring.TrustedAt = envInt("ARP_TIER_TRUSTED_AT", scoring.TrustedAt)
	scoring.EliteAt = envInt("ARP_TIER_ELITE_AT", scoring.EliteAt)
	scoring.SlashFraction = envFloat("ARP_SLASH_FRACTION", scoring.SlashFraction)

	limits := ratelimit.DefaultConfig()
	limits.Read = classConfig("ARP_RATELIMIT_READ", limits.Read)
	limits.Write = classConfig("ARP_RATELIMIT_WRITE", limits.Write)
	limits.Execute = classConfig("ARP_RATELIMIT_EXECUTE", limits.Execute)

	return Config{
		Server: Server{
			Addr:            envStr("ARP_ADDR", ":8080"),
			ShutdownTimeout: envDuration("ARP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Postgres: Postgres{URL: envStr("ARP_POSTGRES_URL", "")},
		Redis: Redis{
			URL:          envStr("ARP_REDIS_URL", ""),
			PoolSize:     envInt("ARP_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("ARP_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("ARP_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("ARP_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("ARP_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{Brokers: envList("ARP_KAFKA_BROKERS")},
		Executor: Executor{
			URL:    envStr("ARP_EXECUTOR_URL", ""),
			APIKey: envStr("ARP_EXECUTOR_API_KEY", ""),
		},
		Scoring:   scoring,
		RateLimit: limits,
		Policy: policy.Config{
			SubmitTimeout:      envDuration("ARP_SUBMIT_TIMEOUT", 30*time.Second),
			DefaultPerTxLimit:  envFloat("ARP_POLICY_DEFAULT_PER_TX_LIMIT", 0),
			DefaultPeriodLimit: envFloat("ARP_POLICY_DEFAULT_PERIOD_LIMIT", 0),
			DefaultPeriod:      envDuration("ARP_POLICY_DEFAULT_PERIOD", 24*time.Hour),
		},
		WSAllowedOrigins:  envList("ARP_WS_ALLOWED_ORIGINS"),
		RateLimitDisabled: envBool("ARP_RATELIMIT_DISABLED", false),
		LogLevel:          envStr("ARP_LOG_LEVEL", "info"),
	}
}

func classConfig(prefix string, def models.ClassConfig) models.ClassConfig {
	return models.ClassConfig{
		Limit:  envInt(prefix+"_LIMIT", def.Limit),
		Window: envDuration(prefix+"_WINDOW", def.Window),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
