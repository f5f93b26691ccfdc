package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by CONVICTION_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("CONVICTION_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

// DatabaseURL returns the Postgres connection string. Empty means the
// server runs on in-memory stores.
func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// ReasoningProvider returns the configured reasoning provider.
// Valid values: http, mock, none. Defaults to "none" (rule-based
// classification only).
func ReasoningProvider() string {
	p := os.Getenv("REASONING_PROVIDER")
	if p == "" {
		return "none"
	}
	return p
}

func ReasoningURL() string {
	return os.Getenv("REASONING_URL")
}

// BaselineConfidence is the confidence a fresh entity starts at.
func BaselineConfidence() float64 {
	v, err := strconv.ParseFloat(os.Getenv("BASELINE_CONFIDENCE"), 64)
	if err != nil || v < 0 || v >= 1 {
		return 0.20
	}
	return v
}

// ConfidenceCeiling is the asymptotic upper bound for entity confidence.
func ConfidenceCeiling() float64 {
	v, err := strconv.ParseFloat(os.Getenv("CONFIDENCE_CEILING"), 64)
	if err != nil || v <= 0 || v > 1 {
		return 0.95
	}
	return v
}

func AcceptDelta() float64 {
	v, err := strconv.ParseFloat(os.Getenv("ACCEPT_DELTA"), 64)
	if err != nil || v <= 0 {
		return 0.06
	}
	return v
}

func WeakAcceptDelta() float64 {
	v, err := strconv.ParseFloat(os.Getenv("WEAK_ACCEPT_DELTA"), 64)
	if err != nil || v <= 0 {
		return 0.02
	}
	return v
}

// SampleSize is the number of entities sampled per exploration phase.
func SampleSize() int {
	n, err := strconv.Atoi(os.Getenv("SAMPLE_SIZE"))
	if err != nil || n <= 0 {
		return 7
	}
	return n
}

// ReplicationDiscount is subtracted from a source pattern's confidence
// when seeding it onto a new entity.
func ReplicationDiscount() float64 {
	v, err := strconv.ParseFloat(os.Getenv("REPLICATION_DISCOUNT"), 64)
	if err != nil || v < 0 || v >= 1 {
		return 0.10
	}
	return v
}

// MaxConcurrentEntities bounds parallel entity exploration.
func MaxConcurrentEntities() int {
	n, err := strconv.Atoi(os.Getenv("MAX_CONCURRENT_ENTITIES"))
	if err != nil || n <= 0 {
		return 8
	}
	return n
}

// CacheMaxBytes bounds the hypothesis cache. Defaults to 100MB.
func CacheMaxBytes() int64 {
	n, err := strconv.ParseInt(os.Getenv("CACHE_MAX_BYTES"), 10, 64)
	if err != nil || n <= 0 {
		return 100 << 20
	}
	return n
}

// CacheTTL returns the hypothesis cache entry lifetime.
// Defaults to 60 minutes.
func CacheTTL() time.Duration {
	mins, err := strconv.Atoi(os.Getenv("CACHE_TTL_MINUTES"))
	if err != nil || mins <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(mins) * time.Minute
}

// BindingFreezeAfter returns how long a promoted binding may sit unused
// before the drift sweep freezes it. Defaults to 90 days.
func BindingFreezeAfter() time.Duration {
	days, err := strconv.Atoi(os.Getenv("BINDING_FREEZE_DAYS"))
	if err != nil || days <= 0 {
		return 90 * 24 * time.Hour
	}
	return time.Duration(days) * 24 * time.Hour
}

// EIGLambda is the temporal decay rate applied to hypothesis ranking.
func EIGLambda() float64 {
	v, err := strconv.ParseFloat(os.Getenv("EIG_LAMBDA"), 64)
	if err != nil || v <= 0 {
		return 0.015
	}
	return v
}
