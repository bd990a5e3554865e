package config

import (
	"os"
	"strconv"
	"time"

	"orderflow-engine/internal/footprint"
)

// Config holds all configuration for the orderflow engine.
type Config struct {
	// Server
	Port string

	// CORS / rate limiting for the thin adapter surface
	RateLimitRPS   int
	RateLimitBurst int

	// Upstream market-data credentials
	UpstreamWSURL    string
	UpstreamAPIBase  string
	UpstreamToken    string
	UpstreamClientID string

	// Footprint engine tuning (spec.md §6)
	CandleSeconds        int
	ImbalanceRatio       float64
	MaxCandlesPerSymbol  int
	BroadcastCandleLimit int
	MaxLevelsPerCandle   int
	MaxEngines           int
	GCIntervalTicks      int
	BroadcastMinInterval time.Duration

	// OI poller
	OIPollInterval time.Duration

	// Snapshot store
	SnapshotDir string

	// Optional Redis cache for OI poll responses (domain stack addition)
	RedisAddr string
}

// Load reads configuration from the environment, falling back to the
// defaults spec.md §6 documents.
func Load() *Config {
	candleSeconds := getEnvAsInt("CANDLE_SECONDS", 60)
	if !footprint.CandleSecondsOptions[candleSeconds] {
		candleSeconds = 60
	}

	return &Config{
		Port:           getEnv("PORT", "8080"),
		RateLimitRPS:   getEnvAsInt("RATE_LIMIT_REQUESTS_PER_SECOND", 10),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 20),

		UpstreamWSURL:    getEnv("UPSTREAM_WS_URL", "wss://api-feed.broker.example"),
		UpstreamAPIBase:  getEnv("UPSTREAM_API_BASE", "https://api.broker.example/v2"),
		UpstreamToken:    getEnv("UPSTREAM_ACCESS_TOKEN", ""),
		UpstreamClientID: getEnv("UPSTREAM_CLIENT_ID", ""),

		CandleSeconds:        candleSeconds,
		ImbalanceRatio:       getEnvAsFloat("IMBALANCE_RATIO", 3.0),
		MaxCandlesPerSymbol:  getEnvAsInt("MAX_CANDLES_PER_SYMBOL", 1000),
		BroadcastCandleLimit: getEnvAsInt("BROADCAST_CANDLES_LIMIT", 1000),
		MaxLevelsPerCandle:   getEnvAsInt("MAX_LEVELS_PER_CANDLE", 500),
		MaxEngines:           getEnvAsInt("MAX_ENGINES", 1000),
		GCIntervalTicks:      getEnvAsInt("GC_INTERVAL_TICKS", 10000),
		BroadcastMinInterval: getEnvAsDuration("BROADCAST_MIN_INTERVAL", 100*time.Millisecond),

		OIPollInterval: getEnvAsDuration("OI_POLL_SEC", 10*time.Second),

		SnapshotDir: getEnv("SNAPSHOT_DIR", "/data/snapshots"),

		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsDuration treats the raw env value as a count of the unit implied
// by the variable name (seconds unless the key ends in _MS, milliseconds).
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	if len(key) > 3 && key[len(key)-3:] == "_MS" {
		return time.Duration(f * float64(time.Millisecond))
	}
	return time.Duration(f * float64(time.Second))
}
