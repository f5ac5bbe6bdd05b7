package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP server
	HTTPHost string
	HTTPPort int

	// Storage
	StorePath string

	// The Odds API (historical snapshots)
	OddsAPIKey  string
	OddsBaseURL string
	OddsSport   string // e.g. "basketball_ncaab"
	OddsRegions string

	// Reconciliation
	MaxSnapshots  int
	SnapshotDelay time.Duration

	// Qualifier times arrive as Eastern display times ("7:35 PM ET").
	Timezone string

	// Shared secret required on mutating routes. Empty disables the check.
	AccessCode string

	// Telemetry
	LogLevel string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPHost: envStr("COURTSIDE_HTTP_HOST", "0.0.0.0"),
		HTTPPort: envInt("COURTSIDE_HTTP_PORT", 8090),

		StorePath: envStr("COURTSIDE_STORE_PATH", "data/courtside.db"),

		OddsAPIKey:  envStr("ODDS_API_KEY", ""),
		OddsBaseURL: envStr("ODDS_API_BASE_URL", "https://api.the-odds-api.com"),
		OddsSport:   envStr("ODDS_API_SPORT", "basketball_ncaab"),
		OddsRegions: envStr("ODDS_API_REGIONS", "us"),

		// The historical endpoint is a linked list of snapshots; the cap
		// bounds a runaway walk and the delay respects the feed rate limit.
		MaxSnapshots:  envInt("ODDS_MAX_SNAPSHOTS", 100),
		SnapshotDelay: time.Duration(envInt("ODDS_SNAPSHOT_DELAY_MS", 100)) * time.Millisecond,

		Timezone: envStr("COURTSIDE_TZ", "America/New_York"),

		AccessCode: envStr("COURTSIDE_ACCESS_CODE", ""),

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
