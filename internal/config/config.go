package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Cache TTL bounds. Admin updates and env overrides are clamped into these
// ranges so a typo cannot pin results forever or thrash the providers.
const (
	PositiveTTLDefault = 24 * time.Hour
	PositiveTTLMin     = 60 * time.Second
	PositiveTTLMax     = 7 * 24 * time.Hour

	NegativeTTLDefault = 6 * time.Hour
	NegativeTTLMin     = 30 * time.Second
	NegativeTTLMax     = 24 * time.Hour
)

// Config carries everything the engine reads from the environment. Provider
// credentials are optional: an adapter with no key still runs and reports
// verdict=unknown, so a partially configured deployment degrades gracefully
// instead of failing at startup.
type Config struct {
	DatabaseURL string
	Port        string

	VirusTotalAPIKey        string
	URLScanAPIKey           string
	FlashpointAPIKey        string
	FlashpointBaseURL       string
	RecordedFutureAPIKey    string
	CrowdStrikeClientID     string
	CrowdStrikeClientSecret string

	CachePositiveTTL time.Duration
	CacheNegativeTTL time.Duration

	// EnrichConcurrency bounds per-IOC parallelism inside one job.
	// 1 keeps progress updates strictly ordered.
	EnrichConcurrency int

	APIAuthToken   string
	AllowedOrigins string
}

// Load reads a local .env when present, then the environment. It never
// aborts on missing provider credentials.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("[Config] Loaded environment from .env")
	}

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Port:        getEnvOrDefault("PORT", "8080"),

		VirusTotalAPIKey:        os.Getenv("VIRUSTOTAL_API_KEY"),
		URLScanAPIKey:           os.Getenv("URLSCAN_API_KEY"),
		FlashpointAPIKey:        os.Getenv("FLASHPOINT_API_KEY"),
		FlashpointBaseURL:       getEnvOrDefault("FLASHPOINT_BASE_URL", "https://fp.tools/api/v4"),
		RecordedFutureAPIKey:    os.Getenv("RECORDED_FUTURE_API_KEY"),
		CrowdStrikeClientID:     os.Getenv("CROWDSTRIKE_CLIENT_ID"),
		CrowdStrikeClientSecret: os.Getenv("CROWDSTRIKE_CLIENT_SECRET"),

		CachePositiveTTL: clampTTL(envSeconds("CACHE_POSITIVE_TTL_SECONDS", PositiveTTLDefault), PositiveTTLMin, PositiveTTLMax),
		CacheNegativeTTL: clampTTL(envSeconds("CACHE_NEGATIVE_TTL_SECONDS", NegativeTTLDefault), NegativeTTLMin, NegativeTTLMax),

		EnrichConcurrency: envInt("ENRICH_CONCURRENCY", 1),

		APIAuthToken:   os.Getenv("API_AUTH_TOKEN"),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
	}

	if cfg.EnrichConcurrency < 1 {
		cfg.EnrichConcurrency = 1
	}

	for name, key := range map[string]string{
		"VirusTotal":      cfg.VirusTotalAPIKey,
		"URLScan":         cfg.URLScanAPIKey,
		"Flashpoint":      cfg.FlashpointAPIKey,
		"Recorded Future": cfg.RecordedFutureAPIKey,
		"CrowdStrike":     cfg.CrowdStrikeClientID,
	} {
		if key == "" {
			log.Printf("[Config] %s credentials not configured; adapter will return unknown verdicts", name)
		}
	}

	return cfg
}

// ClampPositiveTTL bounds a requested positive TTL into [60s, 7d].
func ClampPositiveTTL(d time.Duration) time.Duration {
	return clampTTL(d, PositiveTTLMin, PositiveTTLMax)
}

// ClampNegativeTTL bounds a requested negative TTL into [30s, 24h].
func ClampNegativeTTL(d time.Duration) time.Duration {
	return clampTTL(d, NegativeTTLMin, NegativeTTLMax)
}

func clampTTL(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("[Config] Invalid %s=%q, using default", key, raw)
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("[Config] Invalid %s=%q, using default", key, raw)
		return fallback
	}
	return n
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
