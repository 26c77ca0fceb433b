package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FILLSCOPE_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FILLSCOPE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). The unprefixed names used by earlier deployments are accepted as
// aliases; the prefixed name wins when both are set.
func applyEnvOverrides(cfg *Config) {
	// ── Databases ──
	setStr(&cfg.PolymarketDB.DSN, "DATABASE_URL_POLY") // compatibility alias
	applyDatabase(&cfg.PolymarketDB, "FILLSCOPE_POLYMARKET_DB")
	setStr(&cfg.PinnacleDB.DSN, "DATABASE_URL") // compatibility alias
	applyDatabase(&cfg.PinnacleDB, "FILLSCOPE_PINNACLE_DB")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "FILLSCOPE_REDIS_ENABLED")
	setStr(&cfg.Redis.URL, "FILLSCOPE_REDIS_URL")
	setStr(&cfg.Redis.Addr, "FILLSCOPE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FILLSCOPE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FILLSCOPE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FILLSCOPE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FILLSCOPE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FILLSCOPE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Channel, "FILLSCOPE_REDIS_CHANNEL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FILLSCOPE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FILLSCOPE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FILLSCOPE_S3_REGION")
	setStr(&cfg.S3.Bucket, "FILLSCOPE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FILLSCOPE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FILLSCOPE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FILLSCOPE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FILLSCOPE_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "FILLSCOPE_S3_PREFIX")

	// ── Dome ──
	setStr(&cfg.Dome.APIKey, "DOME_API_KEY") // compatibility alias
	setStr(&cfg.Dome.APIKey, "FILLSCOPE_DOME_API_KEY")
	setStr(&cfg.Dome.URL, "FILLSCOPE_DOME_URL")
	setStr(&cfg.Dome.Platform, "PLATFORM") // compatibility alias
	setStr(&cfg.Dome.Platform, "FILLSCOPE_DOME_PLATFORM")
	setInt(&cfg.Dome.Version, "WS_VERSION") // compatibility alias
	setInt(&cfg.Dome.Version, "FILLSCOPE_DOME_VERSION")
	if w := walletsFromEnv(); len(w) > 0 {
		cfg.Dome.Wallets = w
	}
	setStringSlice(&cfg.Dome.Wallets, "FILLSCOPE_DOME_WALLETS")
	setDuration(&cfg.Dome.ReconnectDelay, "FILLSCOPE_DOME_RECONNECT_DELAY")
	setInt(&cfg.Dome.BatchSize, "FILLSCOPE_DOME_BATCH_SIZE")
	setInt(&cfg.Dome.Workers, "FILLSCOPE_DOME_WORKERS")

	// ── Trade feed ──
	setStr(&cfg.TradeFeed.BaseURL, "FILLSCOPE_TRADEFEED_BASE_URL")
	setStr(&cfg.TradeFeed.AuthURL, "FILLSCOPE_TRADEFEED_AUTH_URL")
	setStr(&cfg.TradeFeed.Email, "EMAIL") // compatibility alias
	setStr(&cfg.TradeFeed.Email, "FILLSCOPE_TRADEFEED_EMAIL")
	setStr(&cfg.TradeFeed.Password, "PASSWORD") // compatibility alias
	setStr(&cfg.TradeFeed.Password, "FILLSCOPE_TRADEFEED_PASSWORD")
	setStr(&cfg.TradeFeed.BearerToken, "BEARER_TOKEN") // compatibility alias
	setStr(&cfg.TradeFeed.BearerToken, "FILLSCOPE_TRADEFEED_BEARER_TOKEN")
	setInt(&cfg.TradeFeed.MaxFills, "FILLSCOPE_TRADEFEED_MAX_FILLS")
	setDuration(&cfg.TradeFeed.FreshnessGuard, "FILLSCOPE_TRADEFEED_FRESHNESS_GUARD")
	setDuration(&cfg.TradeFeed.RefreshInterval, "FILLSCOPE_TRADEFEED_REFRESH_INTERVAL")

	// ── Polymarket API ──
	setStr(&cfg.PolymarketAPI.DataURL, "FILLSCOPE_POLYMARKET_API_DATA_URL")
	setStr(&cfg.PolymarketAPI.ProfileURL, "FILLSCOPE_POLYMARKET_API_PROFILE_URL")
	setFloat64(&cfg.PolymarketAPI.RequestsPerSecond, "FILLSCOPE_POLYMARKET_API_REQUESTS_PER_SECOND")
	setDuration(&cfg.PolymarketAPI.CacheTTL, "FILLSCOPE_POLYMARKET_API_CACHE_TTL")

	// ── Matching ──
	setDuration(&cfg.Matching.Window, "FILLSCOPE_MATCHING_WINDOW")
	setDuration(&cfg.Matching.SettleDelay, "FILLSCOPE_MATCHING_SETTLE_DELAY")
	setInt(&cfg.Matching.MaxWorkers, "FILLSCOPE_MATCHING_MAX_WORKERS")

	// ── Rematch ──
	setDurations(&cfg.Rematch.Ticks, "FILLSCOPE_REMATCH_TICKS")
	setDuration(&cfg.Rematch.PreferredBy, "FILLSCOPE_REMATCH_PREFERRED_BY")
	setInt(&cfg.Rematch.Concurrency, "FILLSCOPE_REMATCH_CONCURRENCY")

	// ── Retention ──
	setDuration(&cfg.Retention.Horizon, "FILLSCOPE_RETENTION_HORIZON")
	setInt(&cfg.Retention.MaxEntries, "FILLSCOPE_RETENTION_MAX_ENTRIES")

	// ── Server ──
	setInt(&cfg.Server.Port, "PORT") // compatibility alias
	setInt(&cfg.Server.Port, "FILLSCOPE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FILLSCOPE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FILLSCOPE_SERVER_API_KEY")
	setFloat64(&cfg.Server.RateLimit, "FILLSCOPE_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FILLSCOPE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FILLSCOPE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FILLSCOPE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FILLSCOPE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FILLSCOPE_MODE")
	setStr(&cfg.LogLevel, "FILLSCOPE_LOG_LEVEL")
}

func applyDatabase(db *DatabaseConfig, prefix string) {
	setStr(&db.DSN, prefix+"_DSN")
	setStr(&db.Host, prefix+"_HOST")
	setInt(&db.Port, prefix+"_PORT")
	setStr(&db.Database, prefix+"_DATABASE")
	setStr(&db.User, prefix+"_USER")
	setStr(&db.Password, prefix+"_PASSWORD")
	setStr(&db.SSLMode, prefix+"_SSL_MODE")
	setInt(&db.PoolMaxConns, prefix+"_POOL_MAX_CONNS")
	setBool(&db.RunMigrations, prefix+"_RUN_MIGRATIONS")
}

// walletsFromEnv reads WALLET_1_ADDRESS, WALLET_2_ADDRESS, ... until the
// first gap, falling back to the comma-separated WALLET_ADDRESSES.
func walletsFromEnv() []string {
	var out []string
	for i := 1; ; i++ {
		v := strings.TrimSpace(os.Getenv(fmt.Sprintf("WALLET_%d_ADDRESS", i)))
		if v == "" {
			break
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		setStringSlice(&out, "WALLET_ADDRESSES")
	}
	return out
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setDurations(dst *[]duration, key string) {
	var parts []string
	setStringSlice(&parts, key)
	if len(parts) == 0 {
		return
	}
	out := make([]duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(p)
		if err != nil {
			return
		}
		out = append(out, duration{d})
	}
	*dst = out
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
