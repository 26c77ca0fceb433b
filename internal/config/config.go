// Package config defines the top-level configuration for fillscope and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FILLSCOPE_* environment variables.
type Config struct {
	Mode          string              `toml:"mode"`
	LogLevel      string              `toml:"log_level"`
	PolymarketDB  DatabaseConfig      `toml:"polymarket_db"`
	PinnacleDB    DatabaseConfig      `toml:"pinnacle_db"`
	Redis         RedisConfig         `toml:"redis"`
	S3            S3Config            `toml:"s3"`
	Dome          DomeConfig          `toml:"dome"`
	TradeFeed     TradeFeedConfig     `toml:"tradefeed"`
	PolymarketAPI PolymarketAPIConfig `toml:"polymarket_api"`
	Matching      MatchingConfig      `toml:"matching"`
	Rematch       RematchConfig       `toml:"rematch"`
	Retention     RetentionConfig     `toml:"retention"`
	Server        ServerConfig        `toml:"server"`
	Notify        NotifyConfig        `toml:"notify"`
}

// DatabaseConfig holds PostgreSQL connection parameters for one snapshot
// database.
type DatabaseConfig struct {
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

func (d DatabaseConfig) configured() bool {
	return strings.TrimSpace(d.DSN) != "" || d.Host != ""
}

// RedisConfig holds Redis connection parameters. When disabled, account
// lookups are cached in memory and fills are not shared across instances.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	URL        string `toml:"url"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Channel    string `toml:"channel"`
}

// S3Config holds S3-compatible object storage parameters for the raw fetch
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// DomeConfig holds the order stream connection and batching parameters.
type DomeConfig struct {
	APIKey         string   `toml:"api_key"`
	URL            string   `toml:"url"`
	Platform       string   `toml:"platform"`
	Version        int      `toml:"version"`
	Wallets        []string `toml:"wallets"`
	ReconnectDelay duration `toml:"reconnect_delay"`
	BatchSize      int      `toml:"batch_size"`
	FirstWait      duration `toml:"first_wait"`
	NextWait       duration `toml:"next_wait"`
	Workers        int      `toml:"workers"`
}

// TradeFeedConfig holds the bulk trade-feed API parameters.
type TradeFeedConfig struct {
	BaseURL        string   `toml:"base_url"`
	AuthURL        string   `toml:"auth_url"`
	Email          string   `toml:"email"`
	Password       string   `toml:"password"`
	BearerToken    string   `toml:"bearer_token"`
	PageSize       int      `toml:"page_size"`
	MaxFills       int      `toml:"max_fills"`
	FreshnessGuard duration `toml:"freshness_guard"`
	// RefreshInterval 0 means refreshes only run on request.
	RefreshInterval duration `toml:"refresh_interval"`
	Timeout         duration `toml:"timeout"`
}

// PolymarketAPIConfig holds the public account lookup endpoints.
type PolymarketAPIConfig struct {
	DataURL           string   `toml:"data_url"`
	ProfileURL        string   `toml:"profile_url"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	CacheTTL          duration `toml:"cache_ttl"`
	Timeout           duration `toml:"timeout"`
}

// MatchingConfig holds the join windows and the bulk worker pool size.
type MatchingConfig struct {
	Window      duration `toml:"window"`
	SettleDelay duration `toml:"settle_delay"`
	MaxWorkers  int      `toml:"max_workers"`
	Buffer      duration `toml:"buffer"`
}

// RematchConfig holds the streaming after-lookup schedule.
type RematchConfig struct {
	Ticks       []duration `toml:"ticks"`
	PreferredBy duration   `toml:"preferred_by"`
	Concurrency int        `toml:"concurrency"`
}

// RetentionConfig bounds the shared fill cache.
type RetentionConfig struct {
	Horizon       duration `toml:"horizon"`
	MaxEntries    int      `toml:"max_entries"`
	SweepInterval duration `toml:"sweep_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Durations unwraps a list of config durations.
func Durations(ds []duration) []time.Duration {
	out := make([]time.Duration, len(ds))
	for i, d := range ds {
		out[i] = d.Duration
	}
	return out
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       float64  `toml:"rate_limit"`
	RateBurst       int      `toml:"rate_burst"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	db := DatabaseConfig{
		Port:           5432,
		SSLMode:        "require",
		PoolMaxConns:   10,
		PoolMinConns:   1,
		ConnectTimeout: duration{10 * time.Second},
	}
	return Config{
		Mode:         "full",
		LogLevel:     "info",
		PolymarketDB: db,
		PinnacleDB:   db,
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			Channel:    "fillscope:order-update",
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
			Prefix:         "tradefeed/fills",
		},
		Dome: DomeConfig{
			URL:            "wss://ws.domeapi.io",
			Platform:       "polymarket",
			Version:        1,
			ReconnectDelay: duration{5 * time.Second},
			BatchSize:      10,
			FirstWait:      duration{500 * time.Millisecond},
			NextWait:       duration{100 * time.Millisecond},
			Workers:        3,
		},
		TradeFeed: TradeFeedConfig{
			PageSize:       500,
			MaxFills:       3000,
			FreshnessGuard: duration{3 * time.Minute},
			Timeout:        duration{30 * time.Second},
		},
		PolymarketAPI: PolymarketAPIConfig{
			DataURL:           "https://data-api.polymarket.com",
			ProfileURL:        "https://polymarket.com",
			RequestsPerSecond: 10,
			Burst:             5,
			CacheTTL:          duration{time.Hour},
			Timeout:           duration{10 * time.Second},
		},
		Matching: MatchingConfig{
			Window:      duration{5 * time.Minute},
			SettleDelay: duration{10 * time.Second},
			MaxWorkers:  8,
			Buffer:      duration{5 * time.Minute},
		},
		Rematch: RematchConfig{
			Ticks:       []duration{{10 * time.Second}, {60 * time.Second}, {120 * time.Second}},
			PreferredBy: duration{60 * time.Second},
			Concurrency: 5,
		},
		Retention: RetentionConfig{
			Horizon:       duration{48 * time.Hour},
			MaxEntries:    4000,
			SweepInterval: duration{time.Hour},
		},
		Server: ServerConfig{
			Port:            8000,
			ShutdownTimeout: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events:   []string{"stream_disconnected", "batch_degraded"},
			Cooldown: duration{5 * time.Minute},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"stream": true,
	"batch":  true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Streams reports whether the mode runs the order stream.
func (c *Config) Streams() bool {
	m := strings.ToLower(c.Mode)
	return m == "stream" || m == "full"
}

// Batches reports whether the mode runs the bulk analyzer.
func (c *Config) Batches() bool {
	m := strings.ToLower(c.Mode)
	return m == "batch" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: stream, batch, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Both snapshot databases are needed by every mode.
	errs = append(errs, c.PolymarketDB.validate("polymarket_db")...)
	errs = append(errs, c.PinnacleDB.validate("pinnacle_db")...)

	if c.Redis.Enabled {
		if c.Redis.URL == "" && c.Redis.Addr == "" {
			errs = append(errs, "redis: url or addr must be set when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when enabled")
	}

	if c.Streams() {
		if c.Dome.APIKey == "" {
			errs = append(errs, "dome: api_key is required for mode "+c.Mode)
		}
		if len(c.Dome.Wallets) == 0 {
			errs = append(errs, "dome: at least one wallet is required for mode "+c.Mode)
		}
		if c.Dome.BatchSize < 1 || c.Dome.Workers < 1 {
			errs = append(errs, "dome: batch_size and workers must be >= 1")
		}
	}

	if c.Batches() {
		if c.TradeFeed.BaseURL == "" {
			errs = append(errs, "tradefeed: base_url must not be empty for mode "+c.Mode)
		}
		hasLogin := c.TradeFeed.Email != "" && c.TradeFeed.Password != ""
		if c.TradeFeed.BearerToken == "" && !hasLogin {
			errs = append(errs, "tradefeed: bearer_token or email and password must be set")
		}
		if c.TradeFeed.MaxFills < 1 {
			errs = append(errs, "tradefeed: max_fills must be >= 1")
		}
		if c.TradeFeed.RefreshInterval.Duration < 0 {
			errs = append(errs, "tradefeed: refresh_interval must not be negative")
		}
	}

	if c.Matching.Window.Duration <= 0 {
		errs = append(errs, "matching: window must be > 0")
	}
	if c.Matching.SettleDelay.Duration < 0 || c.Matching.SettleDelay.Duration > c.Matching.Window.Duration {
		errs = append(errs, "matching: settle_delay must be between 0 and window")
	}
	if c.Matching.MaxWorkers < 1 {
		errs = append(errs, "matching: max_workers must be >= 1")
	}

	if len(c.Rematch.Ticks) == 0 {
		errs = append(errs, "rematch: ticks must not be empty")
	}
	for i := 1; i < len(c.Rematch.Ticks); i++ {
		if c.Rematch.Ticks[i].Duration <= c.Rematch.Ticks[i-1].Duration {
			errs = append(errs, "rematch: ticks must be strictly increasing")
			break
		}
	}
	if c.Rematch.Concurrency < 1 {
		errs = append(errs, "rematch: concurrency must be >= 1")
	}

	if c.Retention.Horizon.Duration <= 0 {
		errs = append(errs, "retention: horizon must be > 0")
	}
	if c.Retention.MaxEntries < 1 {
		errs = append(errs, "retention: max_entries must be >= 1")
	}
	if c.Retention.SweepInterval.Duration <= 0 {
		errs = append(errs, "retention: sweep_interval must be > 0")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id is required when telegram_token is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (d DatabaseConfig) validate(section string) []string {
	var errs []string
	if !d.configured() {
		errs = append(errs, section+": dsn or host must be set")
	} else if strings.TrimSpace(d.DSN) == "" {
		if d.Port <= 0 || d.Port > 65535 {
			errs = append(errs, fmt.Sprintf("%s: port must be 1-65535, got %d", section, d.Port))
		}
		if d.Database == "" {
			errs = append(errs, section+": database must not be empty")
		}
	}
	if d.PoolMaxConns < 1 {
		errs = append(errs, section+": pool_max_conns must be >= 1")
	}
	if d.PoolMinConns < 0 || d.PoolMinConns > d.PoolMaxConns {
		errs = append(errs, section+": pool_min_conns must be between 0 and pool_max_conns")
	}
	return errs
}
