package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.PolymarketDB.DSN = "postgres://poly"
	cfg.PinnacleDB.DSN = "postgres://pinnacle"
	cfg.Dome.APIKey = "dome-key"
	cfg.Dome.Wallets = []string{"0x1111111111111111111111111111111111111111"}
	cfg.TradeFeed.BaseURL = "https://feed.example"
	cfg.TradeFeed.BearerToken = "token"
	return cfg
}

func TestDefaultsNeedOnlyCredentials(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Streams())
	assert.True(t, cfg.Batches())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Rematch.Ticks = []duration{{time.Minute}, {10 * time.Second}}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"polymarket_db: dsn or host must be set",
		"pinnacle_db: dsn or host must be set",
		"rematch: ticks must be strictly increasing",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateModeSpecificSections(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "batch"
	cfg.Dome.APIKey = ""
	assert.NoError(t, cfg.Validate(), "batch mode does not need the stream")

	cfg.TradeFeed.BearerToken = ""
	assert.ErrorContains(t, cfg.Validate(), "tradefeed: bearer_token or email and password")

	cfg.TradeFeed.Email, cfg.TradeFeed.Password = "ops@example.com", "pw"
	assert.NoError(t, cfg.Validate())

	cfg.Mode = "stream"
	assert.ErrorContains(t, cfg.Validate(), "dome: api_key is required")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fillscope.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "stream"

[matching]
window = "2m"

[rematch]
ticks = ["5s", "30s"]

[pinnacle_db]
host = "pinnacle.internal"
database = "odds"
`), 0o600))

	t.Setenv("FILLSCOPE_LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL_POLY", "postgres://alias")
	t.Setenv("FILLSCOPE_POLYMARKET_DB_DSN", "postgres://prefixed")
	t.Setenv("WALLET_1_ADDRESS", "0xaaa")
	t.Setenv("WALLET_2_ADDRESS", "0xbbb")
	t.Setenv("FILLSCOPE_REMATCH_CONCURRENCY", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "stream", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Minute, cfg.Matching.Window.Duration)
	assert.Equal(t, []time.Duration{5 * time.Second, 30 * time.Second}, Durations(cfg.Rematch.Ticks))
	assert.Equal(t, "pinnacle.internal", cfg.PinnacleDB.Host)
	assert.Equal(t, "postgres://prefixed", cfg.PolymarketDB.DSN)
	assert.Equal(t, []string{"0xaaa", "0xbbb"}, cfg.Dome.Wallets)
	assert.Equal(t, 7, cfg.Rematch.Concurrency)
	assert.Equal(t, 8000, cfg.Server.Port, "defaults survive")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestWalletAddressesFallback(t *testing.T) {
	t.Setenv("WALLET_ADDRESSES", " 0xaaa, ,0xbbb ")
	assert.Equal(t, []string{"0xaaa", "0xbbb"}, walletsFromEnv())
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Notify.TelegramToken = "tg"
	out := RedactedConfig(&cfg)

	assert.Equal(t, "***", out.Dome.APIKey)
	assert.Equal(t, "***", out.PolymarketDB.DSN)
	assert.Equal(t, "***", out.TradeFeed.BearerToken)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.Notify.DiscordWebhookURL)
	assert.Equal(t, "dome-key", cfg.Dome.APIKey)

	out.Dome.Wallets[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Dome.Wallets[0])
}
