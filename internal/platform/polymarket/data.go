// Package polymarket is a read-only client for the public Polymarket account
// endpoints used to describe counterparties.
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

const (
	DefaultDataURL    = "https://data-api.polymarket.com"
	DefaultProfileURL = "https://polymarket.com"
	DefaultCacheTTL   = time.Hour
)

// DataConfig configures a DataClient.
type DataConfig struct {
	DataURL    string
	ProfileURL string
	// RequestsPerSecond bounds outbound calls across all lookups.
	RequestsPerSecond float64
	Burst             int
	CacheTTL          time.Duration
	Timeout           time.Duration
}

// DataClient looks up wallet profiles. Each of the three upstream calls is
// best-effort; a failing call leaves its fields unset.
type DataClient struct {
	cfg        DataConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      domain.AccountCache
	logger     *slog.Logger
}

// NewDataClient creates a DataClient. cache may be nil.
func NewDataClient(cfg DataConfig, cache domain.AccountCache, logger *slog.Logger) *DataClient {
	if cfg.DataURL == "" {
		cfg.DataURL = DefaultDataURL
	}
	if cfg.ProfileURL == "" {
		cfg.ProfileURL = DefaultProfileURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &DataClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cache:      cache,
		logger:     logger.With(slog.String("component", "polymarket_data")),
	}
}

// AccountInfo returns the profile of address, from cache when fresh. Only a
// cancelled context makes it fail.
func (d *DataClient) AccountInfo(ctx context.Context, address string) (domain.AccountInfo, error) {
	address = strings.TrimSpace(address)
	if d.cache != nil {
		info, err := d.cache.Get(ctx, address)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			d.logger.WarnContext(ctx, "account cache read failed", slog.String("error", err.Error()))
		}
	}

	info := domain.AccountInfo{Address: address}

	if n, err := d.TotalTrades(ctx, address); err != nil {
		d.logFailure(ctx, "traded", address, err)
	} else {
		info.TotalTrades = &n
	}

	if e, err := d.Leaderboard(ctx, address); err != nil {
		d.logFailure(ctx, "leaderboard", address, err)
	} else if e != nil {
		vol, pnl := e.Volume, e.PnL
		info.GlobalVolume = &vol
		info.GlobalPnL = &pnl
		info.GlobalRank = e.Rank.ptr()
		info.VerifiedBadge = bool(e.VerifiedBadge)
	}

	if p, err := d.profile(ctx, address); err != nil {
		d.logFailure(ctx, "profile", address, err)
	} else {
		info.Name = p.Name
		info.Pseudonym = p.Pseudonym
		info.CreatedAt = p.CreatedAt
		if p.VerifiedBadge {
			info.VerifiedBadge = true
		}
	}

	if err := ctx.Err(); err != nil {
		return domain.AccountInfo{}, err
	}
	if d.cache != nil {
		if err := d.cache.Set(ctx, info, d.cfg.CacheTTL); err != nil {
			d.logger.WarnContext(ctx, "account cache write failed", slog.String("error", err.Error()))
		}
	}
	return info, nil
}

// TotalTrades returns the number of markets address has traded.
func (d *DataClient) TotalTrades(ctx context.Context, address string) (int64, error) {
	params := url.Values{}
	params.Set("user", address)
	body, err := d.doGet(ctx, d.cfg.DataURL+"/traded?"+params.Encode())
	if err != nil {
		return 0, fmt.Errorf("polymarket/data: traded: %w", err)
	}
	var resp tradedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("polymarket/data: decode traded: %w", err)
	}
	return resp.Traded, nil
}

// Leaderboard returns the all-time volume row for address, or nil when the
// wallet is not ranked.
func (d *DataClient) Leaderboard(ctx context.Context, address string) (*LeaderboardEntry, error) {
	params := url.Values{}
	params.Set("timePeriod", "all")
	params.Set("orderBy", "VOL")
	params.Set("limit", "1")
	params.Set("offset", formatInt(0))
	params.Set("category", "overall")
	params.Set("user", address)
	body, err := d.doGet(ctx, d.cfg.DataURL+"/v1/leaderboard?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: leaderboard: %w", err)
	}
	var rows []LeaderboardEntry
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode leaderboard: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (d *DataClient) profile(ctx context.Context, address string) (profileResponse, error) {
	params := url.Values{}
	params.Set("address", address)
	body, err := d.doGet(ctx, d.cfg.ProfileURL+"/api/profile/userData?"+params.Encode())
	if err != nil {
		return profileResponse{}, fmt.Errorf("polymarket/data: profile: %w", err)
	}
	var p profileResponse
	if err := json.Unmarshal(body, &p); err != nil {
		return profileResponse{}, fmt.Errorf("polymarket/data: decode profile: %w", err)
	}
	return p, nil
}

func (d *DataClient) logFailure(ctx context.Context, endpoint, address string, err error) {
	if ctx.Err() != nil {
		return
	}
	d.logger.WarnContext(ctx, "account lookup failed",
		slog.String("endpoint", endpoint),
		slog.String("address", address),
		slog.String("error", err.Error()),
	)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet waits for the rate limiter and sends an unauthenticated GET.
func (d *DataClient) doGet(ctx context.Context, rawURL string) ([]byte, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Origin", "https://polymarket.com")
	req.Header.Set("Referer", "https://polymarket.com/")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx responses to domain errors.
func checkHTTPStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, truncate(body))
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, truncate(body))
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, truncate(body))
	default:
		return fmt.Errorf("http %d: %s", code, truncate(body))
	}
}

func truncate(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
