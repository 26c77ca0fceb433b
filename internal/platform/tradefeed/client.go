// Package tradefeed reads executed fills from the internal trade feed API.
package tradefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

const (
	DefaultBaseURL  = "https://t-api-production.fly.dev/api"
	DefaultAuthURL  = "https://t-api-production.fly.dev/auth/sign_in"
	DefaultPageSize = 500
	DefaultMaxFills = 3000
)

// Config configures a Client. Either Email and Password or BearerToken must
// be set; credentials take precedence and are used again on 401.
type Config struct {
	BaseURL     string
	AuthURL     string
	Email       string
	Password    string
	BearerToken string
	PageSize    int
	Timeout     time.Duration
}

// Client pages through order fills newest first. It implements
// domain.EventSource.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	token string
}

// NewClient creates a Client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BearerToken == "" && (cfg.Email == "" || cfg.Password == "") {
		return nil, errors.New("tradefeed: email and password or a bearer token are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(slog.String("component", "tradefeed")),
		token:      cfg.BearerToken,
	}, nil
}

// FetchSince returns up to maxCount fills, newest first. With a cursor it
// stops at the first fill older than the cursor id; the fill equal to the
// cursor is included again. The returned cursor is the highest id seen, or
// the input cursor when nothing new arrived.
//
// A page failure after the first page returns the fills gathered so far
// together with the error.
func (c *Client) FetchSince(ctx context.Context, cursor *int64, maxCount int) ([]domain.FillEvent, *int64, error) {
	if maxCount <= 0 {
		maxCount = DefaultMaxFills
	}
	if err := c.ensureToken(ctx); err != nil {
		return nil, cursor, err
	}

	var (
		out  []domain.FillEvent
		next = cursor
	)
	maxPages := (maxCount + c.cfg.PageSize - 1) / c.cfg.PageSize
	for page := 1; page <= maxPages && len(out) < maxCount; page++ {
		entries, err := c.fetchPage(ctx, page)
		if err != nil {
			return out, next, fmt.Errorf("tradefeed: fetch page %d: %w", page, err)
		}
		if len(entries) == 0 {
			break
		}

		reachedCursor := false
		for _, raw := range entries {
			var a APIFill
			if err := json.Unmarshal(raw, &a); err != nil {
				c.logger.Warn("skipping undecodable fill", slog.Int("page", page), slog.String("error", err.Error()))
				continue
			}
			id, ok := a.FillID()
			if cursor != nil && ok && id < *cursor {
				reachedCursor = true
				break
			}
			if ok && (next == nil || id > *next) {
				v := id
				next = &v
			}
			out = append(out, a.ToFillEvent(raw))
		}
		c.logger.Debug("page fetched", slog.Int("page", page), slog.Int("entries", len(entries)), slog.Int("total", len(out)))

		if reachedCursor || len(entries) < c.cfg.PageSize {
			break
		}
	}
	if len(out) > maxCount {
		out = out[:maxCount]
	}
	return out, next, nil
}

type pageResponse struct {
	Entries []json.RawMessage `json:"entries"`
}

func (c *Client) fetchPage(ctx context.Context, page int) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("page_size", strconv.Itoa(c.cfg.PageSize))
	params.Set("sort_by", "id:desc")
	params.Set("page", strconv.Itoa(page))
	endpoint := c.cfg.BaseURL + "/trade_feed/order_fills?" + params.Encode()

	body, err := c.doGet(ctx, endpoint)
	if errors.Is(err, domain.ErrUnauthorized) && c.canLogin() {
		if lerr := c.login(ctx); lerr != nil {
			return nil, lerr
		}
		body, err = c.doGet(ctx, endpoint)
	}
	if err != nil {
		return nil, err
	}

	var resp pageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return resp.Entries, nil
}

func (c *Client) canLogin() bool {
	return c.cfg.Email != "" && c.cfg.Password != ""
}

func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	have := c.token != ""
	c.mu.Unlock()
	if have {
		return nil
	}
	return c.login(ctx)
}

// login exchanges the credentials for a bearer token.
func (c *Client) login(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{"email": c.cfg.Email, "password": c.cfg.Password})
	if err != nil {
		return fmt.Errorf("tradefeed: encode login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("tradefeed: create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")

	body, err := c.do(req)
	if err != nil {
		return fmt.Errorf("tradefeed: login: %w", err)
	}
	token, err := extractToken(body)
	if err != nil {
		return fmt.Errorf("tradefeed: login: %w", err)
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	c.logger.Info("logged in to trade feed")
	return nil
}

// extractToken finds the token in the shapes the auth endpoint has used.
func extractToken(body []byte) (string, error) {
	var resp struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
		JWT         string `json:"jwt"`
		AuthToken   string `json:"auth_token"`
		Data        struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if t := firstNonEmpty(resp.Token, resp.AccessToken, resp.JWT, resp.AuthToken, resp.Data.Token); t != "" {
		return t, nil
	}
	return "", fmt.Errorf("%w: no token in response", domain.ErrUnauthorized)
}

func (c *Client) doGet(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.mu.Lock()
	req.Header.Set("Authorization", "Bearer "+c.token)
	c.mu.Unlock()
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
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

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, body)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, body)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, body)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, body)
	}
}
