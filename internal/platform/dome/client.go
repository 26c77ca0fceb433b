// Package dome streams order events for a set of wallets from the Dome
// websocket API.
package dome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/fillscope/internal/domain"
	"github.com/alanyoungcy/fillscope/internal/metrics"
)

const (
	DefaultURL            = "wss://ws.domeapi.io"
	DefaultPlatform       = "polymarket"
	DefaultReconnectDelay = 5 * time.Second

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Config configures a Client.
type Config struct {
	APIKey         string
	URL            string
	Platform       string
	Version        int
	Wallets        []string
	ReconnectDelay time.Duration
	// Buffer is the capacity of the event channel.
	Buffer int
}

// Subscription is an acknowledged feed subscription.
type Subscription struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
}

// Status is a point-in-time view of the connection.
type Status struct {
	Connected     bool           `json:"connected"`
	Wallets       []string       `json:"wallets"`
	Subscriptions []Subscription `json:"subscriptions"`
}

// Client implements domain.EventStream. It reconnects on its own until the
// stream context is cancelled.
type Client struct {
	cfg    Config
	dialer websocket.Dialer
	logger *slog.Logger

	mu       sync.Mutex
	conn     bool
	subs     map[string]Subscription
	onStatus func(connected bool)
}

// ValidWallets splits addrs into 0x-prefixed hex addresses and the rest.
func ValidWallets(addrs []string) (valid, invalid []string) {
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "0x") && common.IsHexAddress(a) {
			valid = append(valid, a)
		} else {
			invalid = append(invalid, a)
		}
	}
	return valid, invalid
}

// NewClient creates a Client. Invalid wallet addresses are dropped with a
// warning.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("dome: api key is required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Platform == "" {
		cfg.Platform = DefaultPlatform
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}

	logger = logger.With(slog.String("component", "dome"))
	valid, invalid := ValidWallets(cfg.Wallets)
	for _, a := range invalid {
		logger.Warn("ignoring invalid wallet address", slog.String("address", a))
	}
	cfg.Wallets = valid

	return &Client{
		cfg:    cfg,
		dialer: websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger: logger,
		subs:   make(map[string]Subscription),
	}, nil
}

// OnStatusChange registers fn to be called on connect and disconnect. It
// must be called before Stream.
func (c *Client) OnStatusChange(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

// Wallets returns the subscribed wallet addresses.
func (c *Client) Wallets() []string {
	return append([]string(nil), c.cfg.Wallets...)
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{Connected: c.conn, Wallets: c.Wallets()}
	for _, s := range c.subs {
		st.Subscriptions = append(st.Subscriptions, s)
	}
	return st
}

// Stream connects and returns the channel of fills. The channel is closed
// once ctx is done.
func (c *Client) Stream(ctx context.Context) (<-chan domain.FillEvent, error) {
	if len(c.cfg.Wallets) == 0 {
		return nil, errors.New("dome: no valid wallet addresses to subscribe")
	}
	out := make(chan domain.FillEvent, c.cfg.Buffer)
	go c.run(ctx, out)
	return out, nil
}

func (c *Client) run(ctx context.Context, out chan<- domain.FillEvent) {
	defer close(out)
	for {
		err := c.session(ctx, out)
		c.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("stream disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", c.cfg.ReconnectDelay),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// session runs one connection until it fails or ctx is done.
func (c *Client) session(ctx context.Context, out chan<- domain.FillEvent) error {
	conn, _, err := c.dialer.DialContext(ctx, strings.TrimSuffix(c.cfg.URL, "/")+"/"+c.cfg.APIKey, nil)
	if err != nil {
		return fmt.Errorf("dome: connect: %w", err)
	}
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessCtx.Done()
		conn.Close()
	}()

	sub := SubscribeMessage{
		Action:   "subscribe",
		Platform: c.cfg.Platform,
		Version:  c.cfg.Version,
		Type:     "orders",
		Filters:  UserFilterSet{Users: c.cfg.Wallets},
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("dome: subscribe: %w", err)
	}
	c.setConnected(true)
	c.logger.Info("connected", slog.Int("wallets", len(c.cfg.Wallets)))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.pingLoop(sessCtx, conn)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrWSDisconnect, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		ev, ok := c.handleMessage(msg)
		if !ok {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// handleMessage records acks and converts order events.
func (c *Client) handleMessage(msg []byte) (domain.FillEvent, bool) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		metrics.StreamEvents.WithLabelValues("malformed").Inc()
		c.logger.Warn("undecodable message", slog.String("error", err.Error()))
		return domain.FillEvent{}, false
	}
	metrics.StreamEvents.WithLabelValues(env.Type).Inc()

	switch {
	case env.Type == "ack" && env.SubscriptionID != "":
		c.mu.Lock()
		c.subs[env.SubscriptionID] = Subscription{ID: env.SubscriptionID, Platform: c.cfg.Platform, CreatedAt: time.Now().UTC()}
		c.mu.Unlock()
		c.logger.Info("subscription acknowledged", slog.String("subscription_id", env.SubscriptionID))
	case env.Type == "event" && env.SubscriptionID != "" && len(env.Data) > 0:
		var o Order
		if err := json.Unmarshal(env.Data, &o); err != nil {
			c.logger.Warn("undecodable order", slog.String("error", err.Error()))
			return domain.FillEvent{}, false
		}
		return o.ToFillEvent(env.SubscriptionID, time.Now().UTC(), env.Data), true
	}
	return domain.FillEvent{}, false
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	changed := c.conn != v
	c.conn = v
	fn := c.onStatus
	c.mu.Unlock()
	if changed && fn != nil {
		fn(v)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
