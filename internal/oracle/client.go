// Package oracle fetches the BTC market rate from an external ticker service.
// Quotes are cached for a short TTL so a burst of trade creations does not
// hammer the upstream; a cache hit never goes to the network.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"EscrowDesk/internal/observability"
	"EscrowDesk/internal/trade"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultCacheTTL = 30 * time.Second
)

// Config holds the oracle client settings.
type Config struct {
	// BaseURL is the ticker endpoint root. The client requests
	// <BaseURL>/ticker/btc/<currency>.
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// tickerResponse is the upstream payload. Prices arrive as strings to avoid
// float rounding on the wire.
type tickerResponse struct {
	Currency string `json:"currency"`
	Price    string `json:"price"`
	AsOf     int64  `json:"as_of"`
}

type cachedQuote struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// Client implements the engine's PriceOracle over a ticker HTTP API.
type Client struct {
	baseURL    string
	ttl        time.Duration
	httpClient *http.Client
	clock      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedQuote

	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewClient(cfg Config, log zerolog.Logger, metrics *observability.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		ttl:        ttl,
		httpClient: &http.Client{Timeout: timeout},
		clock:      time.Now,
		cache:      make(map[string]cachedQuote),
		log:        log,
		metrics:    metrics,
	}
}

// Price returns the current BTC unit price in the given fiat currency.
// Any upstream failure surfaces as trade.ErrPriceUnavailable.
func (c *Client) Price(ctx context.Context, currency string) (decimal.Decimal, error) {
	currency = strings.ToUpper(currency)

	if p, ok := c.cached(currency); ok {
		c.metrics.OracleCacheHits.Inc()
		return p, nil
	}

	start := c.clock()
	price, err := c.fetch(ctx, currency)
	c.metrics.OracleDuration.Observe(c.clock().Sub(start).Seconds())
	if err != nil {
		c.metrics.OracleRequests.WithLabelValues("error").Inc()
		c.log.Error().Err(err).Str("currency", currency).Msg("price fetch failed")
		return decimal.Zero, fmt.Errorf("%w: %v", trade.ErrPriceUnavailable, err)
	}
	c.metrics.OracleRequests.WithLabelValues("ok").Inc()

	c.mu.Lock()
	c.cache[currency] = cachedQuote{price: price, fetchedAt: c.clock()}
	c.mu.Unlock()

	return price, nil
}

func (c *Client) cached(currency string) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.cache[currency]
	if !ok || c.clock().Sub(q.fetchedAt) > c.ttl {
		return decimal.Zero, false
	}
	return q.price, true
}

func (c *Client) fetch(ctx context.Context, currency string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/ticker/btc/%s", c.baseURL, strings.ToLower(currency))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ticker request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return decimal.Zero, fmt.Errorf("read ticker response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("ticker status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload tickerResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("decode ticker response: %w", err)
	}

	price, err := decimal.NewFromString(payload.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", payload.Price, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s for %s", price, currency)
	}
	return price, nil
}
