// Package pricefeed implements the live-rate feed with a source fallback
// chain: primary HTTP source, secondary HTTP source, last-known rates, and
// finally deterministic synthetic rates so the engine always has a quote.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"fxTradeBot/config"
	"fxTradeBot/internal/domain"
	"fxTradeBot/internal/ports"
)

// rateResponse is the JSON shape both HTTP sources return.
type rateResponse struct {
	Rates map[string]float64 `json:"rates"`
}

// baseRates seed the synthetic generator with plausible levels.
var baseRates = map[string]float64{
	"EUR/USD": 1.0850,
	"GBP/USD": 1.2650,
	"USD/JPY": 148.50,
	"AUD/USD": 0.6550,
	"USD/CHF": 0.8850,
	"USD/CAD": 1.3550,
	"NZD/USD": 0.6050,
}

// Client implements ports.PriceFeed with a freshness cache. A fetch inside
// the TTL window returns the cached rates without touching the network.
type Client struct {
	cfg        config.FeedConfig
	pairs      []string
	httpClient *http.Client
	logger     ports.Logger
	now        func() time.Time
	retry      *backoff.Backoff

	mu        sync.Mutex
	cached    []domain.Rate
	cachedAt  time.Time
	lastKnown map[string]float64
}

// New creates a price feed client for the given tracked pairs.
func New(cfg config.FeedConfig, pairs []string, logger ports.Logger) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for price feed")
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("at least one pair is required for price feed")
	}
	return &Client{
		cfg:        cfg,
		pairs:      pairs,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		now:        time.Now,
		retry: &backoff.Backoff{
			Min:    250 * time.Millisecond,
			Max:    2 * time.Second,
			Factor: 2,
			Jitter: true,
		},
		lastKnown: make(map[string]float64),
	}, nil
}

// WithClock overrides the time source for tests.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

// FetchLiveRates returns one rate per tracked pair. Sources are tried in
// priority order; a result from any source refreshes the cache.
func (c *Client) FetchLiveRates(ctx context.Context) ([]domain.Rate, error) {
	const op = "FetchLiveRates"
	now := c.now()

	c.mu.Lock()
	if len(c.cached) > 0 && now.Sub(c.cachedAt) < c.cfg.CacheTTL {
		fresh := append([]domain.Rate(nil), c.cached...)
		c.mu.Unlock()
		return fresh, nil
	}
	c.mu.Unlock()

	for _, url := range []string{c.cfg.PrimaryURL, c.cfg.SecondaryURL} {
		if url == "" {
			continue
		}
		rates, err := c.fetchFrom(ctx, url, now)
		if err != nil {
			c.logger.Warn(ctx, "Price source failed, trying next", map[string]interface{}{
				"op":    op,
				"url":   url,
				"error": err.Error(),
			})
			continue
		}
		c.retry.Reset()
		c.store(rates, now)
		return rates, nil
	}

	// Both sources down: serve last-known rates, then synthetic.
	c.mu.Lock()
	known := len(c.lastKnown) > 0
	var rates []domain.Rate
	if known {
		rates = make([]domain.Rate, 0, len(c.pairs))
		for _, pair := range c.pairs {
			if r, ok := c.lastKnown[pair]; ok {
				rates = append(rates, domain.Rate{Pair: pair, Rate: r, Timestamp: now})
			}
		}
	}
	c.mu.Unlock()

	if known && len(rates) > 0 {
		c.logger.Warn(ctx, "Serving last-known rates, all sources down", map[string]interface{}{"op": op})
		return rates, nil
	}

	c.logger.Warn(ctx, "Serving synthetic rates, no sources and no cache", map[string]interface{}{"op": op})
	return c.syntheticRates(now), nil
}

// fetchFrom queries one HTTP source, retrying once with backoff on failure.
func (c *Client) fetchFrom(ctx context.Context, url string, now time.Time) ([]domain.Rate, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.retry.Duration()):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		rates, err := c.fetchOnce(ctx, url, now)
		if err == nil {
			return rates, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, url string, now time.Time) ([]domain.Rate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build rate request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate source returned status %d: %w", resp.StatusCode, ports.ErrFeedUnavailable)
	}

	var body rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode rate response: %w", err)
	}

	rates := make([]domain.Rate, 0, len(c.pairs))
	for _, pair := range c.pairs {
		value, ok := lookupRate(body.Rates, pair)
		if !ok {
			continue
		}
		rates = append(rates, domain.Rate{Pair: pair, Rate: value, Timestamp: now})
	}
	if len(rates) == 0 {
		return nil, fmt.Errorf("rate response had no tracked pairs: %w", ports.ErrFeedUnavailable)
	}
	return rates, nil
}

// lookupRate accepts both "EUR/USD" and "EURUSD" keys.
func lookupRate(rates map[string]float64, pair string) (float64, bool) {
	if v, ok := rates[pair]; ok {
		return v, true
	}
	v, ok := rates[strings.ReplaceAll(pair, "/", "")]
	return v, ok
}

func (c *Client) store(rates []domain.Rate, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = rates
	c.cachedAt = now
	for _, r := range rates {
		c.lastKnown[r.Pair] = r.Rate
	}
}

// syntheticRates generates deterministic quotes: a per-pair base level with
// a slow sine oscillation of ±20 pips driven by the clock. Same inputs,
// same outputs; the simulation stays reproducible offline.
func (c *Client) syntheticRates(now time.Time) []domain.Rate {
	rates := make([]domain.Rate, 0, len(c.pairs))
	phase := float64(now.Unix()%3600) / 3600 * 2 * math.Pi
	for i, pair := range c.pairs {
		base, ok := baseRates[pair]
		if !ok {
			base = 1.0
		}
		offset := math.Sin(phase+float64(i)) * 20 * domain.PipSize(pair)
		rates = append(rates, domain.Rate{Pair: pair, Rate: base + offset, Timestamp: now})
	}
	return rates
}

var _ ports.PriceFeed = (*Client)(nil)
