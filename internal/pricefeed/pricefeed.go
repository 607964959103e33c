// Package pricefeed keeps the BTC/USD quote fresh for the dashboard's grant
// balance display.
package pricefeed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/tidwall/gjson"

	apperr "github.com/swissgrant/platform/internal/errors"
	"github.com/swissgrant/platform/pkg/logger"
)

const cacheKey = "pricefeed:btc_usd"

// Fetcher pulls the quote from the configured endpoint. The endpoint must
// return JSON with the price reachable at bitcoin.usd (CoinGecko's simple
// price shape).
type Fetcher struct {
	endpoint   string
	httpClient *http.Client
}

func NewFetcher(endpoint string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch returns the current BTC/USD price.
func (f *Fetcher) Fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return 0, apperr.Backend("create price request", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, apperr.Backend("fetch price", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, apperr.Backend("read price response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, apperr.Backend("fetch price", fmt.Errorf("status %d", resp.StatusCode))
	}

	price := gjson.GetBytes(body, "bitcoin.usd")
	if !price.Exists() || price.Float() <= 0 {
		return 0, apperr.Backend("fetch price", fmt.Errorf("no usable price in response"))
	}
	return price.Float(), nil
}

// Cache stores the latest quote in redis with a local fallback so a redis
// outage degrades to the in-process value.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration

	mu    sync.RWMutex
	local float64
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func (c *Cache) Set(ctx context.Context, price float64) error {
	c.mu.Lock()
	c.local = price
	c.mu.Unlock()

	if c.rdb == nil {
		return nil
	}
	return c.rdb.Set(ctx, cacheKey, strconv.FormatFloat(price, 'f', -1, 64), c.ttl).Err()
}

func (c *Cache) Get(ctx context.Context) (float64, bool) {
	if c.rdb != nil {
		if val, err := c.rdb.Get(ctx, cacheKey).Result(); err == nil {
			if price, err := strconv.ParseFloat(val, 64); err == nil {
				return price, true
			}
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.local > 0 {
		return c.local, true
	}
	return 0, false
}

// Refresher polls the fetcher and fills the cache.
type Refresher struct {
	fetcher  *Fetcher
	cache    *Cache
	interval time.Duration
	log      *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRefresher(fetcher *Fetcher, cache *Cache, interval time.Duration, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.NewDefault("pricefeed")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Refresher{fetcher: fetcher, cache: cache, interval: interval, log: log}
}

func (r *Refresher) Name() string { return "pricefeed-refresher" }

func (r *Refresher) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.refresh(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.refresh(runCtx)
			}
		}
	}()
	return nil
}

func (r *Refresher) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	price, err := r.fetcher.Fetch(ctx)
	if err != nil {
		r.log.Err(err, "price refresh failed, keeping cached value")
		return
	}
	if err := r.cache.Set(ctx, price); err != nil {
		r.log.Err(err, "price cache write failed")
	}
}
