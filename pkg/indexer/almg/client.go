// Package almg is a client for the ALMG open data portal. List
// endpoints are paged; the client fetches the first page to learn the
// total, fans the remaining pages out over a bounded worker pool, and
// caches raw responses for a short TTL so overlapping refresh loops
// don't hammer the portal.
package almg

import (
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

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/jellydator/ttlcache/v3"

	"github.com/plenariolabs/plenario/pkg/indexer/metrics"
)

// DefaultBaseURL is the public entry point of the ALMG open data portal.
const DefaultBaseURL = "https://dadosabertos.almg.gov.br/api/v2"

const (
	defaultTimeout    = 30 * time.Second
	defaultPageSize   = 100
	defaultCacheTTL   = 10 * time.Minute
	defaultPoolSize   = 8
	defaultMaxRetries = 4
)

type Config struct {
	Logger     *slog.Logger
	BaseURL    string
	HTTPClient *http.Client
	PageSize   int
	CacheTTL   time.Duration
	PoolSize   int
	MaxRetries uint64
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.PageSize == 0 {
		c.PageSize = defaultPageSize
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.PoolSize == 0 {
		c.PoolSize = defaultPoolSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	return nil
}

type Client struct {
	log *slog.Logger
	cfg *Config

	cache   *ttlcache.Cache[string, []byte]
	cacheMu sync.RWMutex

	pagePool pond.ResultPool[[]json.RawMessage]
}

func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, []byte](cfg.CacheTTL),
	)

	return &Client{
		log:      cfg.Logger,
		cfg:      cfg,
		cache:    cache,
		pagePool: pond.NewResultPool[[]json.RawMessage](cfg.PoolSize),
	}, nil
}

// listEnvelope is the portal's paged list shape: the page's items under
// "list" plus the total item count across all pages.
type listEnvelope struct {
	List  []json.RawMessage `json:"list"`
	Total int               `json:"total"`
}

// get fetches one URL, retrying transient failures. 5xx and 429 retry;
// other non-200 statuses are permanent. Successful bodies are cached.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	if body := c.cachedResponse(u); body != nil {
		metrics.PortalRequestsTotal.WithLabelValues(path, "cached").Inc()
		return body, nil
	}

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.cfg.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("portal returned %s for %s", resp.Status, u)
		default:
			return backoff.Permanent(fmt.Errorf("portal returned %s for %s", resp.Status, u))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response for %s: %w", u, err)
		}
		return nil
	}

	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
	)
	retryPolicy := backoff.WithContext(backoff.WithMaxRetries(exp, c.cfg.MaxRetries), ctx)

	if err := backoff.Retry(operation, retryPolicy); err != nil {
		metrics.PortalRequestsTotal.WithLabelValues(path, "error").Inc()
		return nil, err
	}

	metrics.PortalRequestsTotal.WithLabelValues(path, "ok").Inc()
	c.setCachedResponse(u, body)
	return body, nil
}

// fetchPage fetches one page of a list endpoint.
func (c *Client) fetchPage(ctx context.Context, path string, query url.Values, page int) (*listEnvelope, error) {
	q := url.Values{}
	for k, vs := range query {
		q[k] = vs
	}
	q.Set("pagina", strconv.Itoa(page))
	q.Set("itens", strconv.Itoa(c.cfg.PageSize))

	body, err := c.get(ctx, path, q)
	if err != nil {
		return nil, err
	}

	var envelope listEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode %s page %d: %w", path, page, err)
	}
	return &envelope, nil
}

// fetchAll fetches every page of a list endpoint and decodes the items.
// The first page is fetched synchronously to learn the total; the
// remaining pages go through the result pool in parallel.
func fetchAll[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	first, err := c.fetchPage(ctx, path, query, 1)
	if err != nil {
		return nil, err
	}

	raw := first.List
	if first.Total > len(first.List) && len(first.List) > 0 {
		pages := (first.Total + c.cfg.PageSize - 1) / c.cfg.PageSize

		group := c.pagePool.NewGroupContext(ctx)
		for page := 2; page <= pages; page++ {
			page := page
			group.SubmitErr(func() ([]json.RawMessage, error) {
				envelope, err := c.fetchPage(ctx, path, query, page)
				if err != nil {
					return nil, err
				}
				return envelope.List, nil
			})
		}

		results, err := group.Wait()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s pages: %w", path, err)
		}
		for _, list := range results {
			raw = append(raw, list...)
		}
	}

	items := make([]T, 0, len(raw))
	for _, msg := range raw {
		var item T
		if err := json.Unmarshal(msg, &item); err != nil {
			return nil, fmt.Errorf("failed to decode %s item: %w", path, err)
		}
		items = append(items, item)
	}
	return items, nil
}
