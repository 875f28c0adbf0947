// Package serp proxies web searches to the SerpAPI Google engine. Used
// only for explicitly web-flavored queries, outside the grounded pipeline.
package serp

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/db"
	"github.com/parleyhq/parley/internal/domain"
)

// DefaultBaseURL is the SerpAPI endpoint.
const DefaultBaseURL = "https://serpapi.com/search.json"

const (
	defaultTimeout  = 20 * time.Second
	defaultCacheTTL = 10 * time.Minute
)

// Cache stores responses so repeated queries do not burn metered
// SerpAPI credits.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Result is one organic web search result.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Client queries the SerpAPI proxy.
type Client struct {
	baseURL    string
	apiKey     string
	maxResults int
	httpClient *http.Client
	cache      Cache
	cachePfx   string
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// Config holds web search settings. Cache is optional; when set,
// responses are held under CacheKeyPrefix for CacheTTL.
type Config struct {
	BaseURL        string
	APIKey         string
	MaxResults     int
	Timeout        time.Duration
	Cache          Cache
	CacheKeyPrefix string
	CacheTTL       time.Duration
	Logger         *zap.Logger
}

// New creates a web search client.
func New(cfg *Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cfg.Cache,
		cachePfx:   cfg.CacheKeyPrefix,
		cacheTTL:   cacheTTL,
		logger:     cfg.Logger,
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Search runs a Google search for query and returns the organic results.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("web search is not configured")
	}

	if cached, ok := c.fromCache(ctx, query); ok {
		return cached, nil
	}

	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("api_key", c.apiKey)
	params.Set("num", strconv.Itoa(c.maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("web search status %d: %s: %w", resp.StatusCode, body, domain.ErrRateLimited)
		}
		return nil, fmt.Errorf("web search status %d: %s: %w", resp.StatusCode, body, domain.ErrProviderError)
	}

	var payload struct {
		OrganicResults []Result `json:"organic_results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode web search response: %w", err)
	}

	c.toCache(ctx, query, payload.OrganicResults)
	return payload.OrganicResults, nil
}

func (c *Client) cacheKey(query string) string {
	return fmt.Sprintf("%sserp:q:%x", c.cachePfx, sha256.Sum256([]byte(query)))
}

func (c *Client) fromCache(ctx context.Context, query string) ([]Result, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, err := c.cache.Get(ctx, c.cacheKey(query))
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("web search cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var results []Result
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, false
	}
	return results, true
}

// toCache is best effort; a cache outage never fails the search.
func (c *Client) toCache(ctx context.Context, query string, results []Result) {
	if c.cache == nil || len(results) == 0 {
		return
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return
	}
	if err := c.cache.SetWithTTL(ctx, c.cacheKey(query), raw, c.cacheTTL); err != nil {
		c.logger.Warn("web search cache write failed", zap.Error(err))
	}
}
