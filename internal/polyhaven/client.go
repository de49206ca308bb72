// Package polyhaven queries the Poly Haven asset library.
package polyhaven

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lydakis/scenectl/internal/cache"
	"github.com/lydakis/scenectl/internal/httpheaders"
)

// AssetTypes are the accepted asset_type values.
var AssetTypes = []string{"hdris", "textures", "models", "all"}

const cacheNamespace = "polyhaven"

// Client fetches category listings, caching them on disk.
type Client struct {
	baseURL  string
	headers  map[string]string
	http     *http.Client
	cache    *cache.Store
	cacheTTL time.Duration
	limiter  *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithCache enables response caching for ttl.
func WithCache(store *cache.Store, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = store
		c.cacheTTL = ttl
	}
}

// WithHeaders adds extra headers to every request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) { c.headers = httpheaders.Merge(c.headers, h, true) }
}

// New returns a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: map[string]string{"User-Agent": "scenectl"},
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ValidAssetType reports whether t is an accepted asset type.
func ValidAssetType(t string) bool {
	for _, v := range AssetTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Categories returns category name to asset count for assetType.
func (c *Client) Categories(ctx context.Context, assetType string) (map[string]int, error) {
	if assetType == "" {
		assetType = "all"
	}
	if !ValidAssetType(assetType) {
		return nil, fmt.Errorf("invalid asset type %q: must be one of %s", assetType, strings.Join(AssetTypes, ", "))
	}

	key := "categories/" + assetType
	if c.cache != nil {
		if data, ok := c.cache.Get(cacheNamespace, key); ok {
			var out map[string]int
			if json.Unmarshal(data, &out) == nil {
				return out, nil
			}
		}
	}

	data, err := c.get(ctx, "/categories/"+assetType)
	if err != nil {
		return nil, err
	}
	var out map[string]int
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("polyhaven: decoding categories: %w", err)
	}

	if c.cache != nil {
		_ = c.cache.Put(cacheNamespace, key, data, c.cacheTTL)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	httpheaders.Apply(req, c.headers)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polyhaven %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("polyhaven %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("polyhaven %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
