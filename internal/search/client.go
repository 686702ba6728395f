package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 2 * time.Second

// Config holds the text-search index connection settings. An empty host or
// API key is a valid steady state: the client reports itself unconfigured
// and every search degrades to the relational fallback path.
type Config struct {
	Protocol string
	Host     string
	Port     int
	APIKey   string
	Timeout  time.Duration
}

// Client issues prefix/grouped queries against the text-search index.
// Failures are absorbed: any transport error, timeout, non-200 status or
// malformed body yields an empty result so callers always have the
// fallback path available. An empty result therefore means "try the
// fallback", never "zero matches".
type Client struct {
	cfg   Config
	httpc *http.Client
}

// NewClient builds a client; the index timeout is deliberately shorter
// than the relational store's.
func NewClient(cfg Config) *Client {
	if cfg.Protocol == "" {
		cfg.Protocol = "http"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
	}
}

// Configured reports whether the index can be reached at all.
func (c *Client) Configured() bool {
	return c != nil && c.cfg.Host != "" && c.cfg.APIKey != ""
}

// Document is one indexed record.
type Document map[string]interface{}

// String returns the named field as a string, "" if absent or non-string.
func (d Document) String(field string) string {
	s, _ := d[field].(string)
	return s
}

// Int64 returns the named field as an integer (JSON numbers decode as
// float64), 0 if absent.
func (d Document) Int64(field string) int64 {
	switch v := d[field].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

// Strings returns the named field as a string slice, nil if absent.
func (d Document) Strings(field string) []string {
	raw, ok := d[field].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Hit is a single search hit.
type Hit struct {
	Document Document `json:"document"`
}

// Group is one grouped hit (one representative document per group value).
type Group struct {
	Hits []Hit `json:"hits"`
}

// Result is the index response shape for both plain and grouped queries.
type Result struct {
	Hits        []Hit   `json:"hits"`
	GroupedHits []Group `json:"grouped_hits"`
}

// Search runs one query against a collection. Returns an empty Result on
// any failure; degraded-index conditions are logged, never propagated.
func (c *Client) Search(ctx context.Context, collection string, params url.Values) Result {
	if !c.Configured() {
		slog.Warn("Search index not configured, returning empty result")
		return Result{}
	}

	endpoint := fmt.Sprintf("%s://%s:%d/collections/%s/documents/search",
		c.cfg.Protocol, c.cfg.Host, c.cfg.Port, url.PathEscape(collection))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		slog.Error("Search index request build failed", "error", err)
		return Result{}
	}
	req.Header.Set("X-TYPESENSE-API-KEY", c.cfg.APIKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		slog.Warn("Search index request failed", "collection", collection, "error", err)
		return Result{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("Search index returned non-success status",
			"collection", collection, "status", resp.StatusCode)
		return Result{}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Error("Search index returned invalid JSON", "collection", collection, "error", err)
		return Result{}
	}
	return result
}
