package edge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrUpstreamStatus is returned when the content API answers with a
	// non-2xx status.
	ErrUpstreamStatus = errors.New("content: unexpected upstream status")

	// ErrMalformedBody is returned when a content API response cannot be decoded.
	ErrMalformedBody = errors.New("content: malformed response body")
)

// ContentItem is the subset of a product or service the edge cares about.
type ContentItem struct {
	Slug      string    `json:"slug"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContentClient talks to the upstream content API.
type ContentClient struct {
	baseURL  string
	maxBytes int64
	http     *http.Client
	stats    *statsCollector
}

func NewContentClient(baseURL string, timeout time.Duration, maxBytes int64, stats *statsCollector) *ContentClient {
	return &ContentClient{
		baseURL:  baseURL,
		maxBytes: maxBytes,
		http:     &http.Client{Timeout: timeout},
		stats:    stats,
	}
}

// FetchRedirects returns the full redirect rule set. A response without a
// "redirects" field yields an empty set; a body that is not an object is
// ErrMalformedBody.
func (c *ContentClient) FetchRedirects(ctx context.Context) ([]RedirectRule, error) {
	const path = "/api/content/redirects"
	var body *struct {
		Redirects []RedirectRule `json:"redirects"`
	}
	if err := c.getJSON(ctx, path, nil, &body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("GET %s: %w: null body", path, ErrMalformedBody)
	}
	if body.Redirects == nil {
		return []RedirectRule{}, nil
	}
	return body.Redirects, nil
}

// ListProducts returns products with the given visibility ("" for all).
func (c *ContentClient) ListProducts(ctx context.Context, visibility string) ([]ContentItem, error) {
	var body struct {
		Products []ContentItem `json:"products"`
		Total    int           `json:"total"`
	}
	if err := c.getJSON(ctx, "/api/content/products", visibilityQuery(visibility), &body); err != nil {
		return nil, err
	}
	return body.Products, nil
}

// ListServices returns services with the given visibility ("" for all).
func (c *ContentClient) ListServices(ctx context.Context, visibility string) ([]ContentItem, error) {
	var body struct {
		Services []ContentItem `json:"services"`
		Total    int           `json:"total"`
	}
	if err := c.getJSON(ctx, "/api/content/services", visibilityQuery(visibility), &body); err != nil {
		return nil, err
	}
	return body.Services, nil
}

func visibilityQuery(v string) url.Values {
	if v == "" {
		return nil
	}
	return url.Values{"visibility": []string{v}}
}

func (c *ContentClient) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*kb))
		return fmt.Errorf("GET %s: %w: %d", path, ErrUpstreamStatus, resp.StatusCode)
	}

	var r io.Reader = resp.Body
	if c.maxBytes > 0 {
		// one extra byte to tell "exactly at the limit" from "over it"
		r = io.LimitReader(resp.Body, c.maxBytes+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	c.stats.observeUpstreamBytes(len(b))
	if c.maxBytes > 0 && int64(len(b)) > c.maxBytes {
		return fmt.Errorf("GET %s: %w: body exceeds %s", path, ErrMalformedBody, formatBytes(uint64(c.maxBytes)))
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("GET %s: %w: %v", path, ErrMalformedBody, err)
	}
	return nil
}
