package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrStatus is returned for non-2xx responses.
var ErrStatus = errors.New("unexpected status")

const (
	defaultUserAgent = "storyfeed/1.0 (github.com/pders01/storyfeed)"
	defaultTimeout   = 30 * time.Second
	maxBodySize      = 16 << 20
)

// Client is the remote story API used by the sync contexts.
type Client interface {
	GetAllStories(ctx context.Context, req AllStoriesRequest) (*AllStoriesResult, error)
	GetPeerStories(ctx context.Context, peerID int64) (*PeerStoriesResult, error)
	GetPinnedStories(ctx context.Context, peerID int64, offsetID int32, limit int) (*StoriesPage, error)
	GetStoriesArchive(ctx context.Context, peerID int64, offsetID int32, limit int) (*StoriesPage, error)
	SearchStories(ctx context.Context, req SearchRequest) (*FoundStories, error)
}

// Options configures an HTTPClient. Zero values fall back to defaults.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	// RateLimit is requests per second; zero disables throttling.
	RateLimit float64
	Burst     int
}

// HTTPClient speaks JSON over HTTP: every method is a POST to <endpoint>/<method>.
type HTTPClient struct {
	endpoint  string
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
}

func NewHTTPClient(endpoint string, opts Options) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &HTTPClient{
		endpoint:  strings.TrimRight(endpoint, "/"),
		client:    &http.Client{Timeout: opts.Timeout},
		userAgent: opts.UserAgent,
		limiter:   limiter,
	}
}

func (c *HTTPClient) GetAllStories(ctx context.Context, req AllStoriesRequest) (*AllStoriesResult, error) {
	var out AllStoriesResult
	if err := c.call(ctx, "stories.getAllStories", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetPeerStories(ctx context.Context, peerID int64) (*PeerStoriesResult, error) {
	var out PeerStoriesResult
	req := map[string]any{"peer_id": peerID}
	if err := c.call(ctx, "stories.getPeerStories", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetPinnedStories(ctx context.Context, peerID int64, offsetID int32, limit int) (*StoriesPage, error) {
	return c.page(ctx, "stories.getPinnedStories", peerID, offsetID, limit)
}

func (c *HTTPClient) GetStoriesArchive(ctx context.Context, peerID int64, offsetID int32, limit int) (*StoriesPage, error) {
	return c.page(ctx, "stories.getStoriesArchive", peerID, offsetID, limit)
}

func (c *HTTPClient) SearchStories(ctx context.Context, req SearchRequest) (*FoundStories, error) {
	var out FoundStories
	if err := c.call(ctx, "stories.searchPosts", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) page(ctx context.Context, method string, peerID int64, offsetID int32, limit int) (*StoriesPage, error) {
	var out StoriesPage
	req := map[string]any{"peer_id": peerID, "offset_id": offsetID, "limit": limit}
	if err := c.call(ctx, method, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) call(ctx context.Context, method string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %w: %d", method, ErrStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("reading %s response: %w", method, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	return nil
}
