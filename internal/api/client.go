// Package api is the HTTP client for the DFU assistant backend.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/dyike/DFUChat/internal/logger"
)

const module = "api"

// Options configures a Client. Token is consulted before every request and
// its value, when non-empty, is sent as a bearer credential.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	Token          func() string
	OnUnauthorized func()
	Logger         logger.Logger
}

type Client struct {
	http           *resty.Client
	token          func() string
	onUnauthorized func()
	log            logger.Logger

	mu      sync.RWMutex
	baseURL string
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	c := &Client{
		token:          opts.Token,
		onUnauthorized: opts.OnUnauthorized,
		log:            opts.Logger,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeader("Accept", "application/json")
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		req.SetHeader("X-Request-ID", uuid.NewString())
		if c.token != nil {
			if tok := c.token(); tok != "" {
				req.SetAuthToken(tok)
			}
		}
		return nil
	})
	c.http = client
	return c
}

// SetBaseURL swaps the backend address; safe while requests are in flight.
func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.mu.Unlock()
}

func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.http.SetTimeout(d)
	}
}

// do executes one request and decodes a 2xx JSON body into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, build func(*resty.Request), out any) error {
	req := c.http.R().SetContext(ctx)
	if build != nil {
		build(req)
	}

	started := time.Now()
	resp, err := req.Execute(method, c.BaseURL()+path)
	if err != nil {
		c.log.Warn(module, "request failed", map[string]any{
			"method": method, "path": path, "error": err.Error(),
		})
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	c.log.Debug(module, "request completed", map[string]any{
		"method":  method,
		"path":    path,
		"status":  resp.StatusCode(),
		"elapsed": time.Since(started).String(),
	})

	if resp.IsError() {
		apiErr := &Error{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode(),
			Detail:     parseDetail(resp.Body()),
		}
		// A 401 without a credential is a failed login, not a revoked session.
		if apiErr.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil && req.Token != "" {
			c.onUnauthorized()
		}
		return apiErr
	}

	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func jsonBody(v any) func(*resty.Request) {
	return func(r *resty.Request) {
		r.SetHeader("Content-Type", "application/json").SetBody(v)
	}
}
