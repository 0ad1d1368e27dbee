// Package lis is the client for the external laboratory information system.
package lis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/labdesk/labdesk/internal/platform/metrics"
)

const maxBodyBytes = 32 << 20

// Paths are the per-resource paths, relative to the base URL.
type Paths struct {
	Tests           string
	Referrers       string
	Orders          string
	OrderMaterials  string
	Reports         string
	SampleTypes     string
	Login           string
	LogisticRequest string
}

type Config struct {
	BaseURL  string
	Email    string
	Password string
	Paths    Paths
	Timeout  time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client issues authenticated calls to the LIS. It logs in lazily with the
// configured credentials and logs in again once when a call answers 401.
type Client struct {
	base       *url.URL
	email      string
	password   string
	paths      Paths
	httpClient *http.Client
	metrics    *metrics.Registry
	logger     zerolog.Logger

	mu    sync.Mutex
	token string
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("lis: base url required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("lis: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("lis: base url must be http or https, got %q", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		base:       base,
		email:      cfg.Email,
		password:   cfg.Password,
		paths:      cfg.Paths,
		httpClient: &http.Client{Timeout: timeout},
		logger:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) Paths() Paths { return c.paths }

// Get issues an authenticated GET against path.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.call(ctx, http.MethodGet, path, nil)
}

// Post issues an authenticated POST of payload as JSON.
func (c *Client) Post(ctx context.Context, path string, payload map[string]any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ServiceError{Method: http.MethodPost, Endpoint: path, Err: fmt.Errorf("marshal payload: %w", err)}
	}
	return c.call(ctx, http.MethodPost, path, body)
}

// call returns a *ServiceError for transport failures and for any non-2xx
// answer. The response, when one arrived, is returned alongside the error.
func (c *Client) call(ctx context.Context, method, path string, body []byte) (*Response, error) {
	endpoint := c.resolve(path)

	token, err := c.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, method, endpoint, body, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() == http.StatusUnauthorized {
		c.logger.Info().Str("endpoint", endpoint).Msg("lis token rejected, re-authenticating")
		if token, err = c.login(ctx); err != nil {
			return nil, err
		}
		if resp, err = c.send(ctx, method, endpoint, body, token); err != nil {
			return nil, err
		}
	}

	if !resp.OK() {
		return resp, &ServiceError{Method: method, Endpoint: endpoint, StatusCode: resp.StatusCode()}
	}
	return resp, nil
}

func (c *Client) resolve(path string) string {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return c.base.String() + strings.TrimPrefix(path, "/")
	}
	return c.base.ResolveReference(ref).String()
}

func (c *Client) send(ctx context.Context, method, endpoint string, body []byte, token string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &ServiceError{Method: method, Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveLISRequest(method, 0)
		return nil, &ServiceError{Method: method, Endpoint: endpoint, Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	c.metrics.ObserveLISRequest(method, httpResp.StatusCode)
	if err != nil {
		return nil, &ServiceError{Method: method, Endpoint: endpoint, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug().
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status", httpResp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("lis request")

	return newResponse(httpResp.StatusCode, httpResp.Header, raw), nil
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return c.login(ctx)
}

// login exchanges the configured credentials for a bearer token.
func (c *Client) login(ctx context.Context) (string, error) {
	endpoint := c.resolve(c.paths.Login)
	body, err := json.Marshal(map[string]string{"email": c.email, "password": c.password})
	if err != nil {
		return "", &ServiceError{Method: http.MethodPost, Endpoint: endpoint, Err: err}
	}

	resp, err := c.send(ctx, http.MethodPost, endpoint, body, "")
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", &ServiceError{Method: http.MethodPost, Endpoint: endpoint, StatusCode: resp.StatusCode(), Err: errors.New("login rejected")}
	}

	token := extractToken(resp)
	if token == "" {
		return "", &ServiceError{Method: http.MethodPost, Endpoint: endpoint, StatusCode: resp.StatusCode(), Err: errors.New("login response carried no token")}
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return token, nil
}

func extractToken(resp *Response) string {
	var doc struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
		Data        struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := resp.JSON(&doc); err != nil {
		return ""
	}
	switch {
	case doc.Token != "":
		return doc.Token
	case doc.AccessToken != "":
		return doc.AccessToken
	default:
		return doc.Data.Token
	}
}

func decodeInto[T any](resp *Response, method, endpoint string) ([]T, error) {
	var out []T
	if err := resp.DecodeData(&out); err != nil {
		return nil, &ServiceError{Method: method, Endpoint: endpoint, StatusCode: resp.StatusCode(), Err: fmt.Errorf("decode payload: %w", err)}
	}
	return out, nil
}

// Tests fetches the remote test catalog.
func (c *Client) Tests(ctx context.Context) ([]RemoteTest, *Response, error) {
	resp, err := c.Get(ctx, c.paths.Tests)
	if err != nil {
		return nil, resp, err
	}
	items, err := decodeInto[RemoteTest](resp, http.MethodGet, c.resolve(c.paths.Tests))
	return items, resp, err
}

// SampleTypes fetches the remote sample types.
func (c *Client) SampleTypes(ctx context.Context) ([]RemoteSampleType, *Response, error) {
	resp, err := c.Get(ctx, c.paths.SampleTypes)
	if err != nil {
		return nil, resp, err
	}
	items, err := decodeInto[RemoteSampleType](resp, http.MethodGet, c.resolve(c.paths.SampleTypes))
	return items, resp, err
}

// Referrers fetches the remote referrer collection.
func (c *Client) Referrers(ctx context.Context) ([]RemoteReferrer, *Response, error) {
	resp, err := c.Get(ctx, c.paths.Referrers)
	if err != nil {
		return nil, resp, err
	}
	items, err := decodeInto[RemoteReferrer](resp, http.MethodGet, c.resolve(c.paths.Referrers))
	return items, resp, err
}

// OrderStatuses posts the correlation keys in one batch and returns the
// status records the LIS echoes back.
func (c *Client) OrderStatuses(ctx context.Context, keys []string) ([]RemoteOrderStatus, *Response, error) {
	resp, err := c.Post(ctx, c.paths.Orders, map[string]any{"orders": keys})
	if err != nil {
		return nil, resp, err
	}
	items, err := decodeInto[RemoteOrderStatus](resp, http.MethodPost, c.resolve(c.paths.Orders))
	return items, resp, err
}
