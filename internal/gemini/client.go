package gemini

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
	"time"

	"golang.org/x/net/http2"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com"
	DefaultAPIVersion = "v1beta"
	DefaultTimeout    = 30 * time.Second

	DefaultMaxResponseSize = 32 << 20

	listPageSize = 100
)

// ErrResponseTooLarge is returned when the upstream body exceeds the read cap.
var ErrResponseTooLarge = errors.New("response body too large")

// Client performs single, unretried calls against the Generative Language
// API. Retries and model fallback live in the orchestrator.
type Client struct {
	apiKey     string
	baseURL    string
	version    string
	timeout    time.Duration
	maxBody    int64
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at a different host (for testing).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithAPIVersion overrides the API version path segment.
func WithAPIVersion(version string) Option {
	return func(c *Client) {
		if version != "" {
			c.version = strings.Trim(version, "/")
		}
	}
}

// WithTimeout bounds every upstream call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxResponseSize caps how many bytes of an upstream body are read.
func WithMaxResponseSize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a client authenticated with the given API key.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		version:    DefaultAPIVersion,
		timeout:    DefaultTimeout,
		maxBody:    DefaultMaxResponseSize,
		httpClient: &http.Client{Transport: newTransport()},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// newTransport returns an HTTP/1.1+HTTP/2 transport with idle connection
// health checks so stale upstream connections are dropped quickly.
func newTransport() http.RoundTripper {
	t1 := http.DefaultTransport.(*http.Transport).Clone()
	t2, err := http2.ConfigureTransports(t1)
	if err != nil {
		return t1
	}
	t2.ReadIdleTimeout = 30 * time.Second
	t2.PingTimeout = 10 * time.Second
	return t1
}

// APIKeyLength reports the configured key length without exposing the key.
func (c *Client) APIKeyLength() int {
	return len(c.apiKey)
}

// Invoke posts payload to models/{model}:{method}. Any HTTP status is
// returned as a Response; only transport failures produce an error.
func (c *Client) Invoke(ctx context.Context, model, method string, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/%s/models/%s:%s", c.baseURL, c.version, url.PathEscape(model), method)
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if int64(len(respBody)) > c.maxBody {
		return nil, fmt.Errorf("reading response: %w", ErrResponseTooLarge)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// ListModels returns every model visible to the API key, following pagination.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	var models []Model
	pageToken := ""
	for {
		list, err := c.listPage(ctx, pageToken)
		if err != nil {
			return nil, err
		}
		models = append(models, list.Models...)
		if list.NextPageToken == "" || list.NextPageToken == pageToken {
			break
		}
		pageToken = list.NextPageToken
	}

	if models == nil {
		return []Model{}, nil
	}
	return models, nil
}

func (c *Client) listPage(ctx context.Context, pageToken string) (*ModelList, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("pageSize", fmt.Sprint(listPageSize))
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	endpoint := fmt.Sprintf("%s/%s/models?%s", c.baseURL, c.version, q.Encode())

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(b))
	}

	var list ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}
	return &list, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)
}
