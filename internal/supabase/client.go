package supabase

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the project's REST surfaces. A zero token uses the anon
// key; per-request user tokens are threaded through the builder methods.
type Client struct {
	config      Config
	baseURL     string
	restURL     string
	authURL     string
	storageURL  string
	realtimeURL string
	httpClient  *http.Client
}

// NewClient creates a client from config.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ProjectURL == "" {
		return nil, fmt.Errorf("supabase: project URL is required")
	}
	if cfg.AnonKey == "" {
		return nil, fmt.Errorf("supabase: anon key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	base := strings.TrimSuffix(cfg.ProjectURL, "/")

	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.Resilience {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &retryTransport{
				next:    http.DefaultTransport,
				retry:   defaultRetryPolicy(),
				breaker: newBreaker(defaultBreakerPolicy()),
			},
		}
	}

	ws := strings.Replace(base, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)

	return &Client{
		config:      cfg,
		baseURL:     base,
		restURL:     base + "/rest/v1",
		authURL:     base + "/auth/v1",
		storageURL:  base + "/storage/v1",
		realtimeURL: ws + "/realtime/v1/websocket",
		httpClient:  httpClient,
	}, nil
}

// From starts a database query against a table.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{client: c, table: table}
}

// Auth returns the auth sub-client.
func (c *Client) Auth() *AuthClient {
	return &AuthClient{client: c}
}

// Storage returns the storage sub-client for a bucket.
func (c *Client) Storage(bucket string) *BucketClient {
	return &BucketClient{client: c, bucket: bucket}
}

// Realtime returns the change-feed sub-client.
func (c *Client) Realtime() *RealtimeClient {
	return &RealtimeClient{client: c}
}

// serviceToken returns the strongest available key for server-side calls.
func (c *Client) serviceToken() string {
	if c.config.ServiceKey != "" {
		return c.config.ServiceKey
	}
	return c.config.AnonKey
}

// setHeaders applies the api key and bearer token. An empty token falls back
// to the service key so server-side components bypass RLS.
func (c *Client) setHeaders(req *http.Request, token string) {
	if token == "" {
		token = c.serviceToken()
	}
	req.Header.Set("apikey", c.config.AnonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	for k, v := range c.config.DefaultHeaders {
		req.Header.Set(k, v)
	}
}

// do executes the request and maps non-2xx responses to *Error.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabase request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, parseError(resp.StatusCode, body)
	}
	return body, nil
}

// parseError decodes a PostgREST/GoTrue error payload into *Error.
func parseError(status int, body []byte) error {
	apiErr := &Error{StatusCode: status}
	if len(body) > 0 {
		var raw struct {
			Code             string `json:"code"`
			Message          string `json:"message"`
			Msg              string `json:"msg"`
			ErrorField       string `json:"error"`
			ErrorDescription string `json:"error_description"`
			Details          string `json:"details"`
			Hint             string `json:"hint"`
		}
		if err := json.Unmarshal(body, &raw); err == nil {
			apiErr.Code = raw.Code
			apiErr.Details = raw.Details
			apiErr.Hint = raw.Hint
			switch {
			case raw.Message != "":
				apiErr.Message = raw.Message
			case raw.Msg != "":
				apiErr.Message = raw.Msg
			case raw.ErrorDescription != "":
				apiErr.Message = raw.ErrorDescription
			case raw.ErrorField != "":
				apiErr.Message = raw.ErrorField
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
