package jellyfin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/azuse/jellyfin-exporter/internal/logging"
)

const defaultTimeout = 10 * time.Second

type Config struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
		}
	} else if httpClient.Timeout == 0 {
		httpClient.Timeout = timeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

// BaseURL returns the normalised server URL requests are built from.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) request(ctx context.Context, endpoint string, withAuth bool) (*http.Response, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("invalid base URL: %w", err)}
	}

	rel, err := url.Parse(endpoint)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("invalid endpoint: %w", err)}
	}

	// Keep any path prefix on the base URL (reverse proxies often mount
	// Jellyfin under /jellyfin).
	fullURL := *base
	fullURL.Path = strings.TrimRight(base.Path, "/") + rel.Path
	if withAuth && c.apiKey != "" {
		query := rel.Query()
		query.Set("api_key", c.apiKey)
		fullURL.RawQuery = query.Encode()
	} else {
		fullURL.RawQuery = rel.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL.String(), nil)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("executing request: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{
			Endpoint: endpoint,
			Err:      fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes))),
		}
	}

	return resp, nil
}

func (c *Client) get(ctx context.Context, endpoint string, result interface{}) error {
	return c.getWithAuth(ctx, endpoint, result, true)
}

func (c *Client) getWithAuth(ctx context.Context, endpoint string, result interface{}, withAuth bool) error {
	start := time.Now()
	resp, err := c.request(ctx, endpoint, withAuth)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return &DecodeError{Endpoint: endpoint, Err: err}
		}
	}

	c.logger.Debug("jellyfin", "Request completed",
		logging.F("endpoint", endpoint),
		logging.F("elapsed", time.Since(start)))

	return nil
}

// Ping checks that the server is reachable. It uses the public info endpoint,
// so it succeeds even with a wrong API key.
func (c *Client) Ping(ctx context.Context) (*PublicSystemInfo, error) {
	var info PublicSystemInfo
	if err := c.getWithAuth(ctx, "/System/Info/Public", &info, false); err != nil {
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return &info, nil
}
