package brightdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/time/rate"

	"github.com/snapcollect/collector/internal/poll"
)

const (
	DefaultBaseURL   = "https://api.brightdata.com"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5

	// maxErrorBody bounds how much of a failed response is kept in APIError.
	maxErrorBody = 64 << 10
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit caps outgoing requests per second. Zero or less disables it.
func WithRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trigger starts a collection for datasetID over inputs and returns the
// snapshot handle.
func (c *Client) Trigger(ctx context.Context, datasetID string, inputs []Input) (poll.Handle, error) {
	if datasetID == "" {
		return "", fmt.Errorf("trigger: dataset id is required")
	}
	if len(inputs) == 0 {
		return "", fmt.Errorf("trigger: at least one input is required")
	}

	body, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("marshal inputs: %w", err)
	}

	params := url.Values{}
	params.Set("dataset_id", datasetID)
	params.Set("include_errors", "true")

	var resp triggerResponse
	if err := c.doJSON(ctx, http.MethodPost, "/datasets/v3/trigger", params, body, &resp); err != nil {
		return "", err
	}
	if resp.SnapshotID == "" {
		return "", fmt.Errorf("trigger: response did not include a snapshot id")
	}

	log.Info().Str("dataset_id", datasetID).Str("snapshot_id", resp.SnapshotID).Int("inputs", len(inputs)).Msg("collection triggered")
	return poll.Handle(resp.SnapshotID), nil
}

// FetchStatus implements poll.StatusFetcher.
func (c *Client) FetchStatus(ctx context.Context, h poll.Handle) (poll.JobStatus, error) {
	var resp progressResponse
	if err := c.doJSON(ctx, http.MethodGet, "/datasets/v3/progress/"+url.PathEscape(h.String()), nil, nil, &resp); err != nil {
		return poll.JobStatus{}, err
	}
	return resp.jobStatus(), nil
}

// Download returns the raw snapshot in the requested format ("json" when empty).
func (c *Client) Download(ctx context.Context, h poll.Handle, format string) ([]byte, error) {
	if format == "" {
		format = "json"
	}
	params := url.Values{}
	params.Set("format", format)

	resp, err := c.do(ctx, http.MethodGet, "/datasets/v3/snapshot/"+url.PathEscape(h.String()), params, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return nil, fmt.Errorf("download %s: %w", h, ErrSnapshotNotReady)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, params url.Values, body []byte, result any) error {
	resp, err := c.do(ctx, method, path, params, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// do sends a request and returns the response for any 2xx status. Other
// statuses are turned into *APIError and the body is closed.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Debug().Str("method", method).Str("url", c.baseURL+path).Msg("brightdata request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   path,
			Body:       strings.TrimSpace(string(data)),
		}
	}
	return resp, nil
}
