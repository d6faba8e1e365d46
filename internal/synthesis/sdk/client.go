package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-synthesis/internal/pkg/httpx"
	"github.com/yungbote/neurobridge-synthesis/internal/platform/envutil"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int

	HTTPClient *http.Client
}

// Client talks to a running synthesis server over HTTP.
type Client struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration

	httpClient *http.Client
}

func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("baseURL required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL:    baseURL,
		timeout:    timeout,
		maxRetries: maxRetries,
		backoff:    250 * time.Millisecond,
		httpClient: hc,
	}, nil
}

// OptionsFromEnv reads SYNTH_BASE_URL, SYNTH_TIMEOUT_SECONDS and SYNTH_MAX_RETRIES.
func OptionsFromEnv() Options {
	return Options{
		BaseURL:    envutil.String("SYNTH_BASE_URL", "http://localhost:8080"),
		Timeout:    envutil.Seconds("SYNTH_TIMEOUT_SECONDS", 90*time.Second),
		MaxRetries: envutil.Int("SYNTH_MAX_RETRIES", 2),
	}
}

func NewFromEnv() (*Client, error) {
	return New(OptionsFromEnv())
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Synthesize(ctx context.Context, req SynthesizeRequest) (content.SynthesisResult, error) {
	var out content.SynthesisResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/synthesize", req, &out); err != nil {
		return content.SynthesisResult{}, err
	}
	return out, nil
}

// SynthesizeBatch sends every request in one call. Per-request failures come back in
// BatchItem.Error; only transport and envelope errors are returned as err.
func (c *Client) SynthesizeBatch(ctx context.Context, reqs []SynthesizeRequest) ([]BatchItem, error) {
	var out batchResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/synthesize/batch", batchRequest{Requests: reqs}, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) Schemas(ctx context.Context) ([]Schema, error) {
	var out schemasResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/schemas", nil, &out); err != nil {
		return nil, err
	}
	return out.Schemas, nil
}

func (c *Client) doJSON(ctx context.Context, method string, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
			_ = resp.Body.Close()
			if readErr != nil {
				return readErr
			}
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				if out == nil || len(raw) == 0 {
					return nil
				}
				return json.Unmarshal(raw, out)
			}
			lastErr = parseHTTPError(resp.StatusCode, raw)
			if !httpx.IsRetryableHTTPStatus(resp.StatusCode) {
				return lastErr
			}
		}

		if attempt < c.maxRetries {
			if err := httpx.Sleep(ctx, httpx.JitterSleep(httpx.Backoff(c.backoff, attempt, 5*time.Second))); err != nil {
				return err
			}
		}
	}

	if lastErr == nil {
		lastErr = errors.New("request failed")
	}
	return lastErr
}
