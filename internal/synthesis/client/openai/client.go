package openai

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

	"github.com/yungbote/neurobridge-synthesis/internal/pkg/httpx"
	"github.com/yungbote/neurobridge-synthesis/internal/platform/logger"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/client"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/config"
)

// Client calls the OpenAI Responses API. Requests that carry a schema use strict json_schema
// structured outputs, so successful responses are always constrained.
type Client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
}

func New(log *logger.Logger, cfg config.BackendConfig) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai: missing api key (set OPENAI_API_KEY)")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		maxRetries: maxRetries,
		backoff:    time.Second,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// NewWithHTTPClient is intended for tests.
func NewWithHTTPClient(log *logger.Logger, cfg config.BackendConfig, httpClient *http.Client) (*Client, error) {
	c, err := New(log, cfg)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c, nil
}

func (c *Client) SupportsConstrained() bool { return true }

type inputMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type responsesRequest struct {
	Model        string         `json:"model"`
	Instructions string         `json:"instructions,omitempty"`
	Input        []inputMessage `json:"input"`

	Text struct {
		Format map[string]any `json:"format,omitempty"`
	} `json:"text,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func (c *Client) Complete(ctx context.Context, req client.Request) (client.Completion, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return client.Completion{}, client.ErrEmptyPrompt
	}

	body := responsesRequest{Model: c.model}
	if s := strings.TrimSpace(req.System); s != "" {
		body.Input = append(body.Input, inputMessage{Role: "system", Content: s})
	}
	body.Input = append(body.Input, inputMessage{Role: "user", Content: req.Prompt})
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	if req.Schema != nil && req.Schema.Schema != nil {
		body.Text.Format = map[string]any{
			"type":   "json_schema",
			"name":   schemaName(req.Schema.Name),
			"schema": req.Schema.Schema,
			"strict": req.Schema.Strict,
		}
	}

	var resp responsesResponse
	err := c.do(ctx, "/v1/responses", &body, &resp)
	if err != nil && body.Temperature != nil && isUnsupportedTemperatureParam(err) {
		// Reasoning models reject temperature; retry once without it.
		body.Temperature = nil
		err = c.do(ctx, "/v1/responses", &body, &resp)
	}
	if err != nil {
		return client.Completion{}, err
	}
	if resp.Refusal != "" {
		return client.Completion{}, fmt.Errorf("model refused: %s", resp.Refusal)
	}

	text := extractOutputText(resp)
	if body.Text.Format == nil || strings.TrimSpace(text) == "" {
		return client.Completion{Text: text}, nil
	}

	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		// Strict mode should make this impossible; hand the text to the decoder anyway.
		c.log.Warn("structured output did not parse", "error", err.Error())
		return client.Completion{Text: text}, nil
	}
	return client.Completion{Text: text, Structured: v, Constrained: true}, nil
}

func schemaName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "items"
	}
	return name
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.WriteString(c.Text)
				}
			}
		}
	}
	return out.String()
}

func isUnsupportedTemperatureParam(err error) bool {
	var he *client.HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusBadRequest {
		return false
	}
	b := strings.ToLower(he.Body)
	return strings.Contains(b, "temperature") && (strings.Contains(b, "unsupported") || strings.Contains(b, "not supported"))
}

func (c *Client) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &client.HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *Client) do(ctx context.Context, path string, body any, out any) error {
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w", uErr)
			}
			return nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries || ctx.Err() != nil {
			return err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return err
		}
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}
