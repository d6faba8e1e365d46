package oaihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-synthesis/internal/pkg/httpx"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/client"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/config"
)

// Client talks to any OpenAI-compatible chat completions server (vLLM, SGLang, llama.cpp).
type Client struct {
	baseURL string
	apiKey  string
	model   string

	chatCompletionsPath string

	timeout      time.Duration
	retryBackoff time.Duration

	jsonSchemaMode           string
	jsonSchemaMaxRetries     int
	jsonSchemaMaxPromptBytes int

	httpClient *http.Client
}

func New(cfg config.BackendConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("oai_http: base_url required")
	}

	chatPath := strings.TrimSpace(cfg.ChatCompletionsPath)
	if chatPath == "" {
		chatPath = "/v1/chat/completions"
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.JSONSchema.Mode))
	if mode == "" {
		mode = "auto"
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	if maxRetries == 0 {
		maxRetries = 2
	}

	maxPromptBytes := cfg.JSONSchema.MaxPromptBytes
	if maxPromptBytes <= 0 {
		maxPromptBytes = 64 << 10
	}

	return &Client{
		baseURL:                  baseURL,
		apiKey:                   strings.TrimSpace(cfg.APIKey),
		model:                    strings.TrimSpace(cfg.Model),
		chatCompletionsPath:      chatPath,
		timeout:                  timeout,
		retryBackoff:             250 * time.Millisecond,
		jsonSchemaMode:           mode,
		jsonSchemaMaxRetries:     maxRetries,
		jsonSchemaMaxPromptBytes: maxPromptBytes,
		httpClient:               &http.Client{Transport: tr},
	}, nil
}

// NewWithHTTPClient is intended for tests; it avoids network access by using a custom RoundTripper.
func NewWithHTTPClient(cfg config.BackendConfig, httpClient *http.Client) (*Client, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c, nil
}

func (c *Client) SupportsConstrained() bool {
	return c.jsonSchemaMode == "guided_json" || c.jsonSchemaMode == "auto"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`

	// Optional OpenAI-compatible extensions supported by vLLM/SGLang variants.
	ResponseFormat map[string]any `json:"response_format,omitempty"`
	GuidedJSON     any            `json:"guided_json,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content,omitempty"`
		} `json:"message,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"choices"`
}

// Complete sends the prompt and returns the completion. Retryable upstream failures are retried with
// jittered backoff. With a strict schema the request is also retried until the output parses as
// JSON; when every attempt yields non-JSON text the last text is still returned so the decoder can
// salvage it.
func (c *Client) Complete(ctx context.Context, req client.Request) (client.Completion, error) {
	msgs := toChatMessages(req)
	if len(msgs) == 0 {
		return client.Completion{}, client.ErrEmptyPrompt
	}

	strict := req.Schema != nil && req.Schema.Strict
	attempts := 1 + c.jsonSchemaMaxRetries

	var lastErr error
	var lastText string
	for attempt := 0; attempt < attempts; attempt++ {
		body, guided := c.buildChatRequest(msgs, req, attempt)

		var resp chatCompletionResponse
		if err := c.doJSON(ctx, c.timeout, "POST", c.chatCompletionsPath, body, &resp); err != nil {
			lastErr = err
			if ctx.Err() != nil || !httpx.IsRetryableError(err) || attempt == attempts-1 {
				break
			}
			if err := httpx.Sleep(ctx, httpx.JitterSleep(httpx.Backoff(c.retryBackoff, attempt, 0))); err != nil {
				return client.Completion{}, err
			}
			continue
		}

		text := extractChatText(resp)
		if strings.TrimSpace(text) == "" {
			lastErr = errors.New("empty upstream completion")
			if !strict {
				break
			}
			continue
		}
		lastText = text

		if req.Schema == nil {
			return client.Completion{Text: text}, nil
		}

		clean := sanitizeJSONText(text)
		var v any
		if err := json.Unmarshal([]byte(clean), &v); err != nil {
			lastErr = fmt.Errorf("invalid json: %w", err)
			if strict {
				continue
			}
			return client.Completion{Text: text}, nil
		}
		return client.Completion{Text: clean, Structured: v, Constrained: guided}, nil
	}

	if lastText != "" {
		return client.Completion{Text: lastText}, nil
	}
	if lastErr == nil {
		lastErr = errors.New("generation failed")
	}
	return client.Completion{}, lastErr
}

func (c *Client) buildChatRequest(messages []chatMessage, in client.Request, attempt int) (chatCompletionRequest, bool) {
	req := chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: in.Temperature,
	}

	if in.Schema == nil {
		return req, false
	}

	mode := c.jsonSchemaMode
	if mode == "" {
		mode = "auto"
	}

	useGuided := mode == "guided_json" || (mode == "auto" && attempt == 0)
	usePrompt := mode == "prompt" || (mode == "auto" && attempt > 0)

	guided := false
	if useGuided && in.Schema.Schema != nil {
		req.ResponseFormat = map[string]any{"type": "json_object"}
		req.GuidedJSON = in.Schema.Schema
		guided = true
	}

	if usePrompt {
		req.Messages = append(append([]chatMessage{}, req.Messages...), chatMessage{
			Role:    "system",
			Content: c.jsonSchemaPrompt(in.Schema),
		})
	}

	return req, guided
}

func (c *Client) jsonSchemaPrompt(s *client.JSONSchema) string {
	if s == nil {
		return "Return ONLY valid JSON. Do not include markdown or commentary."
	}
	name := strings.TrimSpace(s.Name)

	var schemaText string
	if s.Schema != nil {
		if b, err := json.Marshal(s.Schema); err == nil {
			if len(b) <= c.jsonSchemaMaxPromptBytes {
				schemaText = string(b)
			}
		}
	}

	var b strings.Builder
	b.WriteString("Return ONLY a valid JSON value that conforms to the provided JSON Schema. Do not include markdown or commentary.\n")
	if name != "" {
		b.WriteString("Schema name: ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	if schemaText != "" {
		b.WriteString("Schema:\n")
		b.WriteString(schemaText)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func toChatMessages(req client.Request) []chatMessage {
	out := make([]chatMessage, 0, 2)
	if s := strings.TrimSpace(req.System); s != "" {
		out = append(out, chatMessage{Role: "system", Content: s})
	}
	if p := strings.TrimSpace(req.Prompt); p != "" {
		out = append(out, chatMessage{Role: "user", Content: p})
	}
	// A system message alone is not a prompt.
	if len(out) == 1 && out[0].Role == "system" {
		return nil
	}
	return out
}

func extractChatText(resp chatCompletionResponse) string {
	for _, c := range resp.Choices {
		if strings.TrimSpace(c.Message.Content) != "" {
			return c.Message.Content
		}
		if strings.TrimSpace(c.Text) != "" {
			return c.Text
		}
	}
	return ""
}

func sanitizeJSONText(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	// Strip leading ```lang and trailing ```
	firstNL := strings.IndexByte(s, '\n')
	if firstNL == -1 {
		return strings.TrimSpace(strings.Trim(s, "`"))
	}
	s = s[firstNL+1:]

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) doJSON(ctx context.Context, timeout time.Duration, method string, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	ctx2 := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx2, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx2, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return &client.HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
