package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-synthesis/internal/platform/logger"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/client"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/config"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func outputResponse(text string) *http.Response {
	b, _ := json.Marshal(map[string]any{
		"output": []any{map[string]any{
			"type": "message",
			"role": "assistant",
			"content": []any{map[string]any{
				"type": "output_text",
				"text": text,
			}},
		}},
	})
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(b))}
}

func newTestClient(t *testing.T, rt roundTripperFunc) *Client {
	t.Helper()
	c, err := NewWithHTTPClient(logger.Nop(), config.BackendConfig{APIKey: "sk-test", Model: "gpt-test", MaxRetries: 2}, &http.Client{Transport: rt})
	if err != nil {
		t.Fatalf("NewWithHTTPClient: %v", err)
	}
	c.backoff = time.Millisecond
	return c
}

func TestComplete_StrictJSONSchema(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1/responses" {
			t.Fatalf("path=%s", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("auth=%q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		text, _ := body["text"].(map[string]any)
		format, _ := text["format"].(map[string]any)
		if format["type"] != "json_schema" || format["strict"] != true || format["name"] != "vocabulary" {
			t.Fatalf("format=%#v", format)
		}
		return outputResponse(`{"items":[{"word":"tide"}]}`), nil
	})

	out, err := c.Complete(context.Background(), client.Request{
		System: "sys",
		Prompt: "user",
		Schema: &client.JSONSchema{Name: "vocabulary", Schema: map[string]any{"type": "object"}, Strict: true},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !out.Constrained || out.Structured == nil {
		t.Fatalf("out=%#v", out)
	}
}

func TestComplete_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return &http.Response{StatusCode: http.StatusTooManyRequests, Body: io.NopCloser(strings.NewReader("slow down"))}, nil
		}
		return outputResponse("plain text"), nil
	})

	out, err := c.Complete(context.Background(), client.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out.Text != "plain text" || out.Constrained {
		t.Fatalf("out=%#v", out)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls=%d", calls)
	}
}

func TestComplete_DropsUnsupportedTemperature(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		n := atomic.AddInt32(&calls, 1)
		var body map[string]any
		_ = json.NewDecoder(req.Body).Decode(&body)
		if n == 1 {
			if _, ok := body["temperature"]; !ok {
				t.Fatalf("expected temperature on first call")
			}
			return &http.Response{
				StatusCode: http.StatusBadRequest,
				Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"Unsupported parameter: 'temperature'"}}`)),
			}, nil
		}
		if _, ok := body["temperature"]; ok {
			t.Fatalf("temperature should be dropped on retry")
		}
		return outputResponse("ok"), nil
	})

	if _, err := c.Complete(context.Background(), client.Request{Prompt: "hi", Temperature: 0.7}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls=%d", calls)
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(logger.Nop(), config.BackendConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}
