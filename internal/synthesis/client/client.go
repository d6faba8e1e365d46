package client

import (
	"context"
	"errors"
	"fmt"
)

type JSONSchema struct {
	Name   string
	Schema map[string]any
	Strict bool
}

type Request struct {
	System      string
	Prompt      string
	Temperature float64
	// Schema is a hint; clients without constrained decoding may ignore it.
	Schema *JSONSchema
}

// Completion is whatever the backend produced. Structured is set only when the backend returned a
// decoded object; Constrained reports that the backend honored the schema natively.
type Completion struct {
	Text        string
	Structured  any
	Constrained bool
}

// Client is the generative backend the synthesis engine drives.
type Client interface {
	Complete(ctx context.Context, req Request) (Completion, error)
	SupportsConstrained() bool
}

// HTTPError is returned by HTTP-backed clients for non-2xx upstream responses.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "upstream http error"
	}
	if e.Body == "" {
		return fmt.Sprintf("upstream http error: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("upstream http error: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

var ErrEmptyPrompt = errors.New("empty prompt")
