package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/genai"

	"github.com/yungbote/neurobridge-synthesis/internal/platform/logger"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/client"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/config"
)

const (
	mimeTypeJSON   = "application/json"
	geminiUserRole = "user"
)

// Client generates content with the Gemini API. Requests with a schema set ResponseSchema, which
// makes the output constrained.
type Client struct {
	log    *logger.Logger
	client *genai.Client
	model  string
}

func New(ctx context.Context, log *logger.Logger, cfg config.BackendConfig) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini: missing api key (set GEMINI_API_KEY)")
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Client{log: log.With("service", "GeminiClient"), client: gc, model: model}, nil
}

func (c *Client) SupportsConstrained() bool { return true }

func (c *Client) Complete(ctx context.Context, req client.Request) (client.Completion, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return client.Completion{}, client.ErrEmptyPrompt
	}

	contents := []*genai.Content{{
		Role:  geminiUserRole,
		Parts: []*genai.Part{{Text: req.Prompt}},
	}}

	cfg := &genai.GenerateContentConfig{}
	if s := strings.TrimSpace(req.System); s != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: s}}}
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	constrained := false
	if req.Schema != nil && req.Schema.Schema != nil {
		cfg.ResponseMIMEType = mimeTypeJSON
		cfg.ResponseSchema = ConvertSchema(req.Schema.Schema)
		constrained = true
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return client.Completion{}, fmt.Errorf("gemini request failed: %w", err)
	}

	text := responseText(result)
	if result != nil && result.UsageMetadata != nil {
		c.log.Debug("gemini usage",
			"input_tokens", result.UsageMetadata.PromptTokenCount,
			"output_tokens", result.UsageMetadata.CandidatesTokenCount,
		)
	}
	if !constrained || strings.TrimSpace(text) == "" {
		return client.Completion{Text: text}, nil
	}

	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		c.log.Warn("gemini structured output did not parse", "error", err.Error())
		return client.Completion{Text: text}, nil
	}
	return client.Completion{Text: text, Structured: v, Constrained: true}, nil
}

func responseText(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 {
		return ""
	}
	cand := result.Candidates[0]
	if cand == nil || cand.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ConvertSchema maps the JSON schema subset produced by content.Schema onto genai.Schema.
// additionalProperties has no Gemini equivalent and is dropped.
func ConvertSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	switch m["type"] {
	case "object":
		s.Type = genai.TypeObject
	case "array":
		s.Type = genai.TypeArray
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	default:
		s.Type = genai.TypeString
	}

	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		names := make([]string, 0, len(props))
		for k, v := range props {
			if pm, ok := v.(map[string]any); ok {
				s.Properties[k] = ConvertSchema(pm)
				names = append(names, k)
			}
		}
		sort.Strings(names)
		s.PropertyOrdering = names
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = ConvertSchema(items)
	}
	switch req := m["required"].(type) {
	case []string:
		s.Required = append([]string(nil), req...)
	case []any:
		for _, r := range req {
			if str, ok := r.(string); ok {
				s.Required = append(s.Required, str)
			}
		}
	}
	return s
}
