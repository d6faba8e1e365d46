package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/client"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/config"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/prompt"
)

// Response shapes the mock can produce. Each one exercises a different decoder tier.
const (
	ModeJSON      = "json"
	ModeFenced    = "fenced"
	ModeTruncated = "truncated"
	ModeProse     = "prose"
	ModeList      = "list"
	ModeEmpty     = "empty"
	ModeError     = "error"
	ModeSlow      = "slow"
)

// Client is a deterministic offline backend. It reads the prompt header to decide what to write.
type Client struct {
	mode     string
	delay    time.Duration
	registry *content.Registry
	calls    atomic.Int64
}

func New(mode string) *Client {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeJSON
	}
	return &Client{mode: mode, registry: content.DefaultRegistry()}
}

func FromConfig(cfg config.BackendConfig) *Client {
	c := New(cfg.Mock.Mode)
	c.delay = cfg.Mock.Delay.Duration
	if c.mode == ModeSlow && c.delay <= 0 {
		c.delay = 2 * time.Second
	}
	return c
}

// WithRegistry makes custom schemas visible to the mock.
func (c *Client) WithRegistry(r *content.Registry) *Client {
	if r != nil {
		c.registry = r
	}
	return c
}

func (c *Client) Calls() int64 { return c.calls.Load() }

func (c *Client) SupportsConstrained() bool {
	return c.mode == ModeJSON || c.mode == ModeSlow
}

func (c *Client) Complete(ctx context.Context, req client.Request) (client.Completion, error) {
	c.calls.Add(1)
	if strings.TrimSpace(req.Prompt) == "" {
		return client.Completion{}, client.ErrEmptyPrompt
	}

	if c.delay > 0 {
		t := time.NewTimer(c.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return client.Completion{}, ctx.Err()
		case <-t.C:
		}
	}

	h := prompt.ParseHeader(req.Prompt)
	schema := c.registry.Lookup(h[prompt.HeaderSchema])
	items := c.items(h, schema)

	switch c.mode {
	case ModeJSON, ModeSlow:
		doc := map[string]any{schema.ListKey: toAny(items)}
		b, _ := json.Marshal(doc)
		var structured any
		_ = json.Unmarshal(b, &structured)
		return client.Completion{Text: string(b), Structured: structured, Constrained: req.Schema != nil}, nil

	case ModeFenced:
		b, _ := json.MarshalIndent(map[string]any{schema.ListKey: toAny(items)}, "", "  ")
		return client.Completion{Text: "Sure! Here are the items you asked for:\n```json\n" + string(b) + "\n```\nLet me know if you need more."}, nil

	case ModeTruncated:
		b, _ := json.Marshal(map[string]any{schema.ListKey: toAny(items)})
		cut := len(b) * 3 / 4
		return client.Completion{Text: string(b[:cut])}, nil

	case ModeProse:
		var sb strings.Builder
		sb.WriteString("Here is what I came up with.\n\n")
		for _, it := range items {
			for _, f := range schema.Fields {
				v, ok := it[f.Name]
				if !ok {
					continue
				}
				fmt.Fprintf(&sb, "%s: %s\n", labelFor(f.Name), textValue(v))
			}
			sb.WriteString("\n")
		}
		return client.Completion{Text: sb.String()}, nil

	case ModeList:
		var sb strings.Builder
		second := secondField(schema)
		for i, it := range items {
			primary := textValue(it[schema.PrimaryField])
			if second != "" {
				fmt.Fprintf(&sb, "%d. %s - %s\n", i+1, primary, textValue(it[second]))
			} else {
				fmt.Fprintf(&sb, "%d. %s\n", i+1, primary)
			}
		}
		return client.Completion{Text: sb.String()}, nil

	case ModeEmpty:
		return client.Completion{}, nil

	case ModeError:
		return client.Completion{}, &client.HTTPError{StatusCode: http.StatusServiceUnavailable, Body: "mock backend unavailable"}

	default:
		return client.Completion{}, fmt.Errorf("mock: unknown mode %q", c.mode)
	}
}

// items writes one item per requested slot, cycling through seed words and then reinforcement
// words.
func (c *Client) items(h prompt.Header, schema content.Schema) []map[string]any {
	n := h.Int(prompt.HeaderTargetCount, 3)
	if n < 1 {
		n = 1
	}
	words := append(h.List(prompt.HeaderSeedWords), h.List(prompt.HeaderReinforce)...)
	if len(words) == 0 {
		words = content.Keywords(h[prompt.HeaderDomain])
	}
	if len(words) == 0 {
		words = []string{"word"}
	}
	domain := h[prompt.HeaderDomain]
	if domain == "" {
		domain = "everyday life"
	}
	difficulty := content.LevelTag(h[prompt.HeaderLevel]).DifficultyLabel()

	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		w := words[i%len(words)]
		if i >= len(words) {
			w = fmt.Sprintf("%s %d", w, i/len(words)+1)
		}
		out = append(out, itemFor(schema, w, domain, difficulty))
	}
	return out
}

func itemFor(schema content.Schema, w, domain, difficulty string) map[string]any {
	item := map[string]any{}
	for _, f := range schema.Fields {
		switch {
		case f.Name == content.FieldDifficulty:
			item[f.Name] = difficulty
		case f.Name == "word" || f.Name == "target_word":
			item[f.Name] = w
		case f.Kind == content.KindList:
			item[f.Name] = []string{w, "a different " + w, "none of these"}
		case f.Name == schema.PrimaryField:
			item[f.Name] = fmt.Sprintf("We talked about %s while discussing %s.", w, domain)
		default:
			item[f.Name] = fmt.Sprintf("A %s for %s in the context of %s.", strings.ReplaceAll(f.Name, "_", " "), w, domain)
		}
	}
	return item
}

func secondField(schema content.Schema) string {
	for _, f := range schema.Fields {
		if f.Name != schema.PrimaryField && f.Kind == content.KindString && f.Name != content.FieldDifficulty && f.Name != "target_word" && f.Name != "part_of_speech" {
			return f.Name
		}
	}
	return ""
}

func labelFor(field string) string {
	s := strings.ReplaceAll(field, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func textValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	default:
		return fmt.Sprint(t)
	}
}

func toAny(items []map[string]any) []any {
	out := make([]any, len(items))
	for i := range items {
		out[i] = items[i]
	}
	return out
}
