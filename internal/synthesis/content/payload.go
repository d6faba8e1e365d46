package content

import "strings"

// DecodedPayload is one of StructuredItems, RawText or Empty.
type DecodedPayload interface {
	decodedPayload()
}

type StructuredItems struct {
	Items []map[string]any
}

type RawText struct {
	Text string
}

type Empty struct{}

func (StructuredItems) decodedPayload() {}
func (RawText) decodedPayload()         {}
func (Empty) decodedPayload()           {}

// PayloadFrom classifies a structured object and raw text returned by a generation client.
// Structured content wins when it yields at least one map.
func PayloadFrom(structured any, listKey string, text string) DecodedPayload {
	if items, ok := ItemsFromValue(structured, listKey); ok && len(items) > 0 {
		return StructuredItems{Items: items}
	}
	if strings.TrimSpace(text) != "" {
		return RawText{Text: text}
	}
	return Empty{}
}

// ItemsFromValue casts a decoded JSON value into item maps. It accepts an object carrying the list
// under listKey (or any single array-valued key), a bare array, or a single item object.
func ItemsFromValue(v any, listKey string) ([]map[string]any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case []map[string]any:
		return t, true
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			switch m := e.(type) {
			case map[string]any:
				out = append(out, m)
			case []any:
				// Nested lists are flattened; models sometimes wrap items twice.
				if inner, ok := ItemsFromValue(m, ""); ok {
					out = append(out, inner...)
				}
			case string:
				if strings.TrimSpace(m) != "" {
					out = append(out, map[string]any{"": m})
				}
			}
		}
		return out, true
	case map[string]any:
		if listKey != "" {
			if inner, ok := t[listKey]; ok {
				return ItemsFromValue(inner, "")
			}
		}
		var arrayKeys []string
		for k, inner := range t {
			if _, ok := inner.([]any); ok {
				arrayKeys = append(arrayKeys, k)
			}
		}
		if len(arrayKeys) == 1 {
			return ItemsFromValue(t[arrayKeys[0]], "")
		}
		if len(t) == 0 {
			return nil, false
		}
		return []map[string]any{t}, true
	default:
		return nil, false
	}
}
