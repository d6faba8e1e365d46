package decode

import (
	"encoding/json"
	"strings"

	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/filler"
)

// Structured casts the object returned by a client running in constrained mode.
type Structured struct{}

func (Structured) Tier() content.DecoderTier { return content.TierStructured }

func (Structured) Decode(in Input) ([]map[string]any, bool) {
	if !in.Constrained {
		return nil, false
	}
	v := in.Structured
	if v == nil {
		if strings.TrimSpace(in.Text) == "" {
			return nil, false
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(in.Text)), &v); err != nil {
			return nil, false
		}
	}
	return castItems(v, in.Schema.ListKey)
}

// Tolerant repairs common truncation artifacts before parsing.
type Tolerant struct{}

func (Tolerant) Tier() content.DecoderTier { return content.TierRepairedJSON }

func (Tolerant) Decode(in Input) ([]map[string]any, bool) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, false
	}
	repaired := Repair(text)
	if repaired == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return nil, false
	}
	return castItems(v, in.Schema.ListKey)
}

// Emergency synthesizes placeholder items from seed material. It always succeeds.
type Emergency struct{}

func (Emergency) Tier() content.DecoderTier { return content.TierEmergencyTemplate }

func (Emergency) Decode(in Input) ([]map[string]any, bool) {
	n := in.Spec.TargetCount
	if n < 1 {
		n = 1
	}
	syn := filler.Synthesizer{Schema: in.Schema, Spec: in.Spec}
	items := syn.Items(filler.PoolFor(in.Spec, in.Strategy), nil, n, 0)
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		out = append(out, it.Payload)
	}
	return out, true
}

func castItems(v any, listKey string) ([]map[string]any, bool) {
	items, ok := content.ItemsFromValue(v, listKey)
	if !ok || len(items) == 0 {
		return nil, false
	}
	return items, true
}
