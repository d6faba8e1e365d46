package decode

import (
	"github.com/yungbote/neurobridge-synthesis/internal/platform/logger"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
)

// Input is the raw client output plus the request context the tiers need.
type Input struct {
	Text        string
	Structured  any
	Constrained bool

	Spec     content.GenerationSpec
	Schema   content.Schema
	Strategy content.Strategy
}

// Payload classifies the input. Structured content only counts when the client honored
// constrained mode.
func (in Input) Payload() content.DecodedPayload {
	var structured any
	if in.Constrained {
		structured = in.Structured
	}
	return content.PayloadFrom(structured, in.Schema.ListKey, in.Text)
}

type Output struct {
	Items []map[string]any
	Tier  content.DecoderTier
}

// Strategy is one decoder tier. Decode reports ok=false when the tier cannot produce a list of
// item-shaped maps; it never validates field completeness.
type Strategy interface {
	Tier() content.DecoderTier
	Decode(in Input) ([]map[string]any, bool)
}

type Decoder struct {
	log        *logger.Logger
	strategies []Strategy
	emergency  Strategy
}

// New returns the standard chain: structured, repaired_json, heuristic_text, emergency_template.
func New(log *logger.Logger) *Decoder {
	return NewWithStrategies(log, Structured{}, Tolerant{}, Heuristic{})
}

// NewWithStrategies runs the given strategies in order before the emergency tier, which is always
// last.
func NewWithStrategies(log *logger.Logger, strategies ...Strategy) *Decoder {
	return &Decoder{
		log:        log.With("service", "ResponseDecoder"),
		strategies: strategies,
		emergency:  Emergency{},
	}
}

// Decode runs the chain until a tier succeeds. It always returns items because the emergency tier
// cannot fail.
func (d *Decoder) Decode(in Input) Output {
	switch p := in.Payload().(type) {
	case content.Empty:
		d.log.Debug("empty completion; using emergency template", "schema_id", in.Schema.ID)
		return d.Emergency(in)
	case content.StructuredItems:
		d.log.Debug("structured payload received", "items", len(p.Items))
	case content.RawText:
		d.log.Debug("raw text payload received", "bytes", len(p.Text))
	}

	for _, s := range d.strategies {
		items, ok := s.Decode(in)
		if ok && len(items) > 0 {
			return Output{Items: items, Tier: s.Tier()}
		}
		d.log.Debug("decoder tier failed", "tier", string(s.Tier()), "schema_id", in.Schema.ID)
	}
	return d.Emergency(in)
}

func (d *Decoder) Emergency(in Input) Output {
	items, _ := d.emergency.Decode(in)
	return Output{Items: items, Tier: d.emergency.Tier()}
}
