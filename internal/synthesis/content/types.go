package content

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var ErrInvalidSpec = errors.New("invalid generation spec")

type DecoderTier string

const (
	TierStructured        DecoderTier = "structured"
	TierRepairedJSON      DecoderTier = "repaired_json"
	TierHeuristicText     DecoderTier = "heuristic_text"
	TierEmergencyTemplate DecoderTier = "emergency_template"
)

// Rank orders tiers from least (0) to most degraded (3).
func (t DecoderTier) Rank() int {
	switch t {
	case TierStructured:
		return 0
	case TierRepairedJSON:
		return 1
	case TierHeuristicText:
		return 2
	default:
		return 3
	}
}

func (t DecoderTier) Degraded() bool { return t != TierStructured }

// GenerationSpec describes one generation request. Treat it as immutable once built.
type GenerationSpec struct {
	TargetCount   int                 `json:"target_count" yaml:"target_count"`
	DomainContext string              `json:"domain_context" yaml:"domain_context"`
	LevelTag      LevelTag            `json:"level_tag,omitempty" yaml:"level_tag,omitempty"`
	SeedMaterial  map[string][]string `json:"seed_material,omitempty" yaml:"seed_material,omitempty"`
	SchemaID      string              `json:"schema_id" yaml:"schema_id"`
}

func (s GenerationSpec) Validate() error {
	if s.TargetCount < 1 {
		return fmt.Errorf("%w: target_count must be >= 1 (got %d)", ErrInvalidSpec, s.TargetCount)
	}
	if strings.TrimSpace(s.SchemaID) == "" {
		return fmt.Errorf("%w: schema_id is required", ErrInvalidSpec)
	}
	return nil
}

// SeedWords flattens SeedMaterial into a de-duplicated, lower-cased list. Fields are visited in
// sorted order so the result does not depend on map iteration.
func (s GenerationSpec) SeedWords() []string {
	if len(s.SeedMaterial) == 0 {
		return nil
	}
	fields := make([]string, 0, len(s.SeedMaterial))
	for k := range s.SeedMaterial {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	seen := map[string]bool{}
	out := []string{}
	for _, f := range fields {
		for _, w := range s.SeedMaterial[f] {
			w = NormalizeWord(w)
			if w == "" || seen[w] {
				continue
			}
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// DomainKeywords tokenizes DomainContext, dropping stop words and very short tokens.
func (s GenerationSpec) DomainKeywords() []string {
	return Keywords(s.DomainContext)
}

// ProgressionContext is a read-only snapshot of earlier cycles owned by the caller.
type ProgressionContext struct {
	PriorItemsUsed          []string `json:"prior_items_used,omitempty" yaml:"prior_items_used,omitempty"`
	ReinforcementCandidates []string `json:"reinforcement_candidates,omitempty" yaml:"reinforcement_candidates,omitempty"`
	SequencePosition        int      `json:"sequence_position" yaml:"sequence_position"`
}

func (p ProgressionContext) PriorSet() map[string]bool {
	out := make(map[string]bool, len(p.PriorItemsUsed))
	for _, w := range p.PriorItemsUsed {
		if w = NormalizeWord(w); w != "" {
			out[w] = true
		}
	}
	return out
}

type CandidateItem struct {
	Payload      map[string]any `json:"payload"`
	SourceWords  []string       `json:"source_words,omitempty"`
	QualityScore float64        `json:"quality_score"`
	Synthesized  bool           `json:"synthesized,omitempty"`
}

func (c CandidateItem) Clone() CandidateItem {
	out := c
	out.Payload = ClonePayload(c.Payload)
	if c.SourceWords != nil {
		out.SourceWords = append([]string(nil), c.SourceWords...)
	}
	return out
}

type Metrics struct {
	Coverage       float64 `json:"coverage"`
	Coherence      float64 `json:"coherence"`
	ProgressionFit float64 `json:"progression_fit"`
}

// Reconciliation records what the count reconciler and the empty-validation fallback did.
type Reconciliation struct {
	Trimmed         int  `json:"trimmed,omitempty"`
	Filled          int  `json:"filled,omitempty"`
	ValidationEmpty bool `json:"validation_empty,omitempty"`
}

func (r Reconciliation) Applied() bool {
	return r.Trimmed > 0 || r.Filled > 0 || r.ValidationEmpty
}

type ProgressionTag string

const (
	TagFoundation    ProgressionTag = "foundation"
	TagBuilding      ProgressionTag = "building"
	TagConsolidation ProgressionTag = "consolidation"
	TagMastery       ProgressionTag = "mastery"
)

type Strategy struct {
	NewRatioTarget     float64        `json:"new_ratio_target"`
	ReinforcementWords []string       `json:"reinforcement_words,omitempty"`
	Tag                ProgressionTag `json:"progression_tag"`
}

type SynthesisResult struct {
	Items           []CandidateItem `json:"items"`
	Metrics         Metrics         `json:"metrics"`
	DecoderTierUsed DecoderTier     `json:"decoder_tier_used"`
	Reconciliation  Reconciliation  `json:"reconciliation"`
	Strategy        Strategy        `json:"strategy"`
	CacheHit        bool            `json:"cache_hit"`
	CacheKey        string          `json:"cache_key,omitempty"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// Clone deep-copies the result so cached values cannot be mutated by callers.
func (r SynthesisResult) Clone() SynthesisResult {
	out := r
	if r.Items != nil {
		out.Items = make([]CandidateItem, len(r.Items))
		for i := range r.Items {
			out.Items[i] = r.Items[i].Clone()
		}
	}
	if r.Strategy.ReinforcementWords != nil {
		out.Strategy.ReinforcementWords = append([]string(nil), r.Strategy.ReinforcementWords...)
	}
	return out
}

func ClonePayload(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return ClonePayload(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
