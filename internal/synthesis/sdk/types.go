package sdk

import "github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"

type Progression struct {
	PriorItemsUsed          []string `json:"prior_items_used,omitempty" yaml:"prior_items_used,omitempty"`
	ReinforcementCandidates []string `json:"reinforcement_candidates,omitempty" yaml:"reinforcement_candidates,omitempty"`
	SequencePosition        int      `json:"sequence_position" yaml:"sequence_position"`
}

// SynthesizeRequest is the wire form of POST /v1/synthesize. The CLI reads request files in the
// same shape.
type SynthesizeRequest struct {
	SchemaID      string              `json:"schema_id" yaml:"schema_id"`
	TargetCount   int                 `json:"target_count" yaml:"target_count"`
	DomainContext string              `json:"domain_context" yaml:"domain_context"`
	LevelTag      string              `json:"level_tag,omitempty" yaml:"level_tag,omitempty"`
	SeedMaterial  map[string][]string `json:"seed_material,omitempty" yaml:"seed_material,omitempty"`
	Progression   Progression         `json:"progression" yaml:"progression"`
}

func (r SynthesizeRequest) Spec() content.GenerationSpec {
	return content.GenerationSpec{
		TargetCount:   r.TargetCount,
		DomainContext: r.DomainContext,
		LevelTag:      content.LevelTag(r.LevelTag),
		SeedMaterial:  r.SeedMaterial,
		SchemaID:      r.SchemaID,
	}
}

func (r SynthesizeRequest) Context() content.ProgressionContext {
	return content.ProgressionContext{
		PriorItemsUsed:          r.Progression.PriorItemsUsed,
		ReinforcementCandidates: r.Progression.ReinforcementCandidates,
		SequencePosition:        r.Progression.SequencePosition,
	}
}

type batchRequest struct {
	Requests []SynthesizeRequest `json:"requests"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

type BatchItem struct {
	Index  int                      `json:"index"`
	Result *content.SynthesisResult `json:"result,omitempty"`
	Error  *ErrorBody               `json:"error,omitempty"`
}

type batchResponse struct {
	Results []BatchItem `json:"results"`
}

type SchemaField struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Required bool   `json:"required,omitempty"`
}

type Schema struct {
	ID           string         `json:"id"`
	PrimaryField string         `json:"primary_field"`
	ListKey      string         `json:"list_key"`
	Fields       []SchemaField  `json:"fields"`
	JSONSchema   map[string]any `json:"json_schema,omitempty"`
}

type schemasResponse struct {
	Schemas []Schema `json:"schemas"`
}
