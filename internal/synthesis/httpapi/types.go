package httpapi

import (
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/engine"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/sdk"
)

// SynthesizeRequest is shared with the SDK so both sides agree on the wire shape.
type SynthesizeRequest = sdk.SynthesizeRequest

func toEngine(r SynthesizeRequest) engine.Request {
	return engine.Request{Spec: r.Spec(), Context: r.Context()}
}

type BatchRequest struct {
	Requests []SynthesizeRequest `json:"requests"`
}

type BatchItem struct {
	Index  int                      `json:"index"`
	Result *content.SynthesisResult `json:"result,omitempty"`
	Error  *errorBody               `json:"error,omitempty"`
}

type BatchResponse struct {
	Results []BatchItem `json:"results"`
}

type SchemaField struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Required bool   `json:"required,omitempty"`
}

type SchemaView struct {
	ID           string         `json:"id"`
	PrimaryField string         `json:"primary_field"`
	ListKey      string         `json:"list_key"`
	Fields       []SchemaField  `json:"fields"`
	JSONSchema   map[string]any `json:"json_schema"`
}

type SchemasResponse struct {
	Schemas []SchemaView `json:"schemas"`
}
