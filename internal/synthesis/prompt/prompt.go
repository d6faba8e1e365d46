package prompt

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/template"

	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/client"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
)

// Header keys written at the top of every user prompt. Backends that cannot read JSON schemas
// (and the mock client) rely on them.
const (
	HeaderSchema      = "SCHEMA"
	HeaderTargetCount = "TARGET_COUNT"
	HeaderLevel       = "LEVEL"
	HeaderDomain      = "DOMAIN"
	HeaderSeedWords   = "SEED_WORDS"
	HeaderReinforce   = "REINFORCE"
	HeaderStage       = "STAGE"
)

type Input struct {
	Spec     content.GenerationSpec
	Schema   content.Schema
	Strategy content.Strategy
	Context  content.ProgressionContext
}

// Builder renders the request sent to the generation client.
type Builder interface {
	Build(in Input) (client.Request, error)
}

const defaultSystem = `You write short structured learning content for language learners.
Stay at the requested level, keep every item self-contained and never repeat an item.
{{- if .Constrained}}
Return JSON only, matching the provided schema.
{{- else}}
Return a JSON object with a "{{.ListKey}}" array. Do not add commentary.
{{- end}}`

const defaultUser = `SCHEMA: {{.SchemaID}}
TARGET_COUNT: {{.TargetCount}}
LEVEL: {{.Level}}
DOMAIN: {{.Domain}}
SEED_WORDS: {{join .SeedWords ", "}}
REINFORCE: {{join .Reinforce ", "}}
STAGE: {{.Stage}}

Write exactly {{.TargetCount}} {{.SchemaID}} items for a {{.Level}} learner ({{.Difficulty}}).
{{- if .Domain}}
Every item must fit this context: {{.Domain}}
{{- end}}
{{- if .SeedWords}}
Use these words, one or more per item: {{join .SeedWords ", "}}.
{{- end}}
{{- if .Reinforce}}
About {{.ReinforcePercent}}% of the items should revisit these known words: {{join .Reinforce ", "}}.
{{- end}}
{{- if .Prior}}
Do not reintroduce these words as new material: {{join .Prior ", "}}.
{{- end}}
Each item has these fields:
{{- range .Fields}}
- {{.Name}} ({{.Kind}}{{if .Required}}, required{{end}})
{{- end}}`

type fieldView struct {
	Name     string
	Kind     string
	Required bool
}

type templateData struct {
	SchemaID         string
	ListKey          string
	TargetCount      int
	Level            string
	Difficulty       string
	Domain           string
	SeedWords        []string
	Reinforce        []string
	Prior            []string
	ReinforcePercent int
	Stage            string
	Fields           []fieldView
	Constrained      bool
}

// TemplateBuilder renders prompts with text/template.
type TemplateBuilder struct {
	system      *template.Template
	user        *template.Template
	temperature float64
	constrained bool
}

var funcs = template.FuncMap{"join": strings.Join}

// NewTemplateBuilder uses the built-in templates. constrained selects the system instruction for
// clients that enforce the JSON schema natively.
func NewTemplateBuilder(temperature float64, constrained bool) *TemplateBuilder {
	b, err := NewTemplateBuilderFrom(defaultSystem, defaultUser, temperature, constrained)
	if err != nil {
		panic(err)
	}
	return b
}

func NewTemplateBuilderFrom(system, user string, temperature float64, constrained bool) (*TemplateBuilder, error) {
	st, err := template.New("system").Funcs(funcs).Parse(system)
	if err != nil {
		return nil, fmt.Errorf("parse system template: %w", err)
	}
	ut, err := template.New("user").Funcs(funcs).Parse(user)
	if err != nil {
		return nil, fmt.Errorf("parse user template: %w", err)
	}
	return &TemplateBuilder{system: st, user: ut, temperature: temperature, constrained: constrained}, nil
}

func (b *TemplateBuilder) Build(in Input) (client.Request, error) {
	data := b.data(in)

	var sys, usr strings.Builder
	if err := b.system.Execute(&sys, data); err != nil {
		return client.Request{}, fmt.Errorf("render system prompt: %w", err)
	}
	if err := b.user.Execute(&usr, data); err != nil {
		return client.Request{}, fmt.Errorf("render user prompt: %w", err)
	}

	return client.Request{
		System:      strings.TrimSpace(sys.String()),
		Prompt:      strings.TrimSpace(usr.String()),
		Temperature: b.temperature,
		Schema: &client.JSONSchema{
			Name:   in.Schema.ID,
			Schema: in.Schema.JSONSchema(),
			Strict: true,
		},
	}, nil
}

func (b *TemplateBuilder) data(in Input) templateData {
	level := in.Spec.LevelTag.Normalize()
	fields := make([]fieldView, 0, len(in.Schema.Fields))
	for _, f := range in.Schema.Fields {
		fields = append(fields, fieldView{Name: f.Name, Kind: string(f.Kind), Required: f.Required})
	}
	prior := make([]string, 0, len(in.Context.PriorItemsUsed))
	for _, p := range in.Context.PriorItemsUsed {
		if w := content.NormalizeWord(p); w != "" {
			prior = append(prior, w)
		}
	}
	return templateData{
		SchemaID:         in.Schema.ID,
		ListKey:          in.Schema.ListKey,
		TargetCount:      in.Spec.TargetCount,
		Level:            string(level),
		Difficulty:       level.DifficultyLabel(),
		Domain:           strings.Join(strings.Fields(in.Spec.DomainContext), " "),
		SeedWords:        in.Spec.SeedWords(),
		Reinforce:        in.Strategy.ReinforcementWords,
		Prior:            prior,
		ReinforcePercent: int(math.Round((1 - in.Strategy.NewRatioTarget) * 100)),
		Stage:            string(in.Strategy.Tag),
		Fields:           fields,
		Constrained:      b.constrained,
	}
}

// Header is the parsed key/value block at the top of a rendered user prompt.
type Header map[string]string

// ParseHeader reads leading "KEY: value" lines until the first blank line.
func ParseHeader(p string) Header {
	h := Header{}
	sc := bufio.NewScanner(strings.NewReader(p))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			break
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		h[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return h
}

func (h Header) List(key string) []string {
	var out []string
	for _, part := range strings.Split(h[key], ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (h Header) Int(key string, def int) int {
	n, err := strconv.Atoi(h[key])
	if err != nil {
		return def
	}
	return n
}
