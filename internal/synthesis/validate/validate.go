package validate

import (
	"regexp"
	"strings"

	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
)

var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(word|item|term|example|sentence|question|answer|definition|text|option)\s*[_#-]?\s*\d+$`),
	regexp.MustCompile(`^\[.*\]$`),
	regexp.MustCompile(`^<.*>$`),
	regexp.MustCompile(`^\{\{.*\}\}$`),
	regexp.MustCompile(`^\{.*\}$`),
	regexp.MustCompile(`^[\[\]{}()<>"'.,;:!?*_/\\|-]+$`),
	regexp.MustCompile(`(?i)^(todo|tbd|n/?a|none|null|undefined|placeholder|\.\.\.|…)$`),
	regexp.MustCompile(`(?i)lorem ipsum`),
	regexp.MustCompile(`(?i)^your (word|sentence|question|answer|text) here$`),
}

var whitespace = regexp.MustCompile(`\s+`)

// Report counts what Validate dropped or filled, for logging.
type Report struct {
	Input          int `json:"input"`
	Kept           int `json:"kept"`
	Empty          int `json:"empty"`
	MissingPrimary int `json:"missing_primary"`
	TooShort       int `json:"too_short"`
	Placeholders   int `json:"placeholders"`
	Duplicates     int `json:"duplicates"`
	Backfilled     int `json:"backfilled"`
}

func (r Report) Dropped() int { return r.Input - r.Kept }

type Validator struct {
	Schema content.Schema
	Spec   content.GenerationSpec
}

func New(schema content.Schema, spec content.GenerationSpec) Validator {
	return Validator{Schema: schema, Spec: spec}
}

// IsPlaceholder reports whether v is template residue rather than content.
func IsPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return true
	}
	for _, re := range placeholderPatterns {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}

// Validate drops unusable items, normalizes the rest and back-fills optional fields. Items without
// primary content are dropped, never repaired.
func (v Validator) Validate(raw []map[string]any) ([]map[string]any, Report) {
	rep := Report{Input: len(raw)}
	out := make([]map[string]any, 0, len(raw))
	seen := map[string]bool{}
	primary := v.Schema.PrimaryField
	minLen := v.Schema.MinPrimaryLength
	if minLen <= 0 {
		minLen = 2
	}

	for _, item := range raw {
		if len(item) == 0 {
			rep.Empty++
			continue
		}
		norm := v.normalize(item)

		p := content.StringField(norm, primary)
		if p == "" {
			if rawP := content.StringField(item, primary); rawP != "" && IsPlaceholder(rawP) {
				rep.Placeholders++
			} else {
				rep.MissingPrimary++
			}
			continue
		}
		if IsPlaceholder(p) {
			rep.Placeholders++
			continue
		}
		if len([]rune(p)) < minLen {
			rep.TooShort++
			continue
		}
		key := strings.ToLower(p)
		if seen[key] {
			rep.Duplicates++
			continue
		}
		seen[key] = true

		rep.Backfilled += v.backfill(norm)
		out = append(out, norm)
	}
	rep.Kept = len(out)
	return out, rep
}

func (v Validator) normalize(item map[string]any) map[string]any {
	out := make(map[string]any, len(item))
	aliased := map[string]any{}
	for k, val := range item {
		nv, keep := normalizeValue(val)
		if !keep {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			aliased[v.Schema.PrimaryField] = nv
			continue
		}
		if _, ok := v.Schema.Field(key); ok {
			out[key] = nv
			continue
		}
		if canon, ok := v.Schema.CanonicalField(key); ok {
			aliased[canon] = nv
			continue
		}
		out[key] = nv
	}
	// Exact field names win over aliases.
	for k, val := range aliased {
		if _, exists := out[k]; !exists {
			out[k] = val
		}
	}
	return out
}

func normalizeValue(val any) (any, bool) {
	switch t := val.(type) {
	case nil:
		return nil, false
	case string:
		s := whitespace.ReplaceAllString(strings.TrimSpace(t), " ")
		if s == "" || IsPlaceholder(s) {
			return nil, false
		}
		return s, true
	case []any:
		list := make([]any, 0, len(t))
		for _, e := range t {
			if nv, ok := normalizeValue(e); ok {
				list = append(list, nv)
			}
		}
		if len(list) == 0 {
			return nil, false
		}
		return list, true
	default:
		return val, true
	}
}

func (v Validator) backfill(item map[string]any) int {
	n := 0
	for _, f := range v.Schema.Fields {
		if f.Name == v.Schema.PrimaryField {
			continue
		}
		if _, ok := item[f.Name]; ok {
			continue
		}
		val := f.Default
		switch {
		case f.Name == content.FieldDifficulty || val == "$level":
			val = v.Spec.LevelTag.DifficultyLabel()
		case val == "":
			continue
		}
		if strings.Contains(val, "{") {
			val = strings.NewReplacer(
				"{word}", content.StringField(item, v.Schema.PrimaryField),
				"{domain}", domainOrDefault(v.Spec.DomainContext),
				"{level}", v.Spec.LevelTag.DifficultyLabel(),
			).Replace(val)
		}
		item[f.Name] = val
		n++
	}
	return n
}

func domainOrDefault(d string) string {
	if d = strings.TrimSpace(d); d != "" {
		return d
	}
	return "this topic"
}
