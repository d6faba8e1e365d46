package decode

import (
	"strconv"
	"strings"
)

// RepairRule is one entry of the fixed malformation table applied by Repair.
type RepairRule struct {
	Name  string
	Apply func(string) string
}

var repairRules = []RepairRule{
	{Name: "strip_code_fences", Apply: stripCodeFences},
	{Name: "trim_surrounding_prose", Apply: trimSurroundingProse},
	{Name: "close_unterminated_string", Apply: closeUnterminatedString},
	{Name: "drop_dangling_tail", Apply: dropDanglingTail},
	{Name: "drop_stray_array_tokens", Apply: dropStrayArrayTokens},
	{Name: "remove_trailing_commas", Apply: removeTrailingCommas},
	{Name: "close_open_delimiters", Apply: closeOpenDelimiters},
}

// RepairRules returns the repair table in application order.
func RepairRules() []RepairRule {
	out := make([]RepairRule, len(repairRules))
	copy(out, repairRules)
	return out
}

// Repair applies every rule of the repair table in order. It has no side effects and is safe on
// arbitrary input; text that is already valid JSON comes back unchanged apart from fences and
// surrounding prose.
func Repair(s string) string {
	for _, r := range repairRules {
		s = r.Apply(s)
	}
	return s
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start == -1 {
		return s
	}
	body := s[start+3:]
	// Drop the language tag on the opening fence line.
	if nl := strings.IndexByte(body, '\n'); nl != -1 {
		tag := strings.TrimSpace(body[:nl])
		if !strings.ContainsAny(tag, "{[") {
			body = body[nl+1:]
		}
	} else {
		body = strings.TrimLeft(body, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	}
	if end := strings.Index(body, "```"); end != -1 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func trimSurroundingProse(s string) string {
	start := strings.IndexByte(s, '{')
	for i := 0; i < len(s); i++ {
		if s[i] != '[' {
			continue
		}
		if start != -1 && i > start {
			break
		}
		next := nextNonSpace(s, i+1)
		if next == '{' || next == '[' || next == '"' || next == ']' || start == -1 {
			start = i
			break
		}
	}
	if start == -1 {
		return s
	}
	s = s[start:]

	depth := 0
	inStr, esc := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return strings.TrimSpace(s)
}

func closeUnterminatedString(s string) string {
	inStr, esc := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		if c == '"' {
			inStr = true
		}
	}
	if !inStr {
		return s
	}
	if esc {
		s = s[:len(s)-1]
	}
	return s + `"`
}

// dropDanglingTail removes a trailing separator, a key without a value, or a truncated literal so
// the remaining prefix can be closed.
func dropDanglingTail(s string) string {
	toks := tokenize(s)
	changed := false
	for len(toks) > 0 {
		last := toks[len(toks)-1]
		switch {
		case last.kind == tokPunct && (last.text == "," || last.text == ":"):
			toks = toks[:len(toks)-1]
			if last.text == ":" && len(toks) > 0 && toks[len(toks)-1].kind == tokString {
				toks = toks[:len(toks)-1]
			}
		case last.kind == tokBare && !validLiteral(last.text):
			toks = toks[:len(toks)-1]
		case last.kind == tokString && last.ctx == '{' && len(toks) > 1 && isKeyPosition(toks[len(toks)-2]):
			toks = toks[:len(toks)-1]
		default:
			if !changed {
				return s
			}
			return strings.TrimSpace(s[:last.end])
		}
		changed = true
	}
	return ""
}

func isKeyPosition(prev token) bool {
	return prev.kind == tokPunct && (prev.text == "{" || prev.text == ",")
}

func validLiteral(s string) bool {
	switch s {
	case "true", "false", "null":
		return true
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// dropStrayArrayTokens removes an unmatched "[" that appears inside an array directly before an
// object, as in `[{"a":1}, [{"b":2}]` where the model opened a nested list by mistake.
func dropStrayArrayTokens(s string) string {
	toks := tokenize(s)
	type open struct {
		idx     int
		matched bool
	}
	var stack []open
	unmatched := map[int]bool{}
	for i, t := range toks {
		if t.kind != tokPunct {
			continue
		}
		switch t.text {
		case "{", "[":
			stack = append(stack, open{idx: i})
		case "}", "]":
			want := "{"
			if t.text == "]" {
				want = "["
			}
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if toks[top.idx].text == want {
					break
				}
				unmatched[top.idx] = true
			}
		}
	}
	for _, o := range stack {
		unmatched[o.idx] = true
	}

	drop := map[int]bool{}
	for idx := range unmatched {
		t := toks[idx]
		if t.text != "[" || t.ctx != '[' || idx == 0 || idx+1 >= len(toks) {
			continue
		}
		prev, next := toks[idx-1], toks[idx+1]
		if prev.kind != tokPunct || (prev.text != "," && prev.text != "[") {
			continue
		}
		if next.kind == tokPunct && next.text == "{" {
			drop[idx] = true
		}
	}
	if len(drop) == 0 {
		return s
	}
	var b strings.Builder
	pos := 0
	for i, t := range toks {
		if !drop[i] {
			continue
		}
		b.WriteString(s[pos:t.start])
		pos = t.end
	}
	b.WriteString(s[pos:])
	return b.String()
}

func removeTrailingCommas(s string) string {
	toks := tokenize(s)
	var b strings.Builder
	pos := 0
	for i, t := range toks {
		if t.kind != tokPunct || t.text != "," {
			continue
		}
		if i+1 < len(toks) && toks[i+1].kind == tokPunct && (toks[i+1].text == "}" || toks[i+1].text == "]") {
			b.WriteString(s[pos:t.start])
			pos = t.end
		}
	}
	if pos == 0 {
		return s
	}
	b.WriteString(s[pos:])
	return b.String()
}

// closeOpenDelimiters appends the closers for every still-open bracket and inserts closers where a
// bracket was closed with the wrong delimiter.
func closeOpenDelimiters(s string) string {
	var b strings.Builder
	var stack []byte
	inStr, esc := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			b.WriteByte(c)
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			open := byte('{')
			if c == ']' {
				open = '['
			}
			if !containsByte(stack, open) {
				// Closer with nothing to close; drop it.
				continue
			}
			for len(stack) > 0 && stack[len(stack)-1] != open {
				b.WriteByte(closerFor(stack[len(stack)-1]))
				stack = stack[:len(stack)-1]
			}
			stack = stack[:len(stack)-1]
		}
		b.WriteByte(c)
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(closerFor(stack[i]))
	}
	return b.String()
}

func closerFor(open byte) byte {
	if open == '[' {
		return ']'
	}
	return '}'
}

func containsByte(stack []byte, c byte) bool {
	for _, s := range stack {
		if s == c {
			return true
		}
	}
	return false
}

func nextNonSpace(s string, from int) byte {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return s[i]
		}
	}
	return 0
}

type tokKind int

const (
	tokPunct tokKind = iota
	tokString
	tokBare
)

type token struct {
	kind       tokKind
	text       string
	start, end int
	// ctx is the innermost open delimiter when the token was read ('{', '[' or 0).
	ctx byte
}

// tokenize splits JSON-ish text into punctuation, string and bare tokens. Unterminated strings run
// to the end of input.
func tokenize(s string) []token {
	var out []token
	var stack []byte
	top := func() byte {
		if len(stack) == 0 {
			return 0
		}
		return stack[len(stack)-1]
	}
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '"':
			j := i + 1
			esc := false
			for ; j < len(s); j++ {
				if esc {
					esc = false
					continue
				}
				if s[j] == '\\' {
					esc = true
					continue
				}
				if s[j] == '"' {
					j++
					break
				}
			}
			if j > len(s) {
				j = len(s)
			}
			out = append(out, token{kind: tokString, text: s[i:j], start: i, end: j, ctx: top()})
			i = j
		case strings.IndexByte("{}[]:,", c) != -1:
			out = append(out, token{kind: tokPunct, text: string(c), start: i, end: i + 1, ctx: top()})
			switch c {
			case '{', '[':
				stack = append(stack, c)
			case '}', ']':
				if len(stack) > 0 {
					stack = stack[:len(stack)-1]
				}
			}
			i++
		default:
			j := i
			for j < len(s) && strings.IndexByte("{}[]:,\" \t\n\r", s[j]) == -1 {
				j++
			}
			out = append(out, token{kind: tokBare, text: s[i:j], start: i, end: j, ctx: top()})
			i = j
		}
	}
	return out
}
