// Package modeljson extracts structured JSON from free-text model output.
// Model formatting is not contractually guaranteed, so every call site runs
// its response through the same repair ladder: fence stripping, brace
// slicing, comma/key normalization, truncation closing, and finally targeted
// field salvage. Valid JSON passes through unchanged.
package modeljson

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// excerptLimit bounds how much raw text a ParseError carries into logs.
const excerptLimit = 240

// Extracted is a successfully recovered JSON document. Partial marks objects
// synthesized from field salvage rather than a full parse.
type Extracted struct {
	JSON    string
	Partial bool
}

// Unmarshal decodes the recovered document into out.
func (e Extracted) Unmarshal(out any) error {
	return json.Unmarshal([]byte(e.JSON), out)
}

// ParseError reports an unrecoverable response with a bounded excerpt.
type ParseError struct {
	Excerpt string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable model response: %s (excerpt: %q)", e.Reason, e.Excerpt)
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	doubledCommaRe  = regexp.MustCompile(`,\s*,`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	determinationRe = regexp.MustCompile(`"overall_determination"\s*:\s*"([^"]*)"`)
)

// Extract applies the repair ladder to raw model output. wasTruncated signals
// a length-limited stop from the provider and enables bracket closing.
func Extract(raw string, wasTruncated bool) (Extracted, error) {
	stripped := stripCodeFence(raw)
	candidate := sliceBraces(stripped)
	if candidate == "" {
		return Extracted{}, &ParseError{Reason: "no JSON object found", Excerpt: excerpt(raw)}
	}
	if json.Valid([]byte(candidate)) {
		return Extracted{JSON: candidate}, nil
	}

	normalized := normalize(candidate)
	if json.Valid([]byte(normalized)) {
		return Extracted{JSON: normalized}, nil
	}

	if wasTruncated {
		closed := closeUnmatched(normalized)
		if json.Valid([]byte(closed)) {
			return Extracted{JSON: closed}, nil
		}
		normalized = closed
	}

	// Salvage scans the full stripped text, not the brace slice: when garbage
	// follows the last closing brace the slice can cut off trailing fields.
	if salvaged, ok := salvage(stripped); ok {
		return Extracted{JSON: salvaged, Partial: true}, nil
	}
	return Extracted{}, &ParseError{Reason: "repair heuristics exhausted", Excerpt: excerpt(raw)}
}

// stripCodeFence removes a single leading/trailing triple-backtick wrapper,
// optionally tagged json.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// sliceBraces cuts from the first '{' to the last '}', or to the end of the
// text when no closing brace survives (truncated output).
func sliceBraces(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

func normalize(s string) string {
	s = doubledCommaRe.ReplaceAllString(s, ",")
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = bareKeyRe.ReplaceAllString(s, `$1"$2":`)
	return s
}

// closeUnmatched appends the closing brackets a truncated response dropped.
// String literals are skipped so braces inside values do not count.
func closeUnmatched(s string) string {
	stack := make([]byte, 0, 8)
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}
	// a dangling comma before a synthetic closer breaks the parse
	trimmed := strings.TrimRight(b.String(), " \t\n\r")
	trimmed = strings.TrimSuffix(trimmed, ",")
	b.Reset()
	b.WriteString(trimmed)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

// salvage recovers the patent_assessments array and overall_determination
// string independently and synthesizes a minimal object from whatever parsed.
func salvage(s string) (string, bool) {
	out := map[string]any{}

	if arr := gjson.Get(s, "patent_assessments"); arr.Exists() && arr.IsArray() {
		items := []any{}
		for _, el := range arr.Array() {
			if !el.IsObject() || !json.Valid([]byte(el.Raw)) {
				continue
			}
			var item map[string]any
			if err := json.Unmarshal([]byte(el.Raw), &item); err == nil {
				items = append(items, item)
			}
		}
		if len(items) > 0 {
			out["patent_assessments"] = items
		}
	}

	if m := determinationRe.FindStringSubmatch(s); len(m) == 2 && strings.TrimSpace(m[1]) != "" {
		out["overall_determination"] = strings.TrimSpace(m[1])
	}

	if len(out) == 0 {
		return "", false
	}
	blob, err := json.Marshal(out)
	if err != nil {
		return "", false
	}
	return string(blob), true
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= excerptLimit {
		return s
	}
	return s[:excerptLimit] + "..."
}
