// Package verdict turns untrusted mediation-oracle output into a verdict
// whose shape is guaranteed.
package verdict

import (
	"encoding/json"
	"strings"
)

// Result is the two-field mediation outcome. Both fields are always non-empty
// when produced by Extract.
type Result struct {
	Summary    string `json:"summary"`
	Compromise string `json:"compromise"`
}

const (
	fallbackSummary    = "Failed to generate proper verdict format."
	fallbackCompromise = "Please try again with clearer negotiation points."
)

// Fallback is the fixed verdict substituted when the oracle output cannot be
// parsed into the required shape.
func Fallback() Result {
	return Result{Summary: fallbackSummary, Compromise: fallbackCompromise}
}

// Extract is total: any input, including empty or binary garbage, yields a
// Result with two non-empty fields. It never panics and never returns an
// error. Strategy: strip code fences, locate the first balanced {...} span by
// bracket counting, parse strictly, fall back to the fixed default.
func Extract(raw string) Result {
	text := stripFences(raw)

	if span, ok := firstObjectSpan(text); ok {
		cleaned := strings.NewReplacer("\r", "", "\n", " ").Replace(span)
		if res, ok := parse(cleaned); ok {
			return res
		}
	}
	if res, ok := parse(strings.TrimSpace(text)); ok {
		return res
	}
	return Fallback()
}

func parse(text string) (Result, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return Result{}, false
	}
	summary, ok := stringField(fields, "summary")
	if !ok {
		return Result{}, false
	}
	compromise, ok := stringField(fields, "compromise")
	if !ok {
		return Result{}, false
	}
	return Result{Summary: summary, Compromise: compromise}, true
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// stripFences removes markdown code-block markers such as ``` or ```json.
func stripFences(text string) string {
	for {
		idx := strings.Index(text, "```")
		if idx < 0 {
			return strings.TrimSpace(text)
		}
		rest := text[idx+3:]
		if strings.HasPrefix(rest, "json") {
			rest = rest[4:]
		}
		text = text[:idx] + rest
	}
}

// firstObjectSpan returns the first balanced {...} span. Braces inside JSON
// string literals do not count toward the depth, so nested or quoted braces
// are handled correctly where a greedy regex would not be.
func firstObjectSpan(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
