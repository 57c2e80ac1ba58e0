package parser

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSONObject finds the first JSON object in a model response. A fenced
// code block wins, then the whole body, then the first balanced {...} span.
// Reasoning blocks are stripped before looking.
func ExtractJSONObject(text string) (map[string]interface{}, bool) {
	_, visible := SplitThinking(text)

	if m := fencedJSON.FindStringSubmatch(visible); m != nil {
		if obj, ok := decodeObject(m[1]); ok {
			return obj, true
		}
	}
	if obj, ok := decodeObject(visible); ok {
		return obj, true
	}
	if blob := firstObjectSpan(visible); blob != "" {
		return decodeObject(blob)
	}
	return nil, false
}

func decodeObject(s string) (map[string]interface{}, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// firstObjectSpan returns the first brace-balanced span, honoring string
// literals so braces inside quoted values do not end the span early.
func firstObjectSpan(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
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
				return s[start : i+1]
			}
		}
	}
	return ""
}

// StringField returns obj[key] as a trimmed string when present.
func StringField(obj map[string]interface{}, key string) (string, bool) {
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(s), true
}
