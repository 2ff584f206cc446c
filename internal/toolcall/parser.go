// Package toolcall scans assistant messages for embedded tool-call markup,
// normalizes legacy dialects into the canonical form, executes the named
// tools, and substitutes results back into the text.
package toolcall

import (
	"encoding/json"
	"regexp"
	"strings"
)

var functionCallPattern = regexp.MustCompile(`(?s)^([A-Za-z_][A-Za-z0-9_]*)\s*\((.*)\)$`)
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseInput turns the raw input attribute of a tool tag into a structured
// value. In order: JSON object/array, functional call `method(args...)`
// producing {"method": name, "args": [...]}, bare identifier producing
// {"method": name}, anything else the raw string unchanged.
func ParseInput(raw string) interface{} {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var parsed interface{}
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			return parsed
		}
		// Malformed JSON falls through to the remaining forms.
	}

	if match := functionCallPattern.FindStringSubmatch(trimmed); match != nil {
		return map[string]interface{}{
			"method": match[1],
			"args":   parseArgList(match[2]),
		}
	}

	if identifierPattern.MatchString(trimmed) {
		return map[string]interface{}{"method": trimmed}
	}

	// Anything unrecognized passes through untouched, whitespace included.
	return raw
}

// parseArgList splits a functional argument list on top-level commas,
// respecting quotes and JSON nesting, then parses each argument.
func parseArgList(raw string) []interface{} {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []interface{}{}
	}

	args := make([]interface{}, 0, 4)
	depth := 0
	var quote byte
	start := 0

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case quote != 0:
			if c == quote && (i == 0 || raw[i-1] != '\\') {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == ',' && depth == 0:
			args = append(args, parseArg(raw[start:i]))
			start = i + 1
		}
	}
	args = append(args, parseArg(raw[start:]))
	return args
}

// parseArg interprets one positional argument: quoted string, JSON literal
// (number, boolean, null, object, array), or bare string.
func parseArg(raw string) interface{} {
	trimmed := strings.TrimSpace(raw)

	if len(trimmed) >= 2 {
		first, last := trimmed[0], trimmed[len(trimmed)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			inner := trimmed[1 : len(trimmed)-1]
			inner = strings.ReplaceAll(inner, `\'`, `'`)
			inner = strings.ReplaceAll(inner, `\"`, `"`)
			return inner
		}
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
		return parsed
	}
	return trimmed
}
