package executor

import (
	"encoding/json"
	"regexp"
)

const redactedPlaceholder = "[redacted]"

// sensitiveKeyPattern matches field names a node result, trigger payload,
// or error detail should never surface in plain text (spec §4.6 Log
// redaction).
var sensitiveKeyPattern = regexp.MustCompile(`(?i)(secret|token|authorization|api[_-]?key|password)`)

// credentialValuePattern matches freestanding values that look like a
// credential regardless of the key they're stored under: bearer headers,
// JWTs, and the common "sk-..."/"AKIA..." API-key prefixes (spec §4.6:
// "values matching common credential patterns").
var credentialValuePattern = regexp.MustCompile(`(?i)^(bearer\s+\S+|sk-[a-z0-9]{10,}|AKIA[0-9A-Z]{16}|eyJ[a-z0-9_\-]+\.[a-z0-9_\-]+\.[a-z0-9_\-]+)$`)

// Redact masks sensitive fields in a JSON value before it is persisted to
// nodeResults/triggerData/errorDetails or written to a log line. Values
// that fail to parse as JSON are returned unchanged rather than dropped —
// callers that need a redacted opaque blob should not pass one in.
func Redact(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(redactValue(v, false))
	if err != nil {
		return raw
	}
	return out
}

func redactValue(v any, sensitiveContext bool) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = redactValue(val, sensitiveKeyPattern.MatchString(k))
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redactValue(val, sensitiveContext)
		}
		return out
	case string:
		if sensitiveContext || credentialValuePattern.MatchString(t) {
			return redactedPlaceholder
		}
		return t
	default:
		return v
	}
}
