package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMissingReference is returned when a node's params reference a prior
// node's output (or a path within it) that does not exist (spec §4.6
// step 2: "missing refs fail fast with MissingReference").
var ErrMissingReference = errors.New("executor: missing reference")

// placeholderPattern matches {{nodeId.path}} template placeholders, the
// string-embedded counterpart to the {mode:"ref", nodeId, path} object
// form (spec §4.6 step 2).
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_\-]+)\.([a-zA-Z0-9_.\[\]]+)\s*\}\}`)

// resolveReferences walks a node's raw params, replacing every {mode:"ref",
// nodeId, path} object and every {{nodeId.path}} placeholder with the
// referenced value from a prior node's output. The result is re-marshaled
// through encoding/json, which sorts object keys — this also gives
// requestHash its canonical form for free.
func resolveReferences(raw json.RawMessage, outputs map[string]json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return json.RawMessage(`{}`), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw, nil
	}
	resolved, err := resolveValue(v, outputs)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("re-marshaling resolved params: %w", err)
	}
	return out, nil
}

func resolveValue(v any, outputs map[string]json.RawMessage) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if mode, _ := t["mode"].(string); mode == "ref" {
			nodeID, _ := t["nodeId"].(string)
			path, _ := t["path"].(string)
			return resolveRef(nodeID, path, outputs)
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			resolved, err := resolveValue(val, outputs)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			resolved, err := resolveValue(val, outputs)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case string:
		return resolvePlaceholders(t, outputs)
	default:
		return v, nil
	}
}

func resolveRef(nodeID, path string, outputs map[string]json.RawMessage) (any, error) {
	out, ok := outputs[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: node %q has no recorded output", ErrMissingReference, nodeID)
	}
	var decoded any
	if err := json.Unmarshal(out, &decoded); err != nil {
		return nil, fmt.Errorf("decoding output of node %q: %w", nodeID, err)
	}
	val, ok := navigatePath(decoded, path)
	if !ok {
		return nil, fmt.Errorf("%w: node %q has no value at path %q", ErrMissingReference, nodeID, path)
	}
	return val, nil
}

func navigatePath(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// resolvePlaceholders substitutes every {{nodeId.path}} placeholder in s.
// A string consisting of exactly one placeholder and nothing else resolves
// to the referenced value's native JSON type; placeholders embedded in a
// larger string are stringified and substituted in place.
func resolvePlaceholders(s string, outputs map[string]json.RawMessage) (any, error) {
	matches := placeholderPattern.FindAllStringSubmatch(s, -1)
	if matches == nil {
		return s, nil
	}

	if whole := placeholderPattern.FindStringIndex(s); whole != nil && whole[0] == 0 && whole[1] == len(s) && len(matches) == 1 {
		return resolveRef(matches[0][1], matches[0][2], outputs)
	}

	var resolveErr error
	replaced := placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := placeholderPattern.FindStringSubmatch(m)
		val, err := resolveRef(sub[1], sub[2], outputs)
		if err != nil {
			resolveErr = err
			return m
		}
		return stringify(val)
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	return replaced, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
