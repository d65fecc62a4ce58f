package polling

import (
	"crypto/md5" //nolint:gosec // identifier derivation, not a security boundary
	"encoding/hex"
	"encoding/json"

	"github.com/wisbric/orchestra/pkg/connector"
)

// canonicalizeJSON re-serializes a JSON payload so that two payloads equal
// up to key order and whitespace hash identically, the same approach as
// pkg/workflow/diff.go and pkg/trigger/webhook/id.go use for their own
// canonicalization needs.
func canonicalizeJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(b)
}

// eventDedupeToken computes a polling event's dedup token: md5(triggerId-
// event[dedupeKey]) when the connector resolved a per-event dedupe key,
// falling back to a hash of the event payload otherwise (spec §4.4.2).
func eventDedupeToken(triggerID string, ev connector.Event) string {
	material := triggerID + "-" + ev.DedupeKey
	if ev.DedupeKey == "" {
		material = triggerID + "-" + canonicalizeJSON(ev.Payload)
	}
	sum := md5.Sum([]byte(material)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
