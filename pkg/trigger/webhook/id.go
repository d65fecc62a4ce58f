// Package webhook implements inbound webhook trigger reception (spec
// §4.4.1): provider-specific signature verification, dedup tokens, and
// execution job enqueue.
package webhook

import (
	"crypto/md5" //nolint:gosec // identifier derivation, not a security boundary
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// DeriveWebhookID computes the public path segment a trigger is reachable
// at: the first 16 hex characters of md5(appId|triggerId|workflowId|
// createdAt) (spec §4.4.1).
func DeriveWebhookID(appID, triggerID, workflowID string, createdAt time.Time) string {
	material := strings.Join([]string{appID, triggerID, workflowID, createdAt.UTC().Format(time.RFC3339Nano)}, "|")
	sum := md5.Sum([]byte(material)) //nolint:gosec
	return hex.EncodeToString(sum[:])[:16]
}

// canonicalizeJSON re-serializes a JSON payload so that two payloads equal
// up to key order and whitespace hash identically, reusing the same
// approach as pkg/workflow's diff canonicalization.
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

// DedupeToken computes the exactly-once delivery token for a webhook
// delivery: md5(workflowId|webhookId|triggerId|source|payloadCanonical)
// (spec §4.4.1).
func DedupeToken(workflowID, webhookID, triggerID, source string, payload json.RawMessage) string {
	material := strings.Join([]string{workflowID, webhookID, triggerID, source, canonicalizeJSON(payload)}, "|")
	sum := md5.Sum([]byte(material)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
