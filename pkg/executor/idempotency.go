package executor

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// canonicalRequest is the shape requestHash is computed over: the connector
// op plus its fully resolved params, re-marshaled with sorted keys by
// encoding/json (spec §4.6 step 3).
type canonicalRequest struct {
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params"`
}

// requestHash returns the sha256 of the canonical {op, resolvedParams}
// pair. It is stored alongside a cached NodeExecutionResult so a later
// idempotency-key match can be checked for request drift.
func requestHash(op string, resolvedParams json.RawMessage) (string, error) {
	b, err := json.Marshal(canonicalRequest{Op: op, Params: resolvedParams})
	if err != nil {
		return "", fmt.Errorf("canonicalizing request: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// userIdempotencyKey extracts a caller-supplied idempotency key from a
// node's resolved params, if present.
func userIdempotencyKey(resolvedParams json.RawMessage) string {
	var fields struct {
		IdempotencyKey string `json:"idempotencyKey"`
	}
	if err := json.Unmarshal(resolvedParams, &fields); err != nil {
		return ""
	}
	return fields.IdempotencyKey
}

// idempotencyKey returns the key used to look up and store a cached
// NodeExecutionResult: the user-supplied key if the node params name one,
// else md5(executionId|nodeId|requestHash) (spec §4.6 step 4).
func idempotencyKey(executionID uuid.UUID, nodeID, reqHash string, resolvedParams json.RawMessage) string {
	if k := userIdempotencyKey(resolvedParams); k != "" {
		return k
	}
	sum := md5.Sum([]byte(executionID.String() + "|" + nodeID + "|" + reqHash))
	return hex.EncodeToString(sum[:])
}
