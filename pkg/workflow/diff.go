package workflow

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"
)

// BreakingCategory classifies why a structural change is considered
// breaking for a downstream environment (spec §4.3).
type BreakingCategory string

const (
	BreakingOp         BreakingCategory = "op"
	BreakingParams     BreakingCategory = "params"
	BreakingConnection BreakingCategory = "connection"
	BreakingEdge       BreakingCategory = "edge"
)

// BreakingChange is a single reason a promotion would alter running
// behavior, surfaced to the caller so it can be acknowledged explicitly.
type BreakingChange struct {
	Category BreakingCategory `json:"category"`
	NodeID   string           `json:"nodeId,omitempty"`
	EdgeID   string           `json:"edgeId,omitempty"`
	Detail   string           `json:"detail"`
}

// Diff is a structural comparison between two graph versions (spec §4.3).
type Diff struct {
	AddedNodes      []string         `json:"addedNodes"`
	RemovedNodes    []string         `json:"removedNodes"`
	ModifiedNodes   []string         `json:"modifiedNodes"`
	AddedEdges      []string         `json:"addedEdges"`
	RemovedEdges    []string         `json:"removedEdges"`
	MetadataChanged bool             `json:"metadataChanged"`
	BreakingChanges []BreakingChange `json:"breakingChanges"`
}

// HasBreakingChanges reports whether the diff contains any change a
// promotion must have acknowledgeBreaking=true to proceed past.
func (d Diff) HasBreakingChanges() bool {
	return len(d.BreakingChanges) > 0
}

// canonicalize re-serializes arbitrary JSON so that two payloads that are
// semantically equal (same keys, different order or whitespace) compare
// equal as strings. encoding/json sorts map keys on marshal, which gives
// us this for free once decoded through interface{}.
func canonicalize(raw json.RawMessage) string {
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

func connectionIDString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

// Compute compares oldGraph/oldMetadata to newGraph/newMetadata and returns
// the structural diff plus any breaking changes (spec §4.3): node
// additions/removals/modifications keyed by canonical {type,app,op,params,
// connectionId}; edges matched by id, falling back to (from,to) identity
// for edges whose id changed; and a metadata-changed flag.
func Compute(oldGraph, newGraph Graph, oldMetadata, newMetadata json.RawMessage) Diff {
	oldNodes := make(map[string]Node, len(oldGraph.Nodes))
	for _, n := range oldGraph.Nodes {
		oldNodes[n.ID] = n
	}
	newNodes := make(map[string]Node, len(newGraph.Nodes))
	for _, n := range newGraph.Nodes {
		newNodes[n.ID] = n
	}

	var diff Diff

	for id, n := range newNodes {
		old, existed := oldNodes[id]
		if !existed {
			diff.AddedNodes = append(diff.AddedNodes, id)
			continue
		}
		if nodeChanged(old, n) {
			diff.ModifiedNodes = append(diff.ModifiedNodes, id)
			diff.BreakingChanges = append(diff.BreakingChanges, nodeBreakingChanges(old, n)...)
		}
	}
	for id := range oldNodes {
		if _, stillPresent := newNodes[id]; !stillPresent {
			diff.RemovedNodes = append(diff.RemovedNodes, id)
			diff.BreakingChanges = append(diff.BreakingChanges, BreakingChange{
				Category: BreakingOp,
				NodeID:   id,
				Detail:   "node removed",
			})
		}
	}

	addedEdges, removedEdges := diffEdges(oldGraph.Edges, newGraph.Edges)
	diff.AddedEdges = addedEdges
	diff.RemovedEdges = removedEdges
	for _, edgeID := range removedEdges {
		diff.BreakingChanges = append(diff.BreakingChanges, BreakingChange{
			Category: BreakingEdge,
			EdgeID:   edgeID,
			Detail:   "edge removed",
		})
	}

	diff.MetadataChanged = canonicalize(oldMetadata) != canonicalize(newMetadata)

	sort.Strings(diff.AddedNodes)
	sort.Strings(diff.RemovedNodes)
	sort.Strings(diff.ModifiedNodes)
	return diff
}

// nodeChanged reports whether a node's {type,app,op,params,connectionId}
// signature differs between two snapshots.
func nodeChanged(old, updated Node) bool {
	return old.Type != updated.Type ||
		old.App != updated.App ||
		old.Op != updated.Op ||
		canonicalize(old.Params) != canonicalize(updated.Params) ||
		connectionIDString(old.ConnectionID) != connectionIDString(updated.ConnectionID)
}

// nodeBreakingChanges classifies which parts of a modified node's
// signature changed, one BreakingChange per category that differs.
//
// Flagging any params change (rather than only a removed required
// parameter) and any connectionId change (rather than only a change to a
// different provider) is intentionally more conservative than the
// narrowest reading of spec §4.3: a node carries no declared parameter
// schema marking which keys are required, and a connection's provider
// isn't resolvable from the graph alone (it lives in the connection
// record, not the node). Recovering the precise invariant would need
// threading an app parameter schema and a connection-provider lookup
// through Compute; until that plumbing exists, over-flagging a benign
// param edit is the safe failure mode for a promotion gate.
func nodeBreakingChanges(old, updated Node) []BreakingChange {
	var changes []BreakingChange
	if old.Type != updated.Type || old.App != updated.App || old.Op != updated.Op {
		changes = append(changes, BreakingChange{Category: BreakingOp, NodeID: updated.ID, Detail: "operation changed"})
	}
	if canonicalize(old.Params) != canonicalize(updated.Params) {
		changes = append(changes, BreakingChange{Category: BreakingParams, NodeID: updated.ID, Detail: "parameters changed"})
	}
	if connectionIDString(old.ConnectionID) != connectionIDString(updated.ConnectionID) {
		changes = append(changes, BreakingChange{Category: BreakingConnection, NodeID: updated.ID, Detail: "connection changed"})
	}
	return changes
}

// diffEdges matches edges primarily by id; an edge present under a
// different id on each side but with the same (from,to) pair is treated
// as unchanged rather than a remove+add (spec §4.3's "by id with (from,to)
// fallback").
func diffEdges(oldEdges, newEdges []Edge) (added, removed []string) {
	oldByID := make(map[string]Edge, len(oldEdges))
	for _, e := range oldEdges {
		oldByID[e.ID] = e
	}
	newByID := make(map[string]Edge, len(newEdges))
	for _, e := range newEdges {
		newByID[e.ID] = e
	}

	unmatchedOld := make(map[string]Edge)
	for id, e := range oldByID {
		if _, ok := newByID[id]; !ok {
			unmatchedOld[id] = e
		}
	}
	unmatchedNew := make(map[string]Edge)
	for id, e := range newByID {
		if _, ok := oldByID[id]; !ok {
			unmatchedNew[id] = e
		}
	}

	for oldID, oe := range unmatchedOld {
		for newID, ne := range unmatchedNew {
			if oe.From == ne.From && oe.To == ne.To {
				delete(unmatchedOld, oldID)
				delete(unmatchedNew, newID)
				break
			}
		}
	}

	for id := range unmatchedOld {
		removed = append(removed, id)
	}
	for id := range unmatchedNew {
		added = append(added, id)
	}
	sort.Strings(removed)
	sort.Strings(added)
	return added, removed
}
