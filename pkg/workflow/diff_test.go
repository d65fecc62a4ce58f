package workflow

import (
	"encoding/json"
	"testing"
)

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func TestCompute_DetectsAddedAndRemovedNodes(t *testing.T) {
	old := Graph{Nodes: []Node{{ID: "a", Type: NodeAction, App: "x", Op: "y"}}}
	updated := Graph{Nodes: []Node{{ID: "b", Type: NodeAction, App: "x", Op: "y"}}}

	diff := Compute(old, updated, nil, nil)

	if !containsString(diff.AddedNodes, "b") {
		t.Errorf("AddedNodes = %v, want to contain b", diff.AddedNodes)
	}
	if !containsString(diff.RemovedNodes, "a") {
		t.Errorf("RemovedNodes = %v, want to contain a", diff.RemovedNodes)
	}
	if len(diff.ModifiedNodes) != 0 {
		t.Errorf("ModifiedNodes = %v, want empty", diff.ModifiedNodes)
	}
}

func TestCompute_ParamsChangeIsBreakingAndModified(t *testing.T) {
	old := Graph{Nodes: []Node{{ID: "a", Type: NodeAction, App: "slack", Op: "postMessage", Params: json.RawMessage(`{"channel":"general"}`)}}}
	updated := Graph{Nodes: []Node{{ID: "a", Type: NodeAction, App: "slack", Op: "postMessage", Params: json.RawMessage(`{"channel":"random"}`)}}}

	diff := Compute(old, updated, nil, nil)

	if !containsString(diff.ModifiedNodes, "a") {
		t.Fatalf("ModifiedNodes = %v, want to contain a", diff.ModifiedNodes)
	}
	foundParams := false
	for _, bc := range diff.BreakingChanges {
		if bc.Category == BreakingParams && bc.NodeID == "a" {
			foundParams = true
		}
		if bc.Category == BreakingOp {
			t.Errorf("unexpected op breaking change for unchanged operation: %+v", bc)
		}
	}
	if !foundParams {
		t.Errorf("BreakingChanges = %+v, want a params change for node a", diff.BreakingChanges)
	}
}

func TestCompute_ReorderedParamsKeysAreNotAChange(t *testing.T) {
	old := Graph{Nodes: []Node{{ID: "a", Type: NodeAction, App: "slack", Op: "postMessage", Params: json.RawMessage(`{"channel":"general","text":"hi"}`)}}}
	updated := Graph{Nodes: []Node{{ID: "a", Type: NodeAction, App: "slack", Op: "postMessage", Params: json.RawMessage(`{"text":"hi","channel":"general"}`)}}}

	diff := Compute(old, updated, nil, nil)

	if len(diff.ModifiedNodes) != 0 {
		t.Errorf("ModifiedNodes = %v, want empty for key-order-only change", diff.ModifiedNodes)
	}
}

func TestCompute_EdgeIDChangeWithSameEndpointsIsNotBreaking(t *testing.T) {
	old := Graph{
		Nodes: []Node{{ID: "a", Type: NodeTrigger, App: "x", Op: "y"}, {ID: "b", Type: NodeAction, App: "x", Op: "y"}},
		Edges: []Edge{{ID: "old-edge", From: "a", To: "b"}},
	}
	updated := Graph{
		Nodes: []Node{{ID: "a", Type: NodeTrigger, App: "x", Op: "y"}, {ID: "b", Type: NodeAction, App: "x", Op: "y"}},
		Edges: []Edge{{ID: "new-edge", From: "a", To: "b"}},
	}

	diff := Compute(old, updated, nil, nil)

	if len(diff.AddedEdges) != 0 || len(diff.RemovedEdges) != 0 {
		t.Errorf("AddedEdges=%v RemovedEdges=%v, want both empty (from,to) fallback should match", diff.AddedEdges, diff.RemovedEdges)
	}
	for _, bc := range diff.BreakingChanges {
		if bc.Category == BreakingEdge {
			t.Errorf("unexpected edge breaking change: %+v", bc)
		}
	}
}

func TestCompute_RemovedEdgeIsBreaking(t *testing.T) {
	old := Graph{
		Nodes: []Node{{ID: "a", Type: NodeTrigger, App: "x", Op: "y"}, {ID: "b", Type: NodeAction, App: "x", Op: "y"}},
		Edges: []Edge{{ID: "e1", From: "a", To: "b"}},
	}
	updated := Graph{
		Nodes: []Node{{ID: "a", Type: NodeTrigger, App: "x", Op: "y"}, {ID: "b", Type: NodeAction, App: "x", Op: "y"}},
	}

	diff := Compute(old, updated, nil, nil)

	if !containsString(diff.RemovedEdges, "e1") {
		t.Fatalf("RemovedEdges = %v, want to contain e1", diff.RemovedEdges)
	}
	found := false
	for _, bc := range diff.BreakingChanges {
		if bc.Category == BreakingEdge && bc.EdgeID == "e1" {
			found = true
		}
	}
	if !found {
		t.Errorf("BreakingChanges = %+v, want an edge breaking change for e1", diff.BreakingChanges)
	}
}

func TestCompute_MetadataChangedFlag(t *testing.T) {
	diff := Compute(Graph{}, Graph{}, json.RawMessage(`{"owner":"a"}`), json.RawMessage(`{"owner":"b"}`))
	if !diff.MetadataChanged {
		t.Error("MetadataChanged = false, want true")
	}

	diff = Compute(Graph{}, Graph{}, json.RawMessage(`{"owner":"a","team":"x"}`), json.RawMessage(`{"team":"x","owner":"a"}`))
	if diff.MetadataChanged {
		t.Error("MetadataChanged = true for reordered-but-equal metadata, want false")
	}
}

func TestDiff_HasBreakingChanges(t *testing.T) {
	var empty Diff
	if empty.HasBreakingChanges() {
		t.Error("HasBreakingChanges() = true for zero-value Diff, want false")
	}
	withChange := Diff{BreakingChanges: []BreakingChange{{Category: BreakingOp}}}
	if !withChange.HasBreakingChanges() {
		t.Error("HasBreakingChanges() = false, want true")
	}
}
