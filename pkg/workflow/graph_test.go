package workflow

import (
	"errors"
	"testing"
)

func validGraph() Graph {
	return Graph{
		Nodes: []Node{
			{ID: "trigger", Type: NodeTrigger, App: "webhook", Op: "receive"},
			{ID: "action", Type: NodeAction, App: "slack", Op: "postMessage"},
		},
		Edges: []Edge{
			{ID: "e1", From: "trigger", To: "action"},
		},
	}
}

func TestValidate_AcceptsWellFormedGraph(t *testing.T) {
	if err := Validate(validGraph()); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidate_RejectsDuplicateNodeIDs(t *testing.T) {
	g := validGraph()
	g.Nodes = append(g.Nodes, Node{ID: "trigger", Type: NodeAction, App: "x", Op: "y"})

	err := Validate(g)
	if !errors.Is(err, ErrDuplicateNodeID) {
		t.Errorf("Validate() error = %v, want ErrDuplicateNodeID", err)
	}
}

func TestValidate_RejectsDanglingEdge(t *testing.T) {
	g := validGraph()
	g.Edges = append(g.Edges, Edge{ID: "e2", From: "action", To: "missing"})

	err := Validate(g)
	if !errors.Is(err, ErrDanglingEdge) {
		t.Errorf("Validate() error = %v, want ErrDanglingEdge", err)
	}
}

func TestValidate_RejectsSelfLoop(t *testing.T) {
	g := validGraph()
	g.Edges = append(g.Edges, Edge{ID: "e2", From: "action", To: "action"})

	err := Validate(g)
	if !errors.Is(err, ErrSelfLoop) {
		t.Errorf("Validate() error = %v, want ErrSelfLoop", err)
	}
}

func TestValidate_RejectsNoEntryNode(t *testing.T) {
	g := Graph{Nodes: []Node{{ID: "a", Type: NodeAction, App: "x", Op: "y"}}}

	err := Validate(g)
	if !errors.Is(err, ErrNoEntryNode) {
		t.Errorf("Validate() error = %v, want ErrNoEntryNode", err)
	}
}

func TestValidate_RejectsMultipleEntryNodes(t *testing.T) {
	g := validGraph()
	g.Nodes = append(g.Nodes, Node{ID: "trigger2", Type: NodeTrigger, App: "schedule", Op: "cron"})

	err := Validate(g)
	if !errors.Is(err, ErrMultipleEntryNodes) {
		t.Errorf("Validate() error = %v, want ErrMultipleEntryNodes", err)
	}
}

func TestValidate_RejectsCycle(t *testing.T) {
	g := Graph{
		Nodes: []Node{
			{ID: "trigger", Type: NodeTrigger, App: "webhook", Op: "receive"},
			{ID: "a", Type: NodeAction, App: "x", Op: "y"},
			{ID: "b", Type: NodeAction, App: "x", Op: "z"},
		},
		Edges: []Edge{
			{ID: "e1", From: "trigger", To: "a"},
			{ID: "e2", From: "a", To: "b"},
			{ID: "e3", From: "b", To: "a"},
		},
	}

	err := Validate(g)
	if !errors.Is(err, ErrCycle) {
		t.Errorf("Validate() error = %v, want ErrCycle", err)
	}
}
