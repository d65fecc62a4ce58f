// Package workflow implements the workflow repository and version/diff
// engine (spec §4.3): versioned graph storage, draft/published version
// state, environment promotion with breaking-change detection, and
// rollback.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// NodeType enumerates the kinds of node a graph may contain (spec §3).
type NodeType string

const (
	NodeTrigger   NodeType = "trigger"
	NodeAction    NodeType = "action"
	NodeTransform NodeType = "transform"
	NodeCondition NodeType = "condition"
)

// Node is a single step in a workflow graph.
type Node struct {
	ID           string          `json:"id"`
	Type         NodeType        `json:"type"`
	App          string          `json:"app"`
	Op           string          `json:"op"`
	Params       json.RawMessage `json:"params,omitempty"`
	ConnectionID *uuid.UUID      `json:"connectionId,omitempty"`
}

// Edge connects two nodes.
type Edge struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is the directed graph of nodes and edges that a workflow version
// snapshots (spec §3).
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

var (
	ErrDuplicateNodeID    = errors.New("workflow: duplicate node id")
	ErrDanglingEdge       = errors.New("workflow: edge references unknown node")
	ErrSelfLoop           = errors.New("workflow: edge forms a self-loop")
	ErrNoEntryNode        = errors.New("workflow: graph has no trigger/entry node")
	ErrMultipleEntryNodes = errors.New("workflow: graph has more than one trigger/entry node")
	ErrCycle              = errors.New("workflow: graph is not acyclic")
)

// Validate checks the structural invariants spec §3 places on a Graph:
// unique node ids, edges that reference existing nodes, no self-loops,
// exactly one trigger/entry node, and an acyclic edge set.
func Validate(g Graph) error {
	seen := make(map[string]struct{}, len(g.Nodes))
	entryCount := 0
	for _, n := range g.Nodes {
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateNodeID, n.ID)
		}
		seen[n.ID] = struct{}{}
		if n.Type == NodeTrigger {
			entryCount++
		}
	}
	if entryCount == 0 {
		return ErrNoEntryNode
	}
	if entryCount > 1 {
		return ErrMultipleEntryNodes
	}

	adjacency := make(map[string][]string, len(g.Nodes))
	for _, e := range g.Edges {
		if e.From == e.To {
			return fmt.Errorf("%w: %s", ErrSelfLoop, e.ID)
		}
		if _, ok := seen[e.From]; !ok {
			return fmt.Errorf("%w: edge %s references %s", ErrDanglingEdge, e.ID, e.From)
		}
		if _, ok := seen[e.To]; !ok {
			return fmt.Errorf("%w: edge %s references %s", ErrDanglingEdge, e.ID, e.To)
		}
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}

	if cycle := findCycle(g.Nodes, adjacency); cycle != "" {
		return fmt.Errorf("%w: at node %s", ErrCycle, cycle)
	}
	return nil
}

// findCycle runs a DFS with a recursion stack over the graph's adjacency
// list, returning the id of a node found mid-cycle, or "" if the graph is
// acyclic.
func findCycle(nodes []Node, adjacency map[string][]string) string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(nodes))

	var visit func(id string) string
	visit = func(id string) string {
		state[id] = visiting
		for _, next := range adjacency[id] {
			switch state[next] {
			case visiting:
				return next
			case unvisited:
				if found := visit(next); found != "" {
					return found
				}
			}
		}
		state[id] = done
		return ""
	}

	for _, n := range nodes {
		if state[n.ID] == unvisited {
			if found := visit(n.ID); found != "" {
				return found
			}
		}
	}
	return ""
}
