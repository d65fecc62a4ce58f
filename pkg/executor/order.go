package executor

import (
	"container/heap"
	"errors"
	"sort"

	"github.com/wisbric/orchestra/pkg/workflow"
)

// ErrCycleDetected is returned by topoOrder if a graph that was not caught
// by workflow.Validate somehow still contains a cycle.
var ErrCycleDetected = errors.New("executor: workflow graph contains a cycle")

// topoOrder computes a deterministic topological order over g's nodes:
// Kahn's algorithm, with ties among simultaneously-ready nodes broken by
// node id, lexicographically (spec §4.6 Ordering).
func topoOrder(g workflow.Graph) ([]string, error) {
	indegree := make(map[string]int, len(g.Nodes))
	adjacency := make(map[string][]string, len(g.Nodes))
	for _, n := range g.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range g.Edges {
		adjacency[e.From] = append(adjacency[e.From], e.To)
		indegree[e.To]++
	}
	for _, adj := range adjacency {
		sort.Strings(adj)
	}

	ready := &stringHeap{}
	for id, deg := range indegree {
		if deg == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]string, 0, len(g.Nodes))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)
		for _, next := range adjacency[id] {
			indegree[next]--
			if indegree[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		return nil, ErrCycleDetected
	}
	return order, nil
}

// restrictFromNode returns the suffix of order starting at (and including)
// nodeID, for replay/resume runs that only re-execute from a given node
// onward (spec §4.6 Ordering). Returns nil if nodeID is not in order.
func restrictFromNode(order []string, nodeID string) []string {
	if nodeID == "" {
		return order
	}
	for i, id := range order {
		if id == nodeID {
			return order[i:]
		}
	}
	return nil
}

// stringHeap is a min-heap of node ids, giving topoOrder its lexicographic
// tie-break among nodes that become ready in the same Kahn round.
type stringHeap []string

func (h stringHeap) Len() int            { return len(h) }
func (h stringHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h stringHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *stringHeap) Push(x any)         { *h = append(*h, x.(string)) }
func (h *stringHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
