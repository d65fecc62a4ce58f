package executor

import (
	"errors"
	"reflect"
	"testing"

	"github.com/wisbric/orchestra/pkg/workflow"
)

func graphOf(nodeIDs []string, edges [][2]string) workflow.Graph {
	g := workflow.Graph{}
	for _, id := range nodeIDs {
		g.Nodes = append(g.Nodes, workflow.Node{ID: id, Type: workflow.NodeAction})
	}
	for i, e := range edges {
		g.Edges = append(g.Edges, workflow.Edge{ID: "e" + string(rune('0'+i)), From: e[0], To: e[1]})
	}
	return g
}

func TestTopoOrder_LinearChain(t *testing.T) {
	g := graphOf([]string{"c", "a", "b"}, [][2]string{{"a", "b"}, {"b", "c"}})
	order, err := topoOrder(g)
	if err != nil {
		t.Fatalf("topoOrder returned error: %v", err)
	}
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("topoOrder = %v, want %v", order, want)
	}
}

func TestTopoOrder_TieBreaksLexicographically(t *testing.T) {
	// b, c, and d all become ready simultaneously once a completes.
	g := graphOf([]string{"a", "d", "c", "b"}, [][2]string{{"a", "b"}, {"a", "c"}, {"a", "d"}})
	order, err := topoOrder(g)
	if err != nil {
		t.Fatalf("topoOrder returned error: %v", err)
	}
	want := []string{"a", "b", "c", "d"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("topoOrder = %v, want %v", order, want)
	}
}

func TestTopoOrder_DetectsCycle(t *testing.T) {
	g := graphOf([]string{"a", "b"}, [][2]string{{"a", "b"}, {"b", "a"}})
	if _, err := topoOrder(g); !errors.Is(err, ErrCycleDetected) {
		t.Errorf("topoOrder on a cyclic graph = %v, want ErrCycleDetected", err)
	}
}

func TestRestrictFromNode(t *testing.T) {
	order := []string{"a", "b", "c", "d"}

	if got := restrictFromNode(order, ""); !reflect.DeepEqual(got, order) {
		t.Errorf("restrictFromNode(order, \"\") = %v, want unchanged order", got)
	}

	if got := restrictFromNode(order, "c"); !reflect.DeepEqual(got, []string{"c", "d"}) {
		t.Errorf("restrictFromNode(order, \"c\") = %v, want [c d]", got)
	}

	if got := restrictFromNode(order, "missing"); got != nil {
		t.Errorf("restrictFromNode(order, \"missing\") = %v, want nil", got)
	}
}
