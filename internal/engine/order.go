package engine

import (
	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// TopologicalOrder returns the node IDs of the graph in Kahn order: in-degrees
// are computed from the edges, zero-in-degree nodes seed a FIFO queue in
// declaration order, and successors are enqueued as their in-degree reaches
// zero. Ties among ready nodes resolve by queue discovery order, not by node
// ID; the result is deterministic for a fixed input ordering of nodes and
// edges.
//
// Cyclic graphs produce a truncated order that omits every node on or behind
// a cycle. The orderer does not report this; cycle detection is the
// validation package's concern.
func TopologicalOrder(g *schema.Graph) []string {
	inDegree := make(map[string]int, len(g.Nodes))
	successors := make(map[string][]string, len(g.Nodes))

	for i := range g.Nodes {
		inDegree[g.Nodes[i].ID] = 0
	}
	for _, e := range g.Edges {
		successors[e.Source] = append(successors[e.Source], e.Target)
		inDegree[e.Target]++
	}

	queue := make([]string, 0, len(g.Nodes))
	for i := range g.Nodes {
		if inDegree[g.Nodes[i].ID] == 0 {
			queue = append(queue, g.Nodes[i].ID)
		}
	}

	sorted := make([]string, 0, len(g.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)

		for _, succ := range successors[id] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	return sorted
}

// BranchReachableSet returns every node reachable from the branch node's edge
// whose source handle equals the selected handle. If no such edge exists the
// set is empty. Traversal is breadth-first from the edge's target, following
// only edges whose source is a known node.
//
// The runner uses the complement: reachable sets of the non-selected handles
// are unioned into the run's skip set.
func BranchReachableSet(g *schema.Graph, branchNodeID, handle string) map[string]struct{} {
	reachable := make(map[string]struct{})

	var start string
	for _, e := range g.Edges {
		if e.Source == branchNodeID && e.SourceHandle == handle {
			start = e.Target
			break
		}
	}
	if start == "" {
		return reachable
	}

	nodeIDs := g.NodeIDs()

	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, seen := reachable[id]; seen {
			continue
		}
		reachable[id] = struct{}{}

		for _, e := range g.Edges {
			if e.Source != id {
				continue
			}
			if _, known := nodeIDs[e.Source]; !known {
				continue
			}
			if _, seen := reachable[e.Target]; !seen {
				queue = append(queue, e.Target)
			}
		}
	}

	return reachable
}

// BranchSkipSet computes the union of reachable sets under every outgoing
// handle of the branch node except the selected one, minus the selected
// handle's own reachable set. The subtraction keeps diamond-shaped graphs
// correct: a node reachable through both a losing and the winning handle must
// still execute.
func BranchSkipSet(g *schema.Graph, branchNodeID, selectedHandle string) map[string]struct{} {
	skip := make(map[string]struct{})

	seen := make(map[string]struct{})
	for _, e := range g.OutgoingEdges(branchNodeID) {
		if e.SourceHandle == selectedHandle {
			continue
		}
		if _, dup := seen[e.SourceHandle]; dup {
			continue
		}
		seen[e.SourceHandle] = struct{}{}

		for id := range BranchReachableSet(g, branchNodeID, e.SourceHandle) {
			skip[id] = struct{}{}
		}
	}

	for id := range BranchReachableSet(g, branchNodeID, selectedHandle) {
		delete(skip, id)
	}

	return skip
}
