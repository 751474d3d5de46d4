package schema

import "encoding/json"

// NodeKind enumerates the kinds of nodes in a workflow graph.
type NodeKind string

const (
	NodeKindGeneric NodeKind = "generic"
	NodeKindAgent   NodeKind = "agent"
	NodeKindBranch  NodeKind = "branch"
)

// DefaultHandle is the branch output handle taken when no condition matches.
const DefaultHandle = "default"

// BranchCondition is one condition on a branch node. Conditions are evaluated
// in declared order; the first one that evaluates true selects its handle.
type BranchCondition struct {
	ID         string `json:"id"`
	Expression string `json:"expression"`
}

// AgentNodeConfig carries the agent-kind-specific node data.
type AgentNodeConfig struct {
	AgentID string `json:"agent_id"`
}

// BranchNodeConfig carries the branch-kind-specific node data.
type BranchNodeConfig struct {
	Conditions []BranchCondition `json:"conditions"`
}

// Node is a unit of work in a workflow graph. Kind-specific data lives in the
// matching config pointer: exactly the pointer for the node's kind must be set
// (generic nodes carry neither). Input is an optional input-mapping template;
// when empty the node receives the trigger input unchanged.
type Node struct {
	ID     string            `json:"id"`
	Kind   NodeKind          `json:"kind"`
	Label  string            `json:"label,omitempty"`
	Input  string            `json:"input,omitempty"`
	Agent  *AgentNodeConfig  `json:"agent,omitempty"`
	Branch *BranchNodeConfig `json:"branch,omitempty"`
}

// Edge is a directed dependency/data-flow link between two nodes.
// SourceHandle is only meaningful when Source is a branch node, naming the
// condition (or the literal "default") whose selection activates this edge.
type Edge struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
	Label        string `json:"label,omitempty"`
}

// Graph is an immutable pair of nodes and edges describing one workflow.
// Build with NewGraph to get endpoint validation and indexed node lookup;
// a zero-value literal also works (lookup falls back to a linear scan).
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`

	index map[string]*Node
}

// NewGraph constructs a Graph, enforcing the structural invariants that are
// construction errors: unique node IDs and edges referencing existing nodes.
// Cycle detection is the validation package's concern, not NewGraph's.
func NewGraph(nodes []Node, edges []Edge) (*Graph, error) {
	g := &Graph{
		Nodes: nodes,
		Edges: edges,
		index: make(map[string]*Node, len(nodes)),
	}

	for i := range nodes {
		n := &nodes[i]
		if n.ID == "" {
			return nil, NewErrorf(ErrCodeValidation, "node at index %d has empty ID", i)
		}
		if _, exists := g.index[n.ID]; exists {
			return nil, NewErrorf(ErrCodeValidation, "duplicate node ID: %s", n.ID)
		}
		g.index[n.ID] = n
	}

	for i, e := range edges {
		if _, ok := g.index[e.Source]; !ok {
			return nil, NewErrorf(ErrCodeValidation, "edge %d references unknown source node: %s", i, e.Source)
		}
		if _, ok := g.index[e.Target]; !ok {
			return nil, NewErrorf(ErrCodeValidation, "edge %d references unknown target node: %s", i, e.Target)
		}
	}

	return g, nil
}

// ParseGraph decodes a raw graph document and constructs a validated Graph.
func ParseGraph(raw []byte) (*Graph, error) {
	var doc struct {
		Nodes []Node `json:"nodes"`
		Edges []Edge `json:"edges"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, NewErrorf(ErrCodeValidation, "parse graph document: %s", err.Error()).WithCause(err)
	}
	return NewGraph(doc.Nodes, doc.Edges)
}

// NodeByID returns the node with the given ID, or nil when absent.
func (g *Graph) NodeByID(id string) *Node {
	if g.index != nil {
		return g.index[id]
	}
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// OutgoingEdges returns the edges whose source is the given node, in
// declaration order.
func (g *Graph) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// NodeIDs returns the set of all node IDs in the graph.
func (g *Graph) NodeIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(g.Nodes))
	for i := range g.Nodes {
		ids[g.Nodes[i].ID] = struct{}{}
	}
	return ids
}
