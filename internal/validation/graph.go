package validation

import (
	"fmt"

	"github.com/stepflow-dev/stepflow/internal/engine"
	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// ValidateGraph runs the semantic checks a JSON Schema cannot express:
// referential integrity, kind/config coherence, branch handle wiring, and
// cycle detection. Cycles are errors here even though the orderer tolerates
// them by truncation; validated graphs never reach that path.
func ValidateGraph(g *schema.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]int, len(g.Nodes))
	for i := range g.Nodes {
		node := &g.Nodes[i]
		path := fmt.Sprintf("nodes[%d]", i)

		if node.ID == "" {
			result.AddError(path+".id", "empty_id", "node has empty ID")
			continue
		}
		if _, dup := ids[node.ID]; dup {
			result.AddError(path+".id", "duplicate_id", fmt.Sprintf("duplicate node ID: %s", node.ID))
			continue
		}
		ids[node.ID] = i

		validateNodeConfig(result, path, node)
	}

	for i, e := range g.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if _, ok := ids[e.Source]; !ok {
			result.AddError(path+".source", "unknown_node", fmt.Sprintf("edge references unknown source node: %s", e.Source))
		}
		if _, ok := ids[e.Target]; !ok {
			result.AddError(path+".target", "unknown_node", fmt.Sprintf("edge references unknown target node: %s", e.Target))
		}
	}

	if !result.Valid() {
		return result
	}

	validateBranchHandles(result, g)

	if order := engine.TopologicalOrder(g); len(order) < len(g.Nodes) {
		inOrder := make(map[string]struct{}, len(order))
		for _, id := range order {
			inOrder[id] = struct{}{}
		}
		for i := range g.Nodes {
			if _, ok := inOrder[g.Nodes[i].ID]; !ok {
				result.AddError(fmt.Sprintf("nodes[%d]", i), "cycle",
					fmt.Sprintf("node %s is on or behind a cycle and would never execute", g.Nodes[i].ID))
			}
		}
		return result
	}

	validateReachability(result, g)

	return result
}

// validateReachability flags nodes that can never run: every path to them
// goes through a branch handle that matches no declared condition, so they
// land in the skip set on every run.
func validateReachability(result *schema.ValidationResult, g *schema.Graph) {
	known := make(map[string]map[string]struct{}, len(g.Nodes))
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.Kind != schema.NodeKindBranch || node.Branch == nil {
			continue
		}
		handles := map[string]struct{}{schema.DefaultHandle: {}}
		for _, cond := range node.Branch.Conditions {
			handles[cond.ID] = struct{}{}
		}
		known[node.ID] = handles
	}

	incoming := make(map[string]int, len(g.Nodes))
	for _, e := range g.Edges {
		incoming[e.Target]++
	}

	live := make(map[string]struct{}, len(g.Nodes))
	var queue []string
	for i := range g.Nodes {
		if incoming[g.Nodes[i].ID] == 0 {
			live[g.Nodes[i].ID] = struct{}{}
			queue = append(queue, g.Nodes[i].ID)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.OutgoingEdges(id) {
			if handles, isBranch := known[id]; isBranch {
				if _, ok := handles[e.SourceHandle]; !ok {
					continue // never-selected handle, target stays dead
				}
			}
			if _, seen := live[e.Target]; seen {
				continue
			}
			live[e.Target] = struct{}{}
			queue = append(queue, e.Target)
		}
	}

	for i := range g.Nodes {
		if _, ok := live[g.Nodes[i].ID]; !ok {
			result.AddWarning(fmt.Sprintf("nodes[%d]", i), "unreachable",
				fmt.Sprintf("node %s is only reachable through unmatched branch handles and never executes", g.Nodes[i].ID))
		}
	}
}

// validateNodeConfig checks that exactly the config matching the node's kind
// is present.
func validateNodeConfig(result *schema.ValidationResult, path string, node *schema.Node) {
	switch node.Kind {
	case schema.NodeKindGeneric:
		if node.Agent != nil || node.Branch != nil {
			result.AddWarning(path, "stray_config",
				fmt.Sprintf("generic node %s carries kind-specific config that is ignored", node.ID))
		}

	case schema.NodeKindAgent:
		if node.Agent == nil || node.Agent.AgentID == "" {
			result.AddError(path+".agent", "missing_config",
				fmt.Sprintf("agent node %s has no agent_id", node.ID))
		}
		if node.Branch != nil {
			result.AddWarning(path+".branch", "stray_config",
				fmt.Sprintf("agent node %s carries branch config that is ignored", node.ID))
		}

	case schema.NodeKindBranch:
		if node.Branch == nil {
			result.AddError(path+".branch", "missing_config",
				fmt.Sprintf("branch node %s has no conditions", node.ID))
			return
		}
		if node.Agent != nil {
			result.AddWarning(path+".agent", "stray_config",
				fmt.Sprintf("branch node %s carries agent config that is ignored", node.ID))
		}
		seen := make(map[string]struct{}, len(node.Branch.Conditions))
		for j, cond := range node.Branch.Conditions {
			condPath := fmt.Sprintf("%s.branch.conditions[%d]", path, j)
			if cond.ID == "" {
				result.AddError(condPath+".id", "empty_id",
					fmt.Sprintf("branch node %s has a condition with empty ID", node.ID))
				continue
			}
			if cond.ID == schema.DefaultHandle {
				result.AddError(condPath+".id", "reserved_id",
					fmt.Sprintf("branch node %s uses the reserved condition ID %q", node.ID, schema.DefaultHandle))
			}
			if _, dup := seen[cond.ID]; dup {
				result.AddError(condPath+".id", "duplicate_id",
					fmt.Sprintf("branch node %s has duplicate condition ID: %s", node.ID, cond.ID))
			}
			seen[cond.ID] = struct{}{}
			if cond.Expression == "" {
				result.AddWarning(condPath+".expression", "empty_expression",
					fmt.Sprintf("condition %s on branch node %s has an empty expression and never matches", cond.ID, node.ID))
			}
		}

	default:
		result.AddError(path+".kind", "unknown_kind",
			fmt.Sprintf("node %s has unknown kind: %s", node.ID, node.Kind))
	}
}

// validateBranchHandles cross-checks branch conditions against outgoing edge
// handles: every outgoing handle must name a condition (or "default"), and a
// condition without an edge can win but routes nowhere.
func validateBranchHandles(result *schema.ValidationResult, g *schema.Graph) {
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.Kind != schema.NodeKindBranch {
			for j, e := range g.Edges {
				if e.Source == node.ID && e.SourceHandle != "" {
					result.AddWarning(fmt.Sprintf("edges[%d]", j), "stray_handle",
						fmt.Sprintf("edge from non-branch node %s carries a source handle that is ignored", node.ID))
				}
			}
			continue
		}
		if node.Branch == nil {
			continue
		}
		path := fmt.Sprintf("nodes[%d]", i)

		known := map[string]struct{}{schema.DefaultHandle: {}}
		for _, cond := range node.Branch.Conditions {
			known[cond.ID] = struct{}{}
		}

		wired := make(map[string]struct{})
		for _, e := range g.OutgoingEdges(node.ID) {
			wired[e.SourceHandle] = struct{}{}
			if _, ok := known[e.SourceHandle]; !ok {
				result.AddWarning(path, "unknown_handle",
					fmt.Sprintf("branch node %s has an edge on handle %q that matches no condition", node.ID, e.SourceHandle))
			}
		}

		for _, cond := range node.Branch.Conditions {
			if _, ok := wired[cond.ID]; !ok {
				result.AddWarning(path, "unwired_condition",
					fmt.Sprintf("condition %s on branch node %s has no outgoing edge; selecting it ends the branch's path", cond.ID, node.ID))
			}
		}
	}
}
