package scene

import (
	"sort"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/graph"
	"github.com/AaronLay10/SceneWorkbench/internal/layout"
)

// Translate converts the authority's services into graph entities for the
// viewed scene. A service depending on T produces the edge T -> service.
// Nodes come out in authority order, edges grouped by dependent with
// dependencies sorted by id.
func Translate(viewed string, services []authority.Service) ([]graph.Node, []graph.Edge) {
	nodes := make([]graph.Node, 0, len(services))
	var edges []graph.Edge
	for _, svc := range services {
		owner := svc.OwnerScene
		if owner == "" {
			owner = viewed
		}
		nodes = append(nodes, graph.Node{
			ID:         svc.ID,
			Kind:       svc.Kind,
			OwnerScene: owner,
			External:   owner != viewed,
			Status:     authority.StatusUnknown,
		})

		deps := make([]string, 0, len(svc.DependsOn))
		for dep := range svc.DependsOn {
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		for _, dep := range deps {
			cond := svc.DependsOn[dep].Condition
			if cond == "" {
				cond = authority.DefaultCondition
			}
			edges = append(edges, graph.Edge{
				ID:        graph.EdgeID(dep, svc.ID),
				Source:    dep,
				Target:    svc.ID,
				Condition: cond,
			})
		}
	}
	return nodes, edges
}

// Place runs the layout engine over nodes and edges and writes the result
// into the node positions.
func Place(nodes []graph.Node, edges []graph.Edge, opts layout.Options) {
	snap := graph.Snapshot{Nodes: nodes, Edges: edges}
	res := layout.Compute(snap.NodeIDs(), snap.LayoutEdges(), opts)
	for i := range nodes {
		nodes[i].Position = res.Positions[nodes[i].ID]
	}
}
