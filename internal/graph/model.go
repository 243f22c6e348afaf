// Package graph holds the visual scene graph: service nodes, dependency
// edges, their positions and presentation flags.
//
// # Ownership
//
// A Store is owned by exactly one scene session for the lifetime of a view.
// It is not safe for concurrent use; the session funnels every mutation
// through its event loop.
//
// # Invariants
//
//   - node ids are unique,
//   - at most one edge per ordered (source, target) pair, with EdgeID derived
//     from the pair,
//   - no self loops, and both endpoints of every edge exist; removing a node
//     removes its edges in the same call.
package graph

import (
	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/layout"
)

// Node is a service drawn on the canvas.
type Node struct {
	ID            string           `json:"id"`
	Kind          string           `json:"kind,omitempty"`
	OwnerScene    string           `json:"ownerScene"`
	External      bool             `json:"external"`
	Status        authority.Status `json:"status"`
	StatusMessage string           `json:"statusMessage,omitempty"`
	Position      layout.Point     `json:"position"`
}

// Edge is a dependency drawn on the canvas: Target depends on Source.
type Edge struct {
	ID        string              `json:"id"`
	Source    string              `json:"source"`
	Target    string              `json:"target"`
	Condition authority.Condition `json:"condition"`
	Active    bool                `json:"active"`
}

// EdgeID derives the identity of the edge between source and target.
// Service ids never contain '>', so the result is unambiguous.
func EdgeID(source, target string) string {
	return source + "->" + target
}

// Snapshot is a copy of the store contents, nodes and edges in insertion
// order.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeIDs returns the ids of the snapshot nodes.
func (s Snapshot) NodeIDs() []string {
	ids := make([]string, len(s.Nodes))
	for i, n := range s.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// LayoutEdges converts the snapshot edges to layout input.
func (s Snapshot) LayoutEdges() []layout.Edge {
	out := make([]layout.Edge, len(s.Edges))
	for i, e := range s.Edges {
		out[i] = layout.Edge{Source: e.Source, Target: e.Target}
	}
	return out
}

// EditKind names a structural edit.
type EditKind int

const (
	EditAddEdge EditKind = iota + 1
	EditRemoveEdges
	EditRemoveNode
)

func (k EditKind) String() string {
	switch k {
	case EditAddEdge:
		return "add_edge"
	case EditRemoveEdges:
		return "remove_edges"
	case EditRemoveNode:
		return "remove_node"
	}
	return "unknown"
}

// Edit is a structural change mirroring a canvas gesture.
type Edit struct {
	Kind    EditKind
	Edge    Edge     // EditAddEdge
	EdgeIDs []string // EditRemoveEdges
	NodeID  string   // EditRemoveNode
}

// AddEdge returns an edit adding e.
func AddEdge(e Edge) Edit { return Edit{Kind: EditAddEdge, Edge: e} }

// RemoveEdges returns an edit removing the listed edges.
func RemoveEdges(ids ...string) Edit { return Edit{Kind: EditRemoveEdges, EdgeIDs: ids} }

// RemoveNode returns an edit removing a node and its edges.
func RemoveNode(id string) Edit { return Edit{Kind: EditRemoveNode, NodeID: id} }
