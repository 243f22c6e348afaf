package graph

import (
	"fmt"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/layout"
)

// Store is the single mutable source of truth for rendering.
type Store struct {
	nodes     map[string]*Node
	nodeOrder []string
	edges     map[string]*Edge
	edgeOrder []string
	version   uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		nodes: make(map[string]*Node),
		edges: make(map[string]*Edge),
	}
}

// Version increases on every mutation.
func (s *Store) Version() uint64 {
	return s.version
}

// ReplaceAll swaps the whole graph. Duplicate node ids keep the first
// occurrence; edges that would break an invariant are dropped and returned.
func (s *Store) ReplaceAll(nodes []Node, edges []Edge) []Edge {
	s.nodes = make(map[string]*Node, len(nodes))
	s.nodeOrder = s.nodeOrder[:0]
	s.edges = make(map[string]*Edge, len(edges))
	s.edgeOrder = s.edgeOrder[:0]

	for _, n := range nodes {
		if _, ok := s.nodes[n.ID]; ok {
			continue
		}
		if n.Status == "" {
			n.Status = authority.StatusUnknown
		}
		cp := n
		s.nodes[n.ID] = &cp
		s.nodeOrder = append(s.nodeOrder, n.ID)
	}

	var dropped []Edge
	for _, e := range edges {
		if err := s.insertEdge(e); err != nil {
			dropped = append(dropped, e)
		}
	}
	s.version++
	return dropped
}

func (s *Store) checkEdge(e Edge) error {
	if e.Source == e.Target {
		return fmt.Errorf("%w: %s", ErrSelfLoop, e.Source)
	}
	if _, ok := s.nodes[e.Source]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, e.Source)
	}
	if _, ok := s.nodes[e.Target]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, e.Target)
	}
	if _, ok := s.edges[EdgeID(e.Source, e.Target)]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEdge, EdgeID(e.Source, e.Target))
	}
	return nil
}

func (s *Store) insertEdge(e Edge) error {
	if err := s.checkEdge(e); err != nil {
		return err
	}
	e.ID = EdgeID(e.Source, e.Target)
	if e.Condition == "" {
		e.Condition = authority.DefaultCondition
	}
	s.edges[e.ID] = &e
	s.edgeOrder = append(s.edgeOrder, e.ID)
	return nil
}

// CanAddEdge reports whether AddEdge(e) would succeed, without mutating.
func (s *Store) CanAddEdge(e Edge) error {
	return s.checkEdge(e)
}

// ApplyStructuralEdit applies one edit and returns the ids of the edges it
// added or removed. A failed edit leaves the store unchanged.
func (s *Store) ApplyStructuralEdit(edit Edit) ([]string, error) {
	switch edit.Kind {
	case EditAddEdge:
		e := edit.Edge
		e.Active = false
		if err := s.insertEdge(e); err != nil {
			return nil, err
		}
		s.version++
		return []string{EdgeID(e.Source, e.Target)}, nil

	case EditRemoveEdges:
		var removed []string
		for _, id := range edit.EdgeIDs {
			if _, ok := s.edges[id]; ok {
				delete(s.edges, id)
				removed = append(removed, id)
			}
		}
		if len(removed) > 0 {
			s.edgeOrder = s.filterEdgeOrder()
			s.version++
		}
		return removed, nil

	case EditRemoveNode:
		if _, ok := s.nodes[edit.NodeID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, edit.NodeID)
		}
		var removed []string
		for _, id := range s.edgeOrder {
			e := s.edges[id]
			if e.Source == edit.NodeID || e.Target == edit.NodeID {
				delete(s.edges, id)
				removed = append(removed, id)
			}
		}
		delete(s.nodes, edit.NodeID)
		order := s.nodeOrder[:0]
		for _, id := range s.nodeOrder {
			if id != edit.NodeID {
				order = append(order, id)
			}
		}
		s.nodeOrder = order
		s.edgeOrder = s.filterEdgeOrder()
		s.version++
		return removed, nil
	}
	return nil, ErrUnknownEdit
}

func (s *Store) filterEdgeOrder() []string {
	order := s.edgeOrder[:0]
	for _, id := range s.edgeOrder {
		if _, ok := s.edges[id]; ok {
			order = append(order, id)
		}
	}
	return order
}

// PatchNodeStatus records the last known status of a node.
func (s *Store) PatchNodeStatus(id string, status authority.Status, message string) error {
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	n.Status = status
	n.StatusMessage = message
	s.version++
	return nil
}

// PatchEdgeActive sets the derived active flag of an edge.
func (s *Store) PatchEdgeActive(id string, active bool) error {
	e, ok := s.edges[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEdgeNotFound, id)
	}
	if e.Active != active {
		e.Active = active
		s.version++
	}
	return nil
}

// SetEdgeCondition updates the condition shown on an edge.
func (s *Store) SetEdgeCondition(id string, condition authority.Condition) error {
	e, ok := s.edges[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEdgeNotFound, id)
	}
	e.Condition = condition
	s.version++
	return nil
}

// SetPositions replaces the positions of the listed nodes. Unknown ids are
// ignored; nodes not listed keep their position.
func (s *Store) SetPositions(positions map[string]layout.Point) {
	for id, p := range positions {
		if n, ok := s.nodes[id]; ok {
			n.Position = p
		}
	}
	s.version++
}

// MoveNode records a user drag.
func (s *Store) MoveNode(id string, p layout.Point) error {
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	n.Position = p
	s.version++
	return nil
}

// Node returns a copy of the node with the given id.
func (s *Store) Node(id string) (Node, bool) {
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Edge returns a copy of the edge with the given id.
func (s *Store) Edge(id string) (Edge, bool) {
	e, ok := s.edges[id]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

// IncidentEdges returns the edges touching node id, in insertion order.
func (s *Store) IncidentEdges(id string) []Edge {
	var out []Edge
	for _, eid := range s.edgeOrder {
		e := s.edges[eid]
		if e.Source == id || e.Target == id {
			out = append(out, *e)
		}
	}
	return out
}

// Len returns the number of nodes and edges.
func (s *Store) Len() (nodes, edges int) {
	return len(s.nodes), len(s.edges)
}

// Snapshot copies the current graph.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Nodes: make([]Node, 0, len(s.nodeOrder)),
		Edges: make([]Edge, 0, len(s.edgeOrder)),
	}
	for _, id := range s.nodeOrder {
		snap.Nodes = append(snap.Nodes, *s.nodes[id])
	}
	for _, id := range s.edgeOrder {
		snap.Edges = append(snap.Edges, *s.edges[id])
	}
	return snap
}
