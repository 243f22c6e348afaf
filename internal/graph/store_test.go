package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/layout"
)

func nodes(ids ...string) []Node {
	out := make([]Node, len(ids))
	for i, id := range ids {
		out[i] = Node{ID: id, OwnerScene: "main"}
	}
	return out
}

func edge(source, target string) Edge {
	return Edge{Source: source, Target: target, Condition: authority.ConditionStarted}
}

func edgeIDs(s Snapshot) []string {
	ids := make([]string, len(s.Edges))
	for i, e := range s.Edges {
		ids[i] = e.ID
	}
	return ids
}

func TestReplaceAllDropsInvalidEdges(t *testing.T) {
	s := NewStore()
	dropped := s.ReplaceAll(
		nodes("A", "B", "A"),
		[]Edge{edge("A", "B"), edge("A", "ghost"), edge("B", "B"), edge("A", "B")},
	)

	assert.Len(t, dropped, 3)
	snap := s.Snapshot()
	assert.Equal(t, []string{"A", "B"}, snap.NodeIDs())
	assert.Equal(t, []string{EdgeID("A", "B")}, edgeIDs(snap))
	assert.Equal(t, authority.StatusUnknown, snap.Nodes[0].Status)
}

func TestAddEdge(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(nodes("A", "B"), nil)

	added, err := s.ApplyStructuralEdit(AddEdge(Edge{Source: "A", Target: "B", Active: true}))
	require.NoError(t, err)
	assert.Equal(t, []string{"A->B"}, added)

	e, ok := s.Edge("A->B")
	require.True(t, ok)
	assert.False(t, e.Active, "new edges start inactive")
	assert.Equal(t, authority.DefaultCondition, e.Condition)
}

func TestAddEdgeRejectsInvariantViolations(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(nodes("A", "B"), []Edge{edge("A", "B")})
	before := s.Snapshot()

	_, err := s.ApplyStructuralEdit(AddEdge(edge("A", "B")))
	assert.ErrorIs(t, err, ErrDuplicateEdge)

	_, err = s.ApplyStructuralEdit(AddEdge(edge("A", "A")))
	assert.ErrorIs(t, err, ErrSelfLoop)

	_, err = s.ApplyStructuralEdit(AddEdge(edge("A", "Z")))
	assert.ErrorIs(t, err, ErrNodeNotFound)

	assert.Equal(t, before, s.Snapshot())
}

func TestReverseEdgeIsDistinct(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(nodes("A", "B"), []Edge{edge("A", "B")})

	_, err := s.ApplyStructuralEdit(AddEdge(edge("B", "A")))
	require.NoError(t, err)
	_, edges := s.Len()
	assert.Equal(t, 2, edges)
}

func TestRemoveEdgesIgnoresMissing(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(nodes("A", "B", "C"), []Edge{edge("A", "B"), edge("B", "C")})
	v := s.Version()

	removed, err := s.ApplyStructuralEdit(RemoveEdges("A->B", "nope"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A->B"}, removed)
	assert.Equal(t, []string{"B->C"}, edgeIDs(s.Snapshot()))
	assert.Greater(t, s.Version(), v)

	v = s.Version()
	removed, err = s.ApplyStructuralEdit(RemoveEdges("nope"))
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.Equal(t, v, s.Version())
}

func TestRemoveNodeRemovesExactlyIncidentEdges(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(nodes("A", "B", "C", "D"), []Edge{
		edge("A", "B"), edge("A", "C"), edge("C", "D"), edge("B", "D"),
	})

	removed, err := s.ApplyStructuralEdit(RemoveNode("C"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A->C", "C->D"}, removed)

	snap := s.Snapshot()
	assert.Equal(t, []string{"A", "B", "D"}, snap.NodeIDs())
	assert.Equal(t, []string{"A->B", "B->D"}, edgeIDs(snap))

	_, err = s.ApplyStructuralEdit(RemoveNode("C"))
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestUnknownEdit(t *testing.T) {
	_, err := NewStore().ApplyStructuralEdit(Edit{})
	assert.ErrorIs(t, err, ErrUnknownEdit)
}

func TestPatches(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(nodes("A", "B"), []Edge{edge("A", "B")})

	require.NoError(t, s.PatchNodeStatus("A", authority.StatusError, "exit 1"))
	n, _ := s.Node("A")
	assert.Equal(t, authority.StatusError, n.Status)
	assert.Equal(t, "exit 1", n.StatusMessage)

	require.NoError(t, s.PatchEdgeActive("A->B", true))
	e, _ := s.Edge("A->B")
	assert.True(t, e.Active)

	require.NoError(t, s.SetEdgeCondition("A->B", authority.ConditionHealthy))
	e, _ = s.Edge("A->B")
	assert.Equal(t, authority.ConditionHealthy, e.Condition)

	assert.ErrorIs(t, s.PatchNodeStatus("Z", authority.StatusRunning, ""), ErrNodeNotFound)
	assert.ErrorIs(t, s.PatchEdgeActive("B->A", true), ErrEdgeNotFound)
	assert.ErrorIs(t, s.SetEdgeCondition("B->A", authority.ConditionHealthy), ErrEdgeNotFound)
}

func TestPositions(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(nodes("A", "B"), nil)

	s.SetPositions(map[string]layout.Point{"A": {X: 1, Y: 2}, "ghost": {X: 9, Y: 9}})
	require.NoError(t, s.MoveNode("B", layout.Point{X: 5, Y: 6}))
	assert.ErrorIs(t, s.MoveNode("ghost", layout.Point{}), ErrNodeNotFound)

	a, _ := s.Node("A")
	b, _ := s.Node("B")
	assert.Equal(t, layout.Point{X: 1, Y: 2}, a.Position)
	assert.Equal(t, layout.Point{X: 5, Y: 6}, b.Position)
	_, ok := s.Node("ghost")
	assert.False(t, ok)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(nodes("A", "B"), []Edge{edge("A", "B")})

	snap := s.Snapshot()
	snap.Nodes[0].Status = authority.StatusRunning
	snap.Edges[0].Active = true

	n, _ := s.Node("A")
	e, _ := s.Edge("A->B")
	assert.Equal(t, authority.StatusUnknown, n.Status)
	assert.False(t, e.Active)
}

func TestIncidentEdges(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(nodes("A", "B", "C"), []Edge{edge("A", "B"), edge("B", "C"), edge("A", "C")})

	got := s.IncidentEdges("B")
	require.Len(t, got, 2)
	assert.Equal(t, "A->B", got[0].ID)
	assert.Equal(t, "B->C", got[1].ID)
}
