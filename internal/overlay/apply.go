package overlay

import (
	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/graph"
)

// Active reports whether an edge between source and target is drawn as
// active: both ends must be running.
func Active(source, target authority.Status) bool {
	return source == authority.StatusRunning && target == authority.StatusRunning
}

// Apply patches the status of node id and recomputes the active flag of
// every edge touching it. It returns the ids of edges whose flag changed.
// Events for nodes no longer in the store are ignored.
func Apply(store *graph.Store, id string, ev authority.StatusEvent) []string {
	if err := store.PatchNodeStatus(id, ev.Status, ev.Message); err != nil {
		return nil
	}
	var changed []string
	for _, e := range store.IncidentEdges(id) {
		if Recompute(store, e) {
			changed = append(changed, e.ID)
		}
	}
	return changed
}

// Recompute derives the active flag of e from its endpoint statuses and
// stores it. It reports whether the flag changed.
func Recompute(store *graph.Store, e graph.Edge) bool {
	src, ok1 := store.Node(e.Source)
	tgt, ok2 := store.Node(e.Target)
	if !ok1 || !ok2 {
		return false
	}
	active := Active(src.Status, tgt.Status)
	if active == e.Active {
		return false
	}
	return store.PatchEdgeActive(e.ID, active) == nil
}

// RecomputeAll refreshes every edge, used after a full load.
func RecomputeAll(store *graph.Store) {
	for _, e := range store.Snapshot().Edges {
		Recompute(store, e)
	}
}
