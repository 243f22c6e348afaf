package scene

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/graph"
	"github.com/AaronLay10/SceneWorkbench/internal/layout"
	"github.com/AaronLay10/SceneWorkbench/internal/overlay"
)

// Confirmer is the owner confirmation gate in front of destructive edits.
type Confirmer interface {
	Confirm(ctx context.Context, title, description string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, title, description string) bool

func (f ConfirmFunc) Confirm(ctx context.Context, title, description string) bool {
	return f(ctx, title, description)
}

// Answer returns a Confirmer that always answers ok, for callers that asked
// the user before calling in.
func Answer(ok bool) Confirmer {
	return ConfirmFunc(func(context.Context, string, string) bool { return ok })
}

// surface reports a failed operation to listeners and the log.
func (s *Session) surface(op string, err error) {
	if errors.Is(err, ErrClosed) {
		return
	}
	s.logger.Warn("operation failed", "op", op, "error", err)
	s.publish(Notice{Kind: NoticeError, Op: op, State: EditRejected, Message: err.Error()})
}

func (s *Session) requested(op, target string) {
	s.publish(Notice{Kind: NoticeEdit, Op: op, State: EditRequested, Target: target})
}

func (s *Session) committed(op, target string) {
	s.publish(Notice{Kind: NoticeEdit, Op: op, State: EditCommitted, Target: target})
}

// lookup reads from the store on the loop.
func (s *Session) lookup(fn func(st *graph.Store) error) error {
	var err error
	if derr := s.do(func() { err = fn(s.store) }); derr != nil {
		return derr
	}
	return err
}

// Connect asks the authority to make target depend on source and, once it
// agrees, draws the edge.
func (s *Session) Connect(ctx context.Context, source, target string) error {
	const op = "connect"
	s.opMu.Lock()
	defer s.opMu.Unlock()

	gen := s.gen.Load()
	id := graph.EdgeID(source, target)
	candidate := graph.Edge{Source: source, Target: target, Condition: authority.DefaultCondition}

	err := s.lookup(func(st *graph.Store) error {
		if err := readOnly(st, "target", target); err != nil {
			return err
		}
		if err := st.CanAddEdge(candidate); err != nil {
			return &authority.ValidationError{Field: "dependency", Value: id, Reason: err.Error()}
		}
		return nil
	})
	if err != nil {
		return s.rejectDependency(op, source, target, err)
	}

	s.requested(op, id)
	if err := s.deps.Authority.CreateDependency(ctx, s.scene, source, target); err != nil {
		return s.rejectDependency(op, source, target, authority.Reject("create_dependency", s.scene, err))
	}

	err = s.commit(gen, op, func(st *graph.Store) error {
		if _, err := st.ApplyStructuralEdit(graph.AddEdge(candidate)); err != nil {
			return err
		}
		e, _ := st.Edge(id)
		overlay.Recompute(st, e)
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrDiscarded) {
			s.surface(op, err)
		}
		return err
	}

	s.journal("info", "dependency.created", "", map[string]interface{}{"source": source, "target": target})
	s.committed(op, id)
	return nil
}

// readOnly rejects edits whose node is missing or owned by another scene.
func readOnly(st *graph.Store, field, id string) error {
	n, ok := st.Node(id)
	if !ok {
		return &authority.ValidationError{Field: field, Value: id, Reason: "no such service in this scene"}
	}
	if n.External {
		return &authority.ValidationError{Field: field, Value: id, Reason: fmt.Sprintf("owned by scene %s and read-only here", n.OwnerScene)}
	}
	return nil
}

func (s *Session) rejectDependency(op, source, target string, err error) error {
	s.surface(op, err)
	s.journal("warning", "dependency.rejected", err.Error(), map[string]interface{}{
		"op":     op,
		"source": source,
		"target": target,
	})
	return err
}

// Disconnect removes the given edges one after another, in edge id order,
// waiting for the authority before issuing the next call. Each acknowledged
// removal is applied on its own. Edges that no longer exist are skipped and
// edges into an external node are left alone. Failures do not stop the
// remaining edges; they are returned joined.
func (s *Session) Disconnect(ctx context.Context, edgeIDs ...string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	ids := append([]string(nil), edgeIDs...)
	sort.Strings(ids)

	gen := s.gen.Load()
	var errs []error
	for _, id := range ids {
		if err := s.disconnectOne(ctx, gen, id); err != nil {
			errs = append(errs, err)
			if errors.Is(err, ErrClosed) || errors.Is(err, ErrDiscarded) {
				break
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Session) disconnectOne(ctx context.Context, gen uint64, id string) error {
	const op = "disconnect"

	var (
		e        graph.Edge
		found    bool
		external bool
	)
	if err := s.lookup(func(st *graph.Store) error {
		e, found = st.Edge(id)
		if found {
			t, _ := st.Node(e.Target)
			external = t.External
		}
		return nil
	}); err != nil {
		return err
	}
	if !found {
		return nil
	}
	if external {
		s.logger.Debug("disconnect into external service suppressed", "edge", id)
		return nil
	}

	s.requested(op, id)
	if err := s.deps.Authority.DeleteDependency(ctx, s.scene, e.Source, e.Target); err != nil {
		return s.rejectDependency(op, e.Source, e.Target, authority.Reject("delete_dependency", s.scene, err))
	}
	if err := s.commit(gen, op, func(st *graph.Store) error {
		_, err := st.ApplyStructuralEdit(graph.RemoveEdges(id))
		return err
	}); err != nil {
		return err
	}
	s.journal("info", "dependency.deleted", "", map[string]interface{}{"source": e.Source, "target": e.Target})
	s.committed(op, id)
	return nil
}

// SetCondition changes the condition of an existing dependency.
func (s *Session) SetCondition(ctx context.Context, edgeID string, condition authority.Condition) error {
	const op = "set_condition"
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if _, err := authority.ParseCondition(string(condition)); err != nil {
		s.surface(op, err)
		return err
	}

	gen := s.gen.Load()
	var e graph.Edge
	err := s.lookup(func(st *graph.Store) error {
		var ok bool
		if e, ok = st.Edge(edgeID); !ok {
			return &authority.ValidationError{Field: "dependency", Value: edgeID, Reason: "no such dependency"}
		}
		return readOnly(st, "target", e.Target)
	})
	if err != nil {
		return s.rejectDependency(op, e.Source, e.Target, err)
	}

	s.requested(op, edgeID)
	if err := s.deps.Authority.SetDependencyCondition(ctx, s.scene, e.Source, e.Target, condition); err != nil {
		return s.rejectDependency(op, e.Source, e.Target, authority.Reject("set_dependency_condition", s.scene, err))
	}
	if err := s.commit(gen, op, func(st *graph.Store) error {
		return st.SetEdgeCondition(edgeID, condition)
	}); err != nil {
		return err
	}
	s.journal("info", "dependency.condition_changed", "", map[string]interface{}{
		"source":    e.Source,
		"target":    e.Target,
		"condition": string(condition),
	})
	s.committed(op, edgeID)
	return nil
}

// DeleteNode removes a service after the owner confirms. Its dependencies
// are removed first, one by one in edge id order, then the service itself.
// A declined confirmation makes no call and changes nothing.
func (s *Session) DeleteNode(ctx context.Context, id string, confirm Confirmer) error {
	const op = "delete_node"
	s.opMu.Lock()
	defer s.opMu.Unlock()

	gen := s.gen.Load()
	var incident []graph.Edge
	err := s.lookup(func(st *graph.Store) error {
		if err := readOnly(st, "service", id); err != nil {
			return err
		}
		for _, e := range st.IncidentEdges(id) {
			if t, _ := st.Node(e.Target); t.External {
				continue
			}
			incident = append(incident, e)
		}
		return nil
	})
	if err != nil {
		s.surface(op, err)
		s.journal("warning", "service.rejected", err.Error(), map[string]interface{}{"op": op, "service": id})
		return err
	}
	sort.Slice(incident, func(i, j int) bool { return incident[i].ID < incident[j].ID })

	if confirm == nil || !confirm.Confirm(ctx, "Delete service",
		fmt.Sprintf("The service %q will be deleted along with its configuration and local assets. Are you sure you want to proceed?", id)) {
		s.publish(Notice{Kind: NoticeInfo, Op: op, Target: id, Message: "deletion cancelled"})
		return nil
	}

	s.requested(op, id)
	var removed []graph.Edge
	if s.opts.DeletePolicy == DeleteAtomic {
		removed, err = s.detachAtomic(ctx, incident)
	} else {
		removed, err = s.detachBestEffort(ctx, gen, incident)
	}
	if err != nil {
		s.journal("warning", "service.rejected", err.Error(), map[string]interface{}{"op": op, "service": id})
		return err
	}

	if err := s.deps.Authority.DeleteService(ctx, s.scene, id); err != nil {
		err = authority.Reject("delete_service", s.scene, err)
		s.surface(op, err)
		if s.opts.DeletePolicy == DeleteAtomic {
			s.restore(ctx, removed)
		}
		s.journal("warning", "service.rejected", err.Error(), map[string]interface{}{"op": op, "service": id})
		return err
	}

	err = s.commit(gen, op, func(st *graph.Store) error {
		_, err := st.ApplyStructuralEdit(graph.RemoveNode(id))
		return err
	})
	if err != nil {
		return err
	}
	s.dropSubscription(id)
	s.journal("info", "service.deleted", "", map[string]interface{}{
		"service":      id,
		"dependencies": len(removed),
	})
	s.committed(op, id)
	return nil
}

// detachBestEffort removes each dependency and applies each
// acknowledgement as it arrives. It stops at the first failure.
func (s *Session) detachBestEffort(ctx context.Context, gen uint64, edges []graph.Edge) ([]graph.Edge, error) {
	var removed []graph.Edge
	for _, e := range edges {
		if err := s.disconnectOne(ctx, gen, e.ID); err != nil {
			return removed, err
		}
		removed = append(removed, e)
	}
	return removed, nil
}

// detachAtomic removes every dependency at the authority without touching
// the store. On failure the removed ones are restored.
func (s *Session) detachAtomic(ctx context.Context, edges []graph.Edge) ([]graph.Edge, error) {
	var removed []graph.Edge
	for _, e := range edges {
		if err := s.deps.Authority.DeleteDependency(ctx, s.scene, e.Source, e.Target); err != nil {
			err = authority.Reject("delete_dependency", s.scene, err)
			s.surface("delete_node", err)
			s.restore(ctx, removed)
			return nil, err
		}
		removed = append(removed, e)
	}
	return removed, nil
}

// restore re-creates dependencies removed by an aborted atomic deletion,
// keeping their condition. Failures are surfaced and skipped.
func (s *Session) restore(ctx context.Context, edges []graph.Edge) {
	for i := len(edges) - 1; i >= 0; i-- {
		e := edges[i]
		if err := s.deps.Authority.CreateDependency(ctx, s.scene, e.Source, e.Target); err != nil {
			s.surface("restore_dependency", authority.Reject("create_dependency", s.scene, err))
			continue
		}
		if e.Condition != "" && e.Condition != authority.DefaultCondition {
			if err := s.deps.Authority.SetDependencyCondition(ctx, s.scene, e.Source, e.Target, e.Condition); err != nil {
				s.surface("restore_dependency", authority.Reject("set_dependency_condition", s.scene, err))
				continue
			}
		}
		s.journal("info", "dependency.restored", "", map[string]interface{}{"source": e.Source, "target": e.Target})
	}
}

// Relayout positions the current graph again without reloading it.
func (s *Session) Relayout() error {
	err := s.do(func() {
		snap := s.store.Snapshot()
		res := layout.Compute(snap.NodeIDs(), snap.LayoutEdges(), s.opts.Layout)
		s.store.SetPositions(res.Positions)
	})
	if err != nil {
		return err
	}
	s.journal("info", "scene.relayout", "", nil)
	s.publish(Notice{Kind: NoticeLayout, Op: "relayout"})
	return nil
}

// MoveNode records a drag of node id to p.
func (s *Session) MoveNode(id string, p layout.Point) error {
	err := s.lookup(func(st *graph.Store) error { return st.MoveNode(id, p) })
	if err != nil {
		if errors.Is(err, graph.ErrNodeNotFound) {
			err = &authority.ValidationError{Field: "service", Value: id, Reason: "no such service in this scene"}
		}
		return err
	}
	s.publish(Notice{Kind: NoticeLayout, Op: "move", Target: id})
	return nil
}

// HandleShortcut runs the action bound to key.
func (s *Session) HandleShortcut(ctx context.Context, key string) error {
	action, ok := s.opts.Shortcuts[normalizeShortcut(key)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownShortcut, key)
	}
	switch action {
	case ActionReload:
		return s.Reload(ctx)
	case ActionRelayout:
		return s.Relayout()
	}
	return fmt.Errorf("%w: %s", ErrUnknownShortcut, key)
}

// nodeIDs returns the ids of the current nodes.
func (s *Session) nodeIDs() ([]string, error) {
	var ids []string
	err := s.do(func() { ids = s.store.Snapshot().NodeIDs() })
	return ids, err
}

// CreateService adds a service to the scene and reloads the view.
func (s *Session) CreateService(ctx context.Context, id, payload string) error {
	const op = "create_service"
	if s.deps.Catalog == nil {
		return ErrNoCatalog
	}
	if err := s.checkNewServiceID(id, ""); err != nil {
		s.surface(op, err)
		return err
	}
	s.requested(op, id)
	if err := s.deps.Catalog.CreateService(ctx, s.scene, id, payload); err != nil {
		err = authority.Reject("create_service", s.scene, err)
		s.surface(op, err)
		return err
	}
	s.journal("info", "service.created", "", map[string]interface{}{"service": id})
	s.committed(op, id)
	return s.Reload(ctx)
}

// UpdateService replaces the definition of previousID, renaming it to id
// when they differ, and reloads the view.
func (s *Session) UpdateService(ctx context.Context, previousID, id, payload string) error {
	const op = "update_service"
	if s.deps.Catalog == nil {
		return ErrNoCatalog
	}
	if id != previousID {
		if err := s.checkNewServiceID(id, previousID); err != nil {
			s.surface(op, err)
			return err
		}
	}
	s.requested(op, id)
	if err := s.deps.Catalog.UpdateService(ctx, s.scene, previousID, id, payload); err != nil {
		err = authority.Reject("update_service", s.scene, err)
		s.surface(op, err)
		return err
	}
	s.journal("info", "service.updated", "", map[string]interface{}{"service": id, "previous": previousID})
	s.committed(op, id)
	return s.Reload(ctx)
}

func (s *Session) checkNewServiceID(id, except string) error {
	if err := authority.ValidateServiceID(id); err != nil {
		return err
	}
	ids, err := s.nodeIDs()
	if err != nil {
		return err
	}
	existing := ids[:0]
	for _, n := range ids {
		if n != except {
			existing = append(existing, n)
		}
	}
	return authority.CheckUnique("service id", id, existing)
}

// StartAll starts every service of the scene.
func (s *Session) StartAll(ctx context.Context) error {
	return s.runtime("run_scene", "", func() error {
		return s.deps.Authority.StartScene(ctx, s.scene)
	})
}

// StopAll stops every service of the scene.
func (s *Session) StopAll(ctx context.Context) error {
	return s.runtime("stop_scene", "", func() error {
		return s.deps.Authority.StopScene(ctx, s.scene)
	})
}

// StartService starts one service.
func (s *Session) StartService(ctx context.Context, id string) error {
	return s.runtime("run_service", id, func() error {
		return s.deps.Authority.StartService(ctx, s.scene, id)
	})
}

// StopService stops one service.
func (s *Session) StopService(ctx context.Context, id string) error {
	return s.runtime("stop_service", id, func() error {
		return s.deps.Authority.StopService(ctx, s.scene, id)
	})
}

// runtime issues a lifecycle command. The graph is not touched; the
// resulting status changes arrive through the overlay.
func (s *Session) runtime(op, id string, call func() error) error {
	if s.isClosed() {
		return ErrClosed
	}
	if id != "" {
		if err := s.lookup(func(st *graph.Store) error {
			if _, ok := st.Node(id); !ok {
				return &authority.ValidationError{Field: "service", Value: id, Reason: "no such service in this scene"}
			}
			return nil
		}); err != nil {
			s.surface(op, err)
			return err
		}
	}
	if err := call(); err != nil {
		err = authority.Reject(op, s.scene, err)
		s.surface(op, err)
		s.journal("warning", "runtime.rejected", err.Error(), map[string]interface{}{"op": op, "service": id})
		return err
	}
	s.journal("info", "runtime.command", "", map[string]interface{}{"op": op, "service": id})
	return nil
}
