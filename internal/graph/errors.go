package graph

import "errors"

// Sentinel errors for store mutations.
var (
	// ErrNodeNotFound is returned when an operation names a node that is not
	// in the store, including either endpoint of a new edge.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEdgeNotFound is returned when patching an edge that is not in the
	// store.
	ErrEdgeNotFound = errors.New("edge not found")

	// ErrDuplicateEdge is returned when adding a second edge for the same
	// ordered pair.
	ErrDuplicateEdge = errors.New("edge already exists")

	// ErrSelfLoop is returned when an edge would connect a node to itself.
	ErrSelfLoop = errors.New("self-referential edge not allowed")

	// ErrUnknownEdit is returned for an Edit with no recognized kind.
	ErrUnknownEdit = errors.New("unknown structural edit")
)
