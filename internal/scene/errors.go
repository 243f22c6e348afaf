package scene

import "errors"

var (
	// ErrClosed is returned by every method of a closed session.
	ErrClosed = errors.New("scene session closed")

	// ErrDiscarded means the authority accepted the edit but the view was
	// reloaded or closed before the result came back, so nothing was applied
	// locally.
	ErrDiscarded = errors.New("edit result discarded after the view changed")

	// ErrNoCatalog is returned by service editors when the session has no
	// Catalog.
	ErrNoCatalog = errors.New("service catalog not available")

	// ErrUnknownShortcut is returned for a key with no binding.
	ErrUnknownShortcut = errors.New("no action bound to shortcut")
)
