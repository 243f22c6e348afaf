package scene

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/layout"
)

// DeletePolicy decides what happens when removing a node's dependencies
// fails part way.
type DeletePolicy string

const (
	// DeleteBestEffort commits every acknowledged edge removal on its own. The
	// first failure stops the deletion and the node stays.
	DeleteBestEffort DeletePolicy = "best_effort"
	// DeleteAtomic restores already removed dependencies at the authority on
	// failure and applies nothing locally.
	DeleteAtomic DeletePolicy = "atomic"
)

// ParseDeletePolicy accepts "best_effort", "atomic" or empty (best effort).
func ParseDeletePolicy(raw string) (DeletePolicy, error) {
	switch p := DeletePolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return DeleteBestEffort, nil
	case DeleteBestEffort, DeleteAtomic:
		return p, nil
	}
	return "", fmt.Errorf("unknown delete policy %q", raw)
}

// Action is a session command reachable from a keyboard shortcut.
type Action string

const (
	ActionReload   Action = "reload"
	ActionRelayout Action = "relayout"
)

// DefaultShortcuts binds ctrl+r to reload and ctrl+l to re-layout.
func DefaultShortcuts() map[string]Action {
	return map[string]Action{
		"ctrl+r": ActionReload,
		"ctrl+l": ActionRelayout,
	}
}

// Deps are the collaborators of a session.
type Deps struct {
	Authority authority.Authority
	Feed      authority.StatusFeed
	// Catalog is optional; without it CreateService and UpdateService fail.
	Catalog authority.Catalog
}

// Options tune a session.
type Options struct {
	Layout       layout.Options
	DeletePolicy DeletePolicy
	Shortcuts    map[string]Action
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Layout == (layout.Options{}) {
		o.Layout = layout.DefaultOptions()
	}
	if o.DeletePolicy == "" {
		o.DeletePolicy = DeleteBestEffort
	}
	if o.Shortcuts == nil {
		o.Shortcuts = DefaultShortcuts()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func normalizeShortcut(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, " ", ""))
}
