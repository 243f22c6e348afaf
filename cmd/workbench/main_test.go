package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/authority/authoritytest"
	"github.com/AaronLay10/SceneWorkbench/internal/config"
	"github.com/AaronLay10/SceneWorkbench/internal/graph"
	"github.com/AaronLay10/SceneWorkbench/internal/scene"
)

func testSnapshot() graph.Snapshot {
	nodes, edges := scene.Translate("web", []authority.Service{
		authoritytest.Svc("db", "infra"),
		authoritytest.Svc("api", "web", "db"),
	})
	cfg := config.Default()
	scene.Place(nodes, edges, cfg.LayoutOptions())
	return graph.Snapshot{Nodes: nodes, Edges: edges}
}

func TestPrintGraphTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printGraph(&buf, testSnapshot(), "table"))

	out := buf.String()
	assert.Contains(t, out, "SERVICE")
	assert.Contains(t, out, "infra (external)")
	assert.Contains(t, out, "db->api")
}

func TestPrintGraphJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printGraph(&buf, testSnapshot(), "json"))

	var snap graph.Snapshot
	require.NoError(t, json.Unmarshal(buf.Bytes(), &snap))
	assert.Len(t, snap.Nodes, 2)
	require.Len(t, snap.Edges, 1)
	assert.Equal(t, "db->api", snap.Edges[0].ID)
}

func TestPrintGraphUnknownFormat(t *testing.T) {
	assert.Error(t, printGraph(&bytes.Buffer{}, testSnapshot(), "xml"))
}

func TestSessionOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Scene.DeletePolicy = "atomic"
	cfg.Scene.Shortcuts = map[string]string{"f5": "reload"}

	opts, err := sessionOptions(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, scene.DeleteAtomic, opts.DeletePolicy)
	assert.Equal(t, scene.ActionReload, opts.Shortcuts["f5"])
	assert.Equal(t, scene.ActionRelayout, opts.Shortcuts["ctrl+l"])
}

func TestSessionOptionsRejectsUnknownAction(t *testing.T) {
	cfg := config.Default()
	cfg.Scene.Shortcuts = map[string]string{"f5": "explode"}
	_, err := sessionOptions(cfg, nil)
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Scene.DeletePolicy = "sometimes"
	_, err = sessionOptions(cfg, nil)
	assert.Error(t, err)
}
