// Package layout positions a dependency graph in left-to-right layers.
//
// Compute is a pure function: every call builds its own working graph from
// the ids and edges it is given, so concurrent calls never share state and
// repeated calls on the same input return the same positions.
//
// The algorithm is the usual layered (Sugiyama style) placement:
//  1. break cycles by reversing back edges found in discovery order,
//  2. rank every node with the longest path from a source,
//  3. order each rank with barycenter sweeps, keeping the ordering with the
//     fewest crossings,
//  4. assign coordinates, centering each rank vertically.
package layout

import (
	"sort"
)

// Point is a top-left anchored canvas coordinate.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Edge is a directed pair of node ids.
type Edge struct {
	Source string
	Target string
}

// Options controls the geometry of the layout.
type Options struct {
	NodeWidth  float64
	NodeHeight float64
	RankSep    float64 // horizontal gap between ranks
	NodeSep    float64 // vertical gap between nodes of one rank
	Sweeps     int     // barycenter passes
}

// DefaultOptions matches the node card size used by the canvas.
func DefaultOptions() Options {
	return Options{
		NodeWidth:  208,
		NodeHeight: 96,
		RankSep:    150,
		NodeSep:    50,
		Sweeps:     4,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.NodeWidth <= 0 {
		o.NodeWidth = d.NodeWidth
	}
	if o.NodeHeight <= 0 {
		o.NodeHeight = d.NodeHeight
	}
	if o.RankSep < 0 {
		o.RankSep = d.RankSep
	}
	if o.NodeSep < 0 {
		o.NodeSep = d.NodeSep
	}
	if o.Sweeps <= 0 {
		o.Sweeps = d.Sweeps
	}
	return o
}

// Result holds the computed layout.
type Result struct {
	Positions map[string]Point
	Ranks     map[string]int
	Layers    [][]string // node ids per rank, top to bottom
}

// working is the per-call graph. Nodes are addressed by their index in ids,
// which is sorted, so discovery order does not depend on input order.
type working struct {
	ids   []string
	succ  [][]int
	pred  [][]int
	rank  []int
	order [][]int
	pos   []int
}

// Compute lays out the given nodes. Edges whose endpoints are unknown and
// self loops are ignored. An empty node set yields an empty Result.
func Compute(nodeIDs []string, edges []Edge, opts Options) Result {
	opts = opts.withDefaults()
	res := Result{
		Positions: make(map[string]Point, len(nodeIDs)),
		Ranks:     make(map[string]int, len(nodeIDs)),
	}
	if len(nodeIDs) == 0 {
		return res
	}

	w := build(nodeIDs, edges)
	w.breakCycles()
	w.assignRanks()
	w.initOrder()
	w.reduceCrossings(opts.Sweeps)

	res.Layers = make([][]string, len(w.order))
	for r, layer := range w.order {
		res.Layers[r] = make([]string, len(layer))
		for i, v := range layer {
			res.Layers[r][i] = w.ids[v]
			res.Ranks[w.ids[v]] = r
		}
	}

	maxHeight := 0.0
	for _, layer := range w.order {
		if h := layerHeight(len(layer), opts); h > maxHeight {
			maxHeight = h
		}
	}
	for r, layer := range w.order {
		offset := (maxHeight - layerHeight(len(layer), opts)) / 2
		for i, v := range layer {
			res.Positions[w.ids[v]] = Point{
				X: float64(r) * (opts.NodeWidth + opts.RankSep),
				Y: offset + float64(i)*(opts.NodeHeight+opts.NodeSep),
			}
		}
	}
	return res
}

func layerHeight(n int, opts Options) float64 {
	if n == 0 {
		return 0
	}
	return float64(n)*opts.NodeHeight + float64(n-1)*opts.NodeSep
}

func build(nodeIDs []string, edges []Edge) *working {
	seen := make(map[string]struct{}, len(nodeIDs))
	ids := make([]string, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	w := &working{
		ids:  ids,
		succ: make([][]int, len(ids)),
		pred: make([][]int, len(ids)),
	}
	pairs := make(map[[2]int]struct{}, len(edges))
	for _, e := range edges {
		s, ok1 := index[e.Source]
		t, ok2 := index[e.Target]
		if !ok1 || !ok2 || s == t {
			continue
		}
		pairs[[2]int{s, t}] = struct{}{}
	}
	sorted := make([][2]int, 0, len(pairs))
	for p := range pairs {
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})
	for _, p := range sorted {
		w.succ[p[0]] = append(w.succ[p[0]], p[1])
		w.pred[p[1]] = append(w.pred[p[1]], p[0])
	}
	return w
}

// breakCycles reverses every edge that points back into the current DFS
// path. Nodes are visited in id order, so the choice is deterministic.
func (w *working) breakCycles() {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make([]int, len(w.ids))
	var back [][2]int

	var visit func(v int)
	visit = func(v int) {
		state[v] = onStack
		for _, t := range w.succ[v] {
			switch state[t] {
			case unvisited:
				visit(t)
			case onStack:
				back = append(back, [2]int{v, t})
			}
		}
		state[v] = done
	}
	for v := range w.ids {
		if state[v] == unvisited {
			visit(v)
		}
	}

	for _, e := range back {
		w.succ[e[0]] = without(w.succ[e[0]], e[1])
		w.pred[e[1]] = without(w.pred[e[1]], e[0])
		if !contains(w.succ[e[1]], e[0]) {
			w.succ[e[1]] = insertSorted(w.succ[e[1]], e[0])
			w.pred[e[0]] = insertSorted(w.pred[e[0]], e[1])
		}
	}
}

// assignRanks gives every node the length of the longest path reaching it.
// The graph is acyclic here.
func (w *working) assignRanks() {
	n := len(w.ids)
	w.rank = make([]int, n)
	indegree := make([]int, n)
	for v := 0; v < n; v++ {
		indegree[v] = len(w.pred[v])
	}

	queue := make([]int, 0, n)
	for v := 0; v < n; v++ {
		if indegree[v] == 0 {
			queue = append(queue, v)
		}
	}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, t := range w.succ[v] {
			if w.rank[v]+1 > w.rank[t] {
				w.rank[t] = w.rank[v] + 1
			}
			indegree[t]--
			if indegree[t] == 0 {
				queue = append(queue, t)
			}
		}
	}
}

func (w *working) initOrder() {
	maxRank := 0
	for _, r := range w.rank {
		if r > maxRank {
			maxRank = r
		}
	}
	w.order = make([][]int, maxRank+1)
	for v := range w.ids {
		w.order[w.rank[v]] = append(w.order[w.rank[v]], v)
	}
	w.pos = make([]int, len(w.ids))
	w.reindex()
}

func (w *working) reindex() {
	for _, layer := range w.order {
		for i, v := range layer {
			w.pos[v] = i
		}
	}
}

// centered returns the position of v relative to the middle of its rank, so
// ranks of different sizes line up the way they are drawn.
func (w *working) centered(v int) float64 {
	layer := w.order[w.rank[v]]
	return float64(w.pos[v]) - float64(len(layer)-1)/2
}

// reduceCrossings alternates downward sweeps (ordering by predecessors) and
// upward sweeps (ordering by successors) and keeps the best ordering seen.
func (w *working) reduceCrossings(sweeps int) {
	best := cloneOrder(w.order)
	bestCrossings := w.crossings()

	for i := 0; i < sweeps && bestCrossings > 0; i++ {
		if i%2 == 0 {
			for r := 1; r < len(w.order); r++ {
				w.sortLayer(r, w.pred)
			}
		} else {
			for r := len(w.order) - 2; r >= 0; r-- {
				w.sortLayer(r, w.succ)
			}
		}
		if c := w.crossings(); c < bestCrossings {
			bestCrossings = c
			best = cloneOrder(w.order)
		}
	}

	w.order = best
	w.reindex()
}

func (w *working) sortLayer(r int, neighbors [][]int) {
	layer := w.order[r]
	bary := make(map[int]float64, len(layer))
	for _, v := range layer {
		if len(neighbors[v]) == 0 {
			bary[v] = w.centered(v)
			continue
		}
		sum := 0.0
		for _, u := range neighbors[v] {
			sum += w.centered(u)
		}
		bary[v] = sum / float64(len(neighbors[v]))
	}
	sort.SliceStable(layer, func(i, j int) bool {
		bi, bj := bary[layer[i]], bary[layer[j]]
		if bi != bj {
			return bi < bj
		}
		return w.pos[layer[i]] < w.pos[layer[j]]
	})
	for i, v := range layer {
		w.pos[v] = i
	}
}

// crossings counts pairs of edges spanning the same two ranks whose
// endpoints are ordered differently at each end.
func (w *working) crossings() int {
	type span struct{ from, to int }
	groups := make(map[span][][2]int)
	for v := range w.ids {
		for _, t := range w.succ[v] {
			s := span{w.rank[v], w.rank[t]}
			groups[s] = append(groups[s], [2]int{v, t})
		}
	}
	total := 0
	for _, es := range groups {
		for i := 0; i < len(es); i++ {
			for j := i + 1; j < len(es); j++ {
				a := w.pos[es[i][0]] - w.pos[es[j][0]]
				b := w.pos[es[i][1]] - w.pos[es[j][1]]
				if a*b < 0 {
					total++
				}
			}
		}
	}
	return total
}

func cloneOrder(order [][]int) [][]int {
	out := make([][]int, len(order))
	for i, layer := range order {
		out[i] = append([]int(nil), layer...)
	}
	return out
}

func without(s []int, x int) []int {
	out := s[:0]
	for _, v := range s {
		if v != x {
			out = append(out, v)
		}
	}
	return out
}

func contains(s []int, x int) bool {
	for _, v := range s {
		if v == x {
			return true
		}
	}
	return false
}

func insertSorted(s []int, x int) []int {
	i := sort.SearchInts(s, x)
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = x
	return s
}
