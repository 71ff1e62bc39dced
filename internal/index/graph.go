package index

import (
	"container/heap"
	"context"
	"math"
	"sort"
	"sync"

	"github.com/timmy/kindred/internal/config"
)

// GraphOptions configures the in-process navigable small-world graph.
type GraphOptions struct {
	Dimension      int
	MaxDegree      int
	EfConstruction int
	Tuning         Tuning
}

// Graph is an approximate index: a single-layer navigable small-world graph
// walked with int8-quantized vectors, with the best candidates re-scored at
// full precision. Readers share an RWMutex; writers are exclusive.
type Graph struct {
	opts GraphOptions

	mu      sync.RWMutex
	nodes   map[int64]*graphNode
	entry   int64
	hasRoot bool
}

type graphNode struct {
	id        int64
	full      []float64 // unit length
	quant     []int8
	neighbors []int64
}

// NewGraph creates an empty graph index.
func NewGraph(opts GraphOptions) *Graph {
	if opts.MaxDegree < 2 {
		opts.MaxDegree = 2
	}
	if opts.EfConstruction < opts.MaxDegree {
		opts.EfConstruction = opts.MaxDegree
	}
	return &Graph{
		opts:  opts,
		nodes: make(map[int64]*graphNode),
	}
}

func (g *Graph) Backend() string { return config.BackendGraph }

func (g *Graph) Upsert(ctx context.Context, id int64, vector []float32) error {
	if len(vector) != g.opts.Dimension {
		return ErrDimensionMismatch
	}
	full := normalize64(vector)
	node := &graphNode{id: id, full: full, quant: quantize(normalize(vector))}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; ok {
		g.removeLocked(id)
	}
	if !g.hasRoot {
		g.nodes[id] = node
		g.entry, g.hasRoot = id, true
		return nil
	}

	candidates := g.searchLocked(node.quant, g.opts.EfConstruction, 0)
	g.nodes[id] = node
	for _, c := range truncateScored(candidates, g.opts.MaxDegree) {
		g.linkLocked(node, g.nodes[c.id])
	}
	return nil
}

func (g *Graph) Delete(ctx context.Context, id int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(id)
	return nil
}

func (g *Graph) QueryTopK(ctx context.Context, q Query) ([]Neighbor, error) {
	if len(q.Vector) != g.opts.Dimension {
		return nil, ErrDimensionMismatch
	}
	if q.K <= 0 {
		return []Neighbor{}, nil
	}
	query := normalize64(q.Vector)

	g.mu.RLock()
	defer g.mu.RUnlock()

	live := len(g.nodes)
	if _, ok := g.nodes[q.ExcludeID]; ok {
		live--
	}
	if live <= 0 {
		return []Neighbor{}, nil
	}

	// Asking for everything: scan instead of walking the graph.
	if q.K >= live {
		results := make([]Neighbor, 0, live)
		for id, n := range g.nodes {
			if id == q.ExcludeID {
				continue
			}
			results = append(results, Neighbor{ID: id, Similarity: dot64(query, n.full)})
		}
		sortNeighbors(results)
		return results, nil
	}

	t := g.opts.Tuning.For(q.Budget, q.K)
	candidates := g.searchLocked(quantize(normalize(q.Vector)), t.SearchBreadth+1, q.ExcludeID)

	results := make([]Neighbor, 0, t.RescoreDepth)
	for _, c := range candidates {
		if len(results) == t.RescoreDepth {
			break
		}
		results = append(results, Neighbor{ID: c.id, Similarity: dot64(query, g.nodes[c.id].full)})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sortNeighbors(results)
	return truncate(results, q.K), nil
}

func (g *Graph) Len(ctx context.Context) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes), nil
}

func (g *Graph) Close() error { return nil }

// linkLocked adds an undirected edge and prunes both ends to MaxDegree.
// Pruning can leave an edge one-way, so each side is checked on its own.
func (g *Graph) linkLocked(a, b *graphNode) {
	if a.id == b.id {
		return
	}
	if !contains(a.neighbors, b.id) {
		a.neighbors = append(a.neighbors, b.id)
		g.pruneLocked(a)
	}
	if !contains(b.neighbors, a.id) {
		b.neighbors = append(b.neighbors, a.id)
		g.pruneLocked(b)
	}
}

func (g *Graph) pruneLocked(n *graphNode) {
	if len(n.neighbors) <= g.opts.MaxDegree {
		return
	}
	scoredNbrs := make([]scored, 0, len(n.neighbors))
	for _, id := range n.neighbors {
		nb, ok := g.nodes[id]
		if !ok {
			continue
		}
		scoredNbrs = append(scoredNbrs, scored{id: id, score: approxScore(n.quant, nb.quant)})
	}
	sortScored(scoredNbrs)
	n.neighbors = n.neighbors[:0]
	for _, s := range truncateScored(scoredNbrs, g.opts.MaxDegree) {
		n.neighbors = append(n.neighbors, s.id)
	}
}

// removeLocked unlinks id and reconnects the nodes that pointed at it to the
// removed node's neighbors so the graph stays navigable.
func (g *Graph) removeLocked(id int64) {
	node, ok := g.nodes[id]
	if !ok {
		return
	}
	delete(g.nodes, id)

	var affected []*graphNode
	for _, n := range g.nodes {
		if kept, removed := without(n.neighbors, id); removed {
			n.neighbors = kept
			affected = append(affected, n)
		}
	}
	sort.Slice(affected, func(i, j int) bool { return affected[i].id < affected[j].id })

	for _, n := range affected {
		repl := make([]scored, 0, len(node.neighbors))
		for _, cand := range node.neighbors {
			c, ok := g.nodes[cand]
			if !ok || cand == n.id {
				continue
			}
			repl = append(repl, scored{id: cand, score: approxScore(n.quant, c.quant)})
		}
		sortScored(repl)
		for _, r := range repl {
			if len(n.neighbors) >= g.opts.MaxDegree {
				break
			}
			g.linkLocked(n, g.nodes[r.id])
		}
	}

	if g.entry == id {
		g.hasRoot = false
		for _, cand := range node.neighbors {
			if _, ok := g.nodes[cand]; ok {
				g.entry, g.hasRoot = cand, true
				break
			}
		}
		if !g.hasRoot {
			for other := range g.nodes {
				if !g.hasRoot || other < g.entry {
					g.entry, g.hasRoot = other, true
				}
			}
		}
	}
}

// searchLocked runs a best-first beam search from the entry point and returns
// up to ef candidates by descending approximate score, skipping exclude.
func (g *Graph) searchLocked(query []int8, ef int, exclude int64) []scored {
	if !g.hasRoot {
		return nil
	}

	root, ok := g.nodes[g.entry]
	if !ok {
		return nil
	}
	start := scored{id: g.entry, score: approxScore(query, root.quant)}
	visited := map[int64]struct{}{g.entry: {}}
	frontier := &scoredHeap{max: true}
	found := &scoredHeap{}
	heap.Push(frontier, start)
	if start.id != exclude {
		heap.Push(found, start)
	}

	for frontier.Len() > 0 {
		cur := heap.Pop(frontier).(scored)
		if found.Len() >= ef && cur.score < found.items[0].score {
			break
		}
		for _, nb := range g.nodes[cur.id].neighbors {
			if _, seen := visited[nb]; seen {
				continue
			}
			visited[nb] = struct{}{}
			node, ok := g.nodes[nb]
			if !ok {
				continue
			}
			s := scored{id: nb, score: approxScore(query, node.quant)}
			if found.Len() < ef || s.score > found.items[0].score {
				heap.Push(frontier, s)
				if nb == exclude {
					continue
				}
				heap.Push(found, s)
				if found.Len() > ef {
					heap.Pop(found)
				}
			}
		}
	}

	out := append([]scored(nil), found.items...)
	sortScored(out)
	return out
}

// quantize maps a unit vector onto int8 with a fixed scale of 127.
func quantize(v []float32) []int8 {
	out := make([]int8, len(v))
	for i, x := range v {
		q := math.Round(float64(x) * 127)
		if q > 127 {
			q = 127
		} else if q < -127 {
			q = -127
		}
		out[i] = int8(q)
	}
	return out
}

func approxScore(a, b []int8) float64 {
	var sum int64
	for i := range a {
		sum += int64(a[i]) * int64(b[i])
	}
	return float64(sum) / (127 * 127)
}

type scored struct {
	id    int64
	score float64
}

func sortScored(s []scored) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].score != s[j].score {
			return s[i].score > s[j].score
		}
		return s[i].id < s[j].id
	})
}

func truncateScored(s []scored, n int) []scored {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// scoredHeap is a min-heap by score, or a max-heap when max is set.
type scoredHeap struct {
	items []scored
	max   bool
}

func (h *scoredHeap) Len() int { return len(h.items) }

func (h *scoredHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.score == b.score {
		if h.max {
			return a.id < b.id
		}
		return a.id > b.id
	}
	if h.max {
		return a.score > b.score
	}
	return a.score < b.score
}

func (h *scoredHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *scoredHeap) Push(x any) { h.items = append(h.items, x.(scored)) }

func (h *scoredHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

func contains(ids []int64, id int64) bool { return indexOf(ids, id) >= 0 }

// without drops every occurrence of id in place and reports whether any was found.
func without(ids []int64, id int64) ([]int64, bool) {
	kept := ids[:0]
	for _, v := range ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	return kept, len(kept) != len(ids)
}

func indexOf(ids []int64, id int64) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
