// Package detect implements the three pattern detectors. All detectors
// read an immutable Graph and TimeIndex and are safe to run concurrently.
package detect

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/graph"
)

// CycleDetector enumerates simple directed cycles of length 3..5 whose
// edge timestamps all fit inside the temporal window.
type CycleDetector struct {
	g   *graph.Graph
	cfg domain.EngineConfig
}

// NewCycleDetector builds a detector over an immutable graph.
func NewCycleDetector(g *graph.Graph, cfg domain.EngineConfig) *CycleDetector {
	return &CycleDetector{g: g, cfg: cfg}
}

const (
	minCycleLength = 3
	maxCycleLength = 5
)

type cycleFrame struct {
	node   string
	path   []string
	inPath map[string]struct{}
}

// Detect runs the search. Budget exhaustion truncates results without error.
func (d *CycleDetector) Detect() []domain.CycleResult {
	window := time.Duration(d.cfg.WindowHours * float64(time.Hour))

	// Hub-first ordering biases discovery toward high-centrality
	// accounts and keeps the frame budget spent where it matters.
	roots := make([]string, 0, len(d.g.Nodes()))
	for _, id := range d.g.Nodes() {
		if d.g.OutDegree(id) > 0 {
			roots = append(roots, id)
		}
	}
	sort.SliceStable(roots, func(i, j int) bool {
		return d.g.OutDegree(roots[i]) > d.g.OutDegree(roots[j])
	})

	var results []domain.CycleResult
	seen := make(map[string]struct{})

	for _, root := range roots {
		if len(results) >= d.cfg.MaxCycles {
			break
		}
		d.searchRoot(root, window, seen, &results)
	}
	return results
}

func (d *CycleDetector) searchRoot(root string, window time.Duration, seen map[string]struct{}, results *[]domain.CycleResult) {
	stack := []cycleFrame{{
		node:   root,
		path:   []string{root},
		inPath: map[string]struct{}{root: {}},
	}}
	frames := 0

	for len(stack) > 0 {
		frames++
		if frames > d.cfg.MaxFramesPerRoot {
			return
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, next := range d.g.Successors(top.node) {
			if next == root && len(top.path) >= minCycleLength {
				if cycle, ok := d.closeCycle(top.path, window); ok {
					key := canonicalCycleKey(top.path)
					if _, dup := seen[key]; dup {
						continue
					}
					seen[key] = struct{}{}
					*results = append(*results, cycle)
					if len(*results) >= d.cfg.MaxCycles {
						return
					}
				}
				continue
			}
			if _, visited := top.inPath[next]; visited {
				continue
			}
			if len(top.path) >= maxCycleLength {
				continue
			}
			path := make([]string, len(top.path), len(top.path)+1)
			copy(path, top.path)
			path = append(path, next)
			inPath := make(map[string]struct{}, len(top.inPath)+1)
			for k := range top.inPath {
				inPath[k] = struct{}{}
			}
			inPath[next] = struct{}{}
			stack = append(stack, cycleFrame{node: next, path: path, inPath: inPath})
		}
	}
}

// closeCycle checks temporal coherence over every edge of the closed walk.
// Any timestamp on a multi-edge counts; amounts sum across all parallel
// transfers on the cycle's edges.
func (d *CycleDetector) closeCycle(path []string, window time.Duration) (domain.CycleResult, bool) {
	var (
		total    float64
		minTS    time.Time
		maxTS    time.Time
		haveEdge bool
	)
	n := len(path)
	for i := 0; i < n; i++ {
		u, v := path[i], path[(i+1)%n]
		txns := d.g.EdgeTransactions(u, v)
		if len(txns) == 0 {
			return domain.CycleResult{}, false
		}
		for _, tx := range txns {
			total += tx.Amount
			if !haveEdge || tx.Timestamp.Before(minTS) {
				minTS = tx.Timestamp
			}
			if !haveEdge || tx.Timestamp.After(maxTS) {
				maxTS = tx.Timestamp
			}
			haveEdge = true
		}
	}
	span := maxTS.Sub(minTS)
	if span > window {
		return domain.CycleResult{}, false
	}
	nodes := make([]string, n)
	copy(nodes, path)
	return domain.CycleResult{
		Nodes:         nodes,
		Length:        n,
		TotalAmount:   round2(total),
		TimeSpanHours: round2(span.Hours()),
		EdgeCount:     n,
	}, true
}

// canonicalCycleKey returns the lexicographically smallest comma-joined
// rotation, so rotated duplicates collapse to one cycle.
func canonicalCycleKey(nodes []string) string {
	n := len(nodes)
	best := ""
	for r := 0; r < n; r++ {
		var b strings.Builder
		for i := 0; i < n; i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(nodes[(r+i)%n])
		}
		key := b.String()
		if best == "" || key < best {
			best = key
		}
	}
	return best
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
