package detect

import (
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/graph"
)

// ShellDetector enumerates source-to-sink chains routed entirely through
// low-activity pass-through intermediaries.
type ShellDetector struct {
	g   *graph.Graph
	cfg domain.EngineConfig
}

// NewShellDetector builds a detector over an immutable graph.
func NewShellDetector(g *graph.Graph, cfg domain.EngineConfig) *ShellDetector {
	return &ShellDetector{g: g, cfg: cfg}
}

const (
	minChainEdges = 3
	maxChainEdges = 6

	// Shell candidates have total activity in [1, maxShellTxns].
	maxShellTxns = 3

	// Interior nodes must pass at least this share of what they take in.
	passThroughRatio = 0.5
)

// Detect runs the chain search. Budgets truncate without error.
func (d *ShellDetector) Detect() []domain.ShellResult {
	candidates := make(map[string]struct{})
	var sources, sinks []string
	sinkSet := make(map[string]struct{})

	for _, id := range d.g.Nodes() {
		n := d.g.Node(id)
		if n.TransactionCount >= 1 && n.TransactionCount <= maxShellTxns {
			candidates[id] = struct{}{}
		}
		in, out := d.g.InDegree(id), d.g.OutDegree(id)
		if in == 0 || out > in {
			sources = append(sources, id)
		}
		if out == 0 || in > out {
			sinks = append(sinks, id)
			sinkSet[id] = struct{}{}
		}
	}

	// Degenerate graphs (e.g. one big cycle) have no clear endpoints.
	if len(sources) == 0 || len(sinks) == 0 {
		sources = d.g.Nodes()
		sinkSet = make(map[string]struct{}, len(sources))
		for _, id := range sources {
			sinkSet[id] = struct{}{}
		}
	}

	var results []domain.ShellResult
	seen := make(map[string]struct{})
	for _, src := range sources {
		if len(results) >= d.cfg.MaxPaths {
			break
		}
		d.searchSource(src, candidates, sinkSet, seen, &results)
	}
	return results
}

type shellFrame struct {
	node string
	path []string
}

func (d *ShellDetector) searchSource(src string, candidates, sinks map[string]struct{}, seen map[string]struct{}, results *[]domain.ShellResult) {
	emitted := 0
	stack := []shellFrame{{node: src, path: []string{src}}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, next := range d.g.Successors(top.node) {
			if contains(top.path, next) {
				continue
			}
			edges := len(top.path) // edges after appending next
			if edges > maxChainEdges {
				continue
			}
			path := make([]string, len(top.path), len(top.path)+1)
			copy(path, top.path)
			path = append(path, next)

			if _, isSink := sinks[next]; isSink && edges >= minChainEdges {
				if chain, ok := d.validateChain(path); ok {
					key := strings.Join(path, ",")
					if _, dup := seen[key]; !dup {
						seen[key] = struct{}{}
						*results = append(*results, chain)
						emitted++
						if emitted >= d.cfg.MaxPathsPerSource || len(*results) >= d.cfg.MaxPaths {
							return
						}
					}
				}
			}

			// Chains only extend through shell candidates.
			if _, ok := candidates[next]; ok && edges < maxChainEdges {
				stack = append(stack, shellFrame{node: next, path: path})
			}
		}
	}
}

// validateChain confirms every interior node is a low-activity
// pass-through and sums the full multi-edge amounts along the chain.
func (d *ShellDetector) validateChain(path []string) (domain.ShellResult, bool) {
	for _, mid := range path[1 : len(path)-1] {
		n := d.g.Node(mid)
		if n.TransactionCount < 1 || n.TransactionCount > maxShellTxns {
			return domain.ShellResult{}, false
		}
		inflow, outflow := n.TotalInflow, n.TotalOutflow
		if inflow <= 0 || outflow <= 0 {
			return domain.ShellResult{}, false
		}
		lo, hi := inflow, outflow
		if lo > hi {
			lo, hi = hi, lo
		}
		if lo/hi < passThroughRatio {
			return domain.ShellResult{}, false
		}
	}

	var total float64
	for i := 0; i < len(path)-1; i++ {
		for _, tx := range d.g.EdgeTransactions(path[i], path[i+1]) {
			total += tx.Amount
		}
	}

	chain := make([]string, len(path))
	copy(chain, path)
	intermediates := make([]string, len(path)-2)
	copy(intermediates, path[1:len(path)-1])

	return domain.ShellResult{
		Chain:                chain,
		IntermediateAccounts: intermediates,
		TotalAmount:          round2(total),
		ShellDepth:           len(intermediates),
	}, true
}

func contains(path []string, id string) bool {
	for _, p := range path {
		if p == id {
			return true
		}
	}
	return false
}
