// Package graph holds the directed transaction multigraph shared by all
// detectors. The graph is built once per batch and read-only afterwards,
// so concurrent readers need no locking.
package graph

import (
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// businessPattern classifies account ids that look like business names.
var businessPattern = regexp.MustCompile(`(?i)corp|inc|llc|ltd|co\b|merchant|store|shop|pay|bank|services`)

// EdgeTxn is one transfer on a (sender, receiver) edge, insertion order.
type EdgeTxn struct {
	Amount    float64
	Timestamp time.Time
}

// EdgeAggregate summarizes all parallel edges for one ordered pair.
type EdgeAggregate struct {
	TotalAmount      float64
	TransactionCount int
	Earliest         time.Time
	Latest           time.Time
}

// NodeAggregate summarizes one account's activity.
type NodeAggregate struct {
	TotalInflow      float64
	TotalOutflow     float64
	TransactionCount int
	FirstSeen        time.Time
	LastSeen         time.Time
}

type edgeKey struct {
	src string
	dst string
}

// Graph is a directed multigraph of accounts. Nodes exist iff they appear
// as sender or receiver of at least one transaction.
type Graph struct {
	nodes map[string]*NodeAggregate
	succ  map[string]map[string]struct{}
	pred  map[string]map[string]struct{}
	edges map[edgeKey][]EdgeTxn
	aggs  map[edgeKey]*EdgeAggregate

	// Per-account transaction lists, kept for the legitimacy filters
	// which inspect individual transfers rather than aggregates.
	inflows  map[string][]domain.Transaction
	outflows map[string][]domain.Transaction

	sorted []string
}

// Build constructs the graph from a parsed batch.
func Build(txns []domain.Transaction) *Graph {
	g := &Graph{
		nodes:    make(map[string]*NodeAggregate),
		succ:     make(map[string]map[string]struct{}),
		pred:     make(map[string]map[string]struct{}),
		edges:    make(map[edgeKey][]EdgeTxn),
		aggs:     make(map[edgeKey]*EdgeAggregate),
		inflows:  make(map[string][]domain.Transaction),
		outflows: make(map[string][]domain.Transaction),
	}
	for _, tx := range txns {
		g.addTransaction(tx)
	}
	g.sorted = make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		g.sorted = append(g.sorted, id)
	}
	sort.Strings(g.sorted)
	return g
}

func (g *Graph) addTransaction(tx domain.Transaction) {
	sender := g.touch(tx.Sender)
	receiver := g.touch(tx.Receiver)

	sender.TotalOutflow += tx.Amount
	sender.TransactionCount++
	receiver.TotalInflow += tx.Amount
	receiver.TransactionCount++
	g.observe(sender, tx.Timestamp)
	g.observe(receiver, tx.Timestamp)

	if g.succ[tx.Sender] == nil {
		g.succ[tx.Sender] = make(map[string]struct{})
	}
	g.succ[tx.Sender][tx.Receiver] = struct{}{}
	if g.pred[tx.Receiver] == nil {
		g.pred[tx.Receiver] = make(map[string]struct{})
	}
	g.pred[tx.Receiver][tx.Sender] = struct{}{}

	key := edgeKey{tx.Sender, tx.Receiver}
	g.edges[key] = append(g.edges[key], EdgeTxn{Amount: tx.Amount, Timestamp: tx.Timestamp})

	agg := g.aggs[key]
	if agg == nil {
		agg = &EdgeAggregate{Earliest: tx.Timestamp, Latest: tx.Timestamp}
		g.aggs[key] = agg
	}
	agg.TotalAmount += tx.Amount
	agg.TransactionCount++
	if tx.Timestamp.Before(agg.Earliest) {
		agg.Earliest = tx.Timestamp
	}
	if tx.Timestamp.After(agg.Latest) {
		agg.Latest = tx.Timestamp
	}

	g.outflows[tx.Sender] = append(g.outflows[tx.Sender], tx)
	g.inflows[tx.Receiver] = append(g.inflows[tx.Receiver], tx)
}

func (g *Graph) touch(id string) *NodeAggregate {
	n := g.nodes[id]
	if n == nil {
		n = &NodeAggregate{}
		g.nodes[id] = n
	}
	return n
}

func (g *Graph) observe(n *NodeAggregate, ts time.Time) {
	if n.FirstSeen.IsZero() || ts.Before(n.FirstSeen) {
		n.FirstSeen = ts
	}
	if ts.After(n.LastSeen) {
		n.LastSeen = ts
	}
}

// Nodes returns all account ids in lexicographic order.
func (g *Graph) Nodes() []string {
	return g.sorted
}

// HasNode reports whether the account appears in the batch.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Node returns the aggregates for one account, or nil.
func (g *Graph) Node(id string) *NodeAggregate {
	return g.nodes[id]
}

// Successors returns the distinct receivers of an account, sorted.
func (g *Graph) Successors(id string) []string {
	return sortedKeys(g.succ[id])
}

// Predecessors returns the distinct senders into an account, sorted.
func (g *Graph) Predecessors(id string) []string {
	return sortedKeys(g.pred[id])
}

// OutDegree counts distinct receivers.
func (g *Graph) OutDegree(id string) int {
	return len(g.succ[id])
}

// InDegree counts distinct senders.
func (g *Graph) InDegree(id string) int {
	return len(g.pred[id])
}

// EdgeTransactions returns the parallel edges for (u,v) in insertion order.
func (g *Graph) EdgeTransactions(u, v string) []EdgeTxn {
	return g.edges[edgeKey{u, v}]
}

// AggregatedEdge returns the summary for (u,v), or nil when no edge exists.
func (g *Graph) AggregatedEdge(u, v string) *EdgeAggregate {
	return g.aggs[edgeKey{u, v}]
}

// Inflows returns the incoming transactions of an account, batch order.
func (g *Graph) Inflows(id string) []domain.Transaction {
	return g.inflows[id]
}

// Outflows returns the outgoing transactions of an account, batch order.
func (g *Graph) Outflows(id string) []domain.Transaction {
	return g.outflows[id]
}

// IsBusinessName reports whether an account id matches the shared
// business-name pattern.
func IsBusinessName(id string) bool {
	return businessPattern.MatchString(id)
}

// BuildProfiles derives the pre-filter profile for every account.
func (g *Graph) BuildProfiles() map[string]*domain.AccountProfile {
	profiles := make(map[string]*domain.AccountProfile, len(g.nodes))
	for _, id := range g.sorted {
		n := g.nodes[id]
		accountType := domain.AccountTypeIndividual
		if IsBusinessName(id) {
			accountType = domain.AccountTypeBusiness
		}
		profiles[id] = &domain.AccountProfile{
			AccountID:        id,
			AccountType:      accountType,
			TotalInflow:      n.TotalInflow,
			TotalOutflow:     n.TotalOutflow,
			TransactionCount: n.TransactionCount,
			FirstSeen:        n.FirstSeen,
			LastSeen:         n.LastSeen,
		}
	}
	return profiles
}

// suspiciousThreshold marks nodes and edges in the visualization payload.
const suspiciousThreshold = 25.0

// BuildVisualization assembles the front-end graph. Nodes are emitted in
// lexicographic id order and edges sorted by (source, target) so repeated
// runs serialize identically.
func (g *Graph) BuildVisualization(
	profiles map[string]*domain.AccountProfile,
	scores map[string]float64,
	ringMap map[string][]string,
	patternMap map[string][]string,
) *domain.GraphData {
	data := &domain.GraphData{
		Nodes: make([]domain.GraphNode, 0, len(g.nodes)),
		Edges: make([]domain.GraphEdge, 0, len(g.aggs)),
	}

	for _, id := range g.sorted {
		n := g.nodes[id]
		accountType := domain.AccountTypeIndividual
		if p := profiles[id]; p != nil {
			accountType = p.AccountType
		}
		score := scores[id]
		data.Nodes = append(data.Nodes, domain.GraphNode{
			ID:               id,
			Label:            id,
			AccountType:      accountType,
			SuspicionScore:   score,
			TotalInflow:      round2(n.TotalInflow),
			TotalOutflow:     round2(n.TotalOutflow),
			TransactionCount: n.TransactionCount,
			IsSuspicious:     score >= suspiciousThreshold,
			RingIDs:          orEmpty(ringMap[id]),
			DetectedPatterns: orEmpty(patternMap[id]),
			Patterns:         orEmpty(patternMap[id]),
		})
	}

	keys := make([]edgeKey, 0, len(g.aggs))
	for k := range g.aggs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].src != keys[j].src {
			return keys[i].src < keys[j].src
		}
		return keys[i].dst < keys[j].dst
	})

	for _, k := range keys {
		agg := g.aggs[k]
		suspicious := scores[k.src] >= suspiciousThreshold || scores[k.dst] >= suspiciousThreshold
		patternType := ""
		if suspicious {
			if pats := patternMap[k.src]; len(pats) > 0 {
				patternType = pats[0]
			} else if pats := patternMap[k.dst]; len(pats) > 0 {
				patternType = pats[0]
			}
		}
		data.Edges = append(data.Edges, domain.GraphEdge{
			Source:           k.src,
			Target:           k.dst,
			Amount:           round2(agg.TotalAmount),
			TransactionCount: agg.TransactionCount,
			IsSuspicious:     suspicious,
			PatternType:      patternType,
		})
	}
	return data
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
