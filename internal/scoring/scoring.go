// Package scoring combines detector outputs and account profiles into
// suspicion scores, suspicious-account and fraud-ring lists.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/graph"
)

// Input carries everything the scorer consumes. Detector slices are in
// emission order; ring ids are assigned here, not by the detectors.
type Input struct {
	Profiles map[string]*domain.AccountProfile
	Cycles   []domain.CycleResult
	Smurfing []domain.SmurfingResult
	Shells   []domain.ShellResult
}

// Output is the scored view of one batch.
type Output struct {
	Scores             map[string]float64
	RingIDs            map[string][]string
	Patterns           map[string][]string
	SuspiciousAccounts []domain.SuspiciousAccount
	FraudRings         []domain.FraudRing
}

// Score thresholds and weights of the decision tree.
const (
	cycleHighValueAmount = 10_000
	cycleHighValueBonus  = 10

	smurfBase           = 25
	highVelocityPerHour = 5_000
	highVelocityBonus   = 10
	manyParties         = 20
	manyPartiesBonus    = 5
	largeWindowAmount   = 100_000
	largeWindowBonus    = 5

	shellBase       = 25
	shellDepthBonus = 10

	centralityMinTxns = 10
	centralityCap     = 15

	volumeAnomalyAvg   = 50_000
	volumeAnomalyBonus = 10

	payrollDeduction     = 50
	merchantDeduction    = 40
	salaryDeduction      = 30
	establishedDeduction = 40
)

// Engine scores one batch against its graph.
type Engine struct {
	g *graph.Graph
}

// New builds a scoring engine over an immutable graph.
func New(g *graph.Graph) *Engine {
	return &Engine{g: g}
}

// Process assigns unified ring ids, computes every account's score, and
// assembles the suspicious-account and fraud-ring lists. The input
// detector slices are mutated in place to carry their ring ids.
func (e *Engine) Process(in *Input) *Output {
	out := e.Score(in)
	e.Assemble(in, out)
	return out
}

// Score runs ring-id unification, membership collection, and the
// decision tree. Callers may adjust Scores before Assemble.
func (e *Engine) Score(in *Input) *Output {
	assignRingIDs(in)

	ringIDs := make(map[string][]string)
	patterns := make(map[string][]string)
	collectMemberships(in, ringIDs, patterns)

	scores := make(map[string]float64, len(in.Profiles))
	for _, id := range e.g.Nodes() {
		scores[id] = e.scoreAccount(id, in)
	}

	return &Output{
		Scores:   scores,
		RingIDs:  ringIDs,
		Patterns: patterns,
	}
}

// Assemble builds the sorted suspicious-account and fraud-ring lists
// from the (possibly adjusted) scores.
func (e *Engine) Assemble(in *Input, out *Output) {
	out.SuspiciousAccounts = e.buildSuspicious(in, out.Scores, out.RingIDs, out.Patterns)
	out.FraudRings = buildRings(in, out.Scores)
}

// assignRingIDs renumbers detector events into one global sequence:
// cycles first, then smurfing, then shells.
func assignRingIDs(in *Input) {
	seq := 0
	next := func() string {
		seq++
		return fmt.Sprintf("RING_%03d", seq)
	}
	for i := range in.Cycles {
		in.Cycles[i].RingID = next()
	}
	for i := range in.Smurfing {
		in.Smurfing[i].RingID = next()
	}
	for i := range in.Shells {
		in.Shells[i].RingID = next()
	}
}

// collectMemberships builds account -> ring ids and account -> pattern
// labels in ring order, deduplicated with first-occurrence order kept.
func collectMemberships(in *Input, ringIDs, patterns map[string][]string) {
	addRing := func(account, ring string) {
		ringIDs[account] = appendUnique(ringIDs[account], ring)
	}
	addPattern := func(account, label string) {
		patterns[account] = appendUnique(patterns[account], label)
	}

	for _, c := range in.Cycles {
		label := fmt.Sprintf("cycle_length_%d", c.Length)
		for _, node := range c.Nodes {
			addRing(node, c.RingID)
			addPattern(node, label)
		}
	}
	for _, s := range in.Smurfing {
		addRing(s.AccountID, s.RingID)
		addPattern(s.AccountID, string(s.Kind))
		if s.VelocityPerHour > highVelocityPerHour {
			addPattern(s.AccountID, domain.PatternHighVelocity)
		}
	}
	for _, s := range in.Shells {
		for _, node := range s.Chain {
			addRing(node, s.RingID)
			addPattern(node, domain.PatternShell)
		}
	}
}

// scoreAccount runs the decision tree for one account. Each detector
// family contributes its maximum single-event score; legitimacy flags
// deduct; the result is clamped to [0, 100] and rounded to one decimal.
func (e *Engine) scoreAccount(id string, in *Input) float64 {
	var score float64

	var cycleScore float64
	for _, c := range in.Cycles {
		if !containsNode(c.Nodes, id) {
			continue
		}
		l := c.Length
		if l > 5 {
			l = 5
		}
		s := float64(20 * (6 - l))
		if c.TotalAmount > cycleHighValueAmount {
			s += cycleHighValueBonus
		}
		if s > cycleScore {
			cycleScore = s
		}
	}
	score += cycleScore

	var smurfScore float64
	for _, s := range in.Smurfing {
		if s.AccountID != id {
			continue
		}
		v := float64(smurfBase)
		if s.VelocityPerHour > highVelocityPerHour {
			v += highVelocityBonus
		}
		if s.UniqueCounterparties > manyParties {
			v += manyPartiesBonus
		}
		if s.TotalAmount > largeWindowAmount {
			v += largeWindowBonus
		}
		if v > smurfScore {
			smurfScore = v
		}
	}
	score += smurfScore

	var shellScore float64
	for _, s := range in.Shells {
		if !containsNode(s.Chain, id) {
			continue
		}
		v := float64(shellBase)
		if containsNode(s.IntermediateAccounts, id) {
			v += float64(shellDepthBonus * s.ShellDepth)
		}
		if v > shellScore {
			shellScore = v
		}
	}
	score += shellScore

	if n := e.g.Node(id); n != nil {
		if n.TransactionCount > centralityMinTxns {
			bonus := 5 * math.Log10(float64(n.TransactionCount))
			if bonus > centralityCap {
				bonus = centralityCap
			}
			score += bonus
		}
		if n.TransactionCount > 0 {
			avg := (n.TotalInflow + n.TotalOutflow) / (2 * float64(n.TransactionCount))
			if avg > volumeAnomalyAvg {
				score += volumeAnomalyBonus
			}
		}
	}

	if p := in.Profiles[id]; p != nil {
		if p.IsPayroll {
			score -= payrollDeduction
		}
		if p.IsMerchant {
			score -= merchantDeduction
		}
		if p.IsSalary {
			score -= salaryDeduction
		}
		if p.IsEstablishedBusiness {
			score -= establishedDeduction
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return math.Round(score*10) / 10
}

// buildSuspicious emits every account with score > 0, sorted by score
// descending with account-id ties lexicographic.
func (e *Engine) buildSuspicious(in *Input, scores map[string]float64, ringIDs, patterns map[string][]string) []domain.SuspiciousAccount {
	var out []domain.SuspiciousAccount
	for _, id := range e.g.Nodes() {
		score := scores[id]
		if score <= 0 {
			continue
		}
		accountType := domain.AccountTypeIndividual
		if p := in.Profiles[id]; p != nil {
			accountType = p.AccountType
		}
		n := e.g.Node(id)
		out = append(out, domain.SuspiciousAccount{
			AccountID:         id,
			SuspicionScore:    score,
			DetectedPatterns:  orEmpty(patterns[id]),
			RingIDs:           orEmpty(ringIDs[id]),
			AccountType:       accountType,
			TotalInflow:       round2(n.TotalInflow),
			TotalOutflow:      round2(n.TotalOutflow),
			TransactionCount:  n.TransactionCount,
			ConnectedAccounts: e.connected(id),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SuspicionScore != out[j].SuspicionScore {
			return out[i].SuspicionScore > out[j].SuspicionScore
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out
}

// connected is successors union predecessors, minus the account itself.
func (e *Engine) connected(id string) []string {
	set := make(map[string]struct{})
	for _, v := range e.g.Successors(id) {
		set[v] = struct{}{}
	}
	for _, u := range e.g.Predecessors(id) {
		set[u] = struct{}{}
	}
	delete(set, id)
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// buildRings emits one ring per detector event, sorted by risk score
// descending with ring-id ties ascending so output is reproducible.
func buildRings(in *Input, scores map[string]float64) []domain.FraudRing {
	var rings []domain.FraudRing

	for _, c := range in.Cycles {
		rings = append(rings, makeRing(c.RingID, domain.PatternTypeCycle, c.Nodes, scores))
	}
	for _, s := range in.Smurfing {
		rings = append(rings, makeRing(s.RingID, string(s.Kind), []string{s.AccountID}, scores))
	}
	for _, s := range in.Shells {
		rings = append(rings, makeRing(s.RingID, domain.PatternTypeShell, s.Chain, scores))
	}

	sort.SliceStable(rings, func(i, j int) bool {
		if rings[i].RiskScore != rings[j].RiskScore {
			return rings[i].RiskScore > rings[j].RiskScore
		}
		return rings[i].RingID < rings[j].RingID
	})
	return rings
}

func makeRing(id, patternType string, members []string, scores map[string]float64) domain.FraudRing {
	uniq := appendUniqueAll(nil, members)
	var risk float64
	for _, m := range uniq {
		if s := scores[m]; s > risk {
			risk = s
		}
	}
	return domain.FraudRing{
		RingID:         id,
		PatternType:    patternType,
		MemberAccounts: uniq,
		RiskScore:      risk,
	}
}

func containsNode(nodes []string, id string) bool {
	for _, n := range nodes {
		if n == id {
			return true
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func appendUniqueAll(list []string, vs []string) []string {
	for _, v := range vs {
		list = appendUnique(list, v)
	}
	return list
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
