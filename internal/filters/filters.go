// Package filters applies legitimacy heuristics to account profiles.
// The checks inspect individual transfers, not graph aggregates: payroll
// and salary detection depend on deposit cadence and amount stability.
package filters

import (
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/graph"
)

// merchantPattern is the shared business pattern plus the retail-only
// markers used by the merchant shortcut.
var merchantPattern = regexp.MustCompile(`(?i)corp|inc|llc|ltd|co\b|merchant|store|shop|mart|pay|bank|services|pvt`)

const (
	payrollMinInflows    = 3
	payrollDominantShare = 0.80
	payrollMaxCV         = 0.10

	merchantMinInflows = 20
	merchantRoundShare = 0.30

	salaryMinInflows    = 2
	salaryLargeFraction = 0.7
	salaryMinOutflows   = 3

	establishedMinActivity = 20
	establishedMinDays     = 180
	establishedMinParties  = 10

	minGapDays = 25.0
	maxGapDays = 35.0
)

// Apply mutates every profile with the four legitimacy flags.
func Apply(g *graph.Graph, profiles map[string]*domain.AccountProfile) {
	for _, id := range g.Nodes() {
		p := profiles[id]
		if p == nil {
			continue
		}
		inflows := g.Inflows(id)
		outflows := g.Outflows(id)
		p.IsPayroll = isPayroll(inflows)
		p.IsMerchant = isMerchant(id, inflows, outflows)
		p.IsSalary = isSalary(inflows, outflows)
		p.IsEstablishedBusiness = isEstablishedBusiness(g, id)
	}
}

// isPayroll looks for a single dominant sender paying stable amounts on a
// roughly monthly cadence.
func isPayroll(inflows []domain.Transaction) bool {
	if len(inflows) < payrollMinInflows {
		return false
	}

	bySender := make(map[string][]domain.Transaction)
	for _, tx := range inflows {
		bySender[tx.Sender] = append(bySender[tx.Sender], tx)
	}
	dominant := ""
	for sender, txns := range bySender {
		if dominant == "" || len(txns) > len(bySender[dominant]) ||
			(len(txns) == len(bySender[dominant]) && sender < dominant) {
			dominant = sender
		}
	}
	domTxns := bySender[dominant]
	if len(domTxns) < payrollMinInflows {
		return false
	}
	if float64(len(domTxns))/float64(len(inflows)) < payrollDominantShare {
		return false
	}

	amounts := make([]float64, len(domTxns))
	for i, tx := range domTxns {
		amounts[i] = tx.Amount
	}
	if coefficientOfVariation(amounts) > payrollMaxCV {
		return false
	}

	gap := medianGapDays(timestamps(domTxns))
	return gap >= minGapDays && gap <= maxGapDays
}

// isMerchant accepts named businesses outright, otherwise requires heavy
// retail-shaped inflow: many small deposits, round price points, few
// outflows.
func isMerchant(accountID string, inflows, outflows []domain.Transaction) bool {
	if merchantPattern.MatchString(accountID) {
		return true
	}
	if len(inflows) < merchantMinInflows {
		return false
	}

	outCount := len(outflows)
	if outCount == 0 {
		outCount = 1
	}
	if len(inflows) < 5*outCount {
		return false
	}

	avgIn := meanAmount(inflows)
	avgOut := meanAmount(outflows)
	if avgOut <= avgIn {
		return false
	}

	round := 0
	for _, tx := range inflows {
		if isRoundAmount(tx.Amount) {
			round++
		}
	}
	return float64(round)/float64(len(inflows)) >= merchantRoundShare
}

// isSalary looks for repeated large deposits on a monthly cadence with
// ordinary spending behind them.
func isSalary(inflows, outflows []domain.Transaction) bool {
	if len(inflows) < salaryMinInflows || len(outflows) < salaryMinOutflows {
		return false
	}

	var max float64
	for _, tx := range inflows {
		if tx.Amount > max {
			max = tx.Amount
		}
	}
	var large []domain.Transaction
	for _, tx := range inflows {
		if tx.Amount > salaryLargeFraction*max {
			large = append(large, tx)
		}
	}
	if len(large) < 2 {
		return false
	}

	gap := medianGapDays(timestamps(large))
	return gap >= minGapDays && gap <= maxGapDays
}

// isEstablishedBusiness requires sustained, broad activity over at least
// six months.
func isEstablishedBusiness(g *graph.Graph, accountID string) bool {
	n := g.Node(accountID)
	if n == nil || n.TransactionCount < establishedMinActivity {
		return false
	}
	if n.LastSeen.Sub(n.FirstSeen) < establishedMinDays*24*time.Hour {
		return false
	}

	parties := make(map[string]struct{})
	for _, v := range g.Successors(accountID) {
		parties[v] = struct{}{}
	}
	for _, u := range g.Predecessors(accountID) {
		parties[u] = struct{}{}
	}
	if len(parties) < establishedMinParties {
		return false
	}

	return graph.IsBusinessName(accountID) || n.TransactionCount > 100
}

func meanAmount(txns []domain.Transaction) float64 {
	if len(txns) == 0 {
		return 0
	}
	var sum float64
	for _, tx := range txns {
		sum += tx.Amount
	}
	return sum / float64(len(txns))
}

// coefficientOfVariation is population stddev over mean.
func coefficientOfVariation(amounts []float64) float64 {
	if len(amounts) == 0 {
		return 0
	}
	var sum float64
	for _, a := range amounts {
		sum += a
	}
	mean := sum / float64(len(amounts))
	if mean == 0 {
		return 0
	}
	var sq float64
	for _, a := range amounts {
		d := a - mean
		sq += d * d
	}
	return math.Sqrt(sq/float64(len(amounts))) / mean
}

// medianGapDays computes the median day gap between consecutive
// timestamps. Returns 0 with fewer than two timestamps.
func medianGapDays(times []time.Time) float64 {
	if len(times) < 2 {
		return 0
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	gaps := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps = append(gaps, times[i].Sub(times[i-1]).Hours()/24)
	}
	sort.Float64s(gaps)
	mid := len(gaps) / 2
	if len(gaps)%2 == 1 {
		return gaps[mid]
	}
	return (gaps[mid-1] + gaps[mid]) / 2
}

// isRoundAmount reports whether the cents part is a retail price point.
func isRoundAmount(amount float64) bool {
	cents := int(math.Round(amount*100)) % 100
	if cents < 0 {
		cents += 100
	}
	switch cents {
	case 0, 49, 50, 95, 99:
		return true
	}
	return false
}

func timestamps(txns []domain.Transaction) []time.Time {
	out := make([]time.Time, len(txns))
	for i, tx := range txns {
		out[i] = tx.Timestamp
	}
	return out
}
