package detect

import (
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/timeindex"
)

// SmurfingDetector finds accounts that concentrate many unique
// counterparties into a narrow sliding window, in either direction.
type SmurfingDetector struct {
	ix  *timeindex.Index
	cfg domain.EngineConfig
}

// NewSmurfingDetector builds a detector over an immutable time index.
func NewSmurfingDetector(ix *timeindex.Index, cfg domain.EngineConfig) *SmurfingDetector {
	return &SmurfingDetector{ix: ix, cfg: cfg}
}

// Detect emits at most one result per (account, kind). Fan-in results come
// first, accounts in lexicographic order within each kind.
func (d *SmurfingDetector) Detect() []domain.SmurfingResult {
	ordered := d.ix.InOrder()

	var results []domain.SmurfingResult
	results = append(results, d.detectDirection(ordered, domain.FanIn)...)
	results = append(results, d.detectDirection(ordered, domain.FanOut)...)
	return results
}

func (d *SmurfingDetector) detectDirection(ordered []domain.Transaction, kind domain.SmurfingKind) []domain.SmurfingResult {
	focal := func(tx domain.Transaction) string { return tx.Receiver }
	counterparty := func(tx domain.Transaction) string { return tx.Sender }
	if kind == domain.FanOut {
		focal = func(tx domain.Transaction) string { return tx.Sender }
		counterparty = func(tx domain.Transaction) string { return tx.Receiver }
	}

	// Bucket timestamp-ordered indices by focal account.
	buckets := make(map[string][]int)
	for i, tx := range ordered {
		a := focal(tx)
		buckets[a] = append(buckets[a], i)
	}

	accounts := make([]string, 0, len(buckets))
	for a, idxs := range buckets {
		if len(idxs) >= d.cfg.SmurfingThreshold {
			accounts = append(accounts, a)
		}
	}
	sort.Strings(accounts)

	window := time.Duration(d.cfg.WindowHours * float64(time.Hour))
	var results []domain.SmurfingResult
	for _, a := range accounts {
		if r, ok := d.bestWindow(ordered, buckets[a], a, kind, counterparty, window); ok {
			results = append(results, r)
		}
	}
	return results
}

// bestWindow slides a two-pointer window over one account's bucket and
// keeps the window with the most unique counterparties, ties broken
// toward the most recent window.
func (d *SmurfingDetector) bestWindow(
	ordered []domain.Transaction,
	idxs []int,
	account string,
	kind domain.SmurfingKind,
	counterparty func(domain.Transaction) string,
	window time.Duration,
) (domain.SmurfingResult, bool) {
	counts := make(map[string]int)
	unique := 0
	bestUnique := 0
	bestL, bestR := 0, 0

	l := 0
	for r := 0; r < len(idxs); r++ {
		cr := counterparty(ordered[idxs[r]])
		counts[cr]++
		if counts[cr] == 1 {
			unique++
		}
		for ordered[idxs[r]].Timestamp.Sub(ordered[idxs[l]].Timestamp) > window {
			cl := counterparty(ordered[idxs[l]])
			counts[cl]--
			if counts[cl] == 0 {
				unique--
			}
			l++
		}
		if unique >= bestUnique {
			bestUnique = unique
			bestL, bestR = l, r
		}
	}

	if bestUnique < d.cfg.SmurfingThreshold {
		return domain.SmurfingResult{}, false
	}

	var total float64
	for i := bestL; i <= bestR; i++ {
		total += ordered[idxs[i]].Amount
	}
	start := ordered[idxs[bestL]].Timestamp
	end := ordered[idxs[bestR]].Timestamp
	hours := end.Sub(start).Hours()
	if hours < 1.0 {
		hours = 1.0
	}

	return domain.SmurfingResult{
		AccountID:            account,
		Kind:                 kind,
		UniqueCounterparties: bestUnique,
		TotalAmount:          round2(total),
		VelocityPerHour:      round2(total / hours),
		WindowStart:          start,
		WindowEnd:            end,
	}, true
}
