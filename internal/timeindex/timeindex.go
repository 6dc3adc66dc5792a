// Package timeindex provides an ordered index of transactions keyed by
// timestamp. Insertion and range queries are O(log N); in-order traversal
// yields transactions by non-decreasing timestamp with batch order
// preserved among equal timestamps.
package timeindex

import (
	"math"
	"time"

	"github.com/tidwall/btree"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type entry struct {
	ts  time.Time
	seq int
	txn domain.Transaction
}

// Index is a B-tree over (timestamp, insertion sequence). Not safe for
// concurrent mutation; read-only use after Build is safe without locks.
type Index struct {
	tr  *btree.BTreeG[entry]
	seq int
}

// New returns an empty index.
func New() *Index {
	return &Index{
		tr: btree.NewBTreeG(func(a, b entry) bool {
			if !a.ts.Equal(b.ts) {
				return a.ts.Before(b.ts)
			}
			return a.seq < b.seq
		}),
	}
}

// Build indexes a full batch.
func Build(txns []domain.Transaction) *Index {
	ix := New()
	for _, tx := range txns {
		ix.Insert(tx)
	}
	return ix
}

// Insert adds one transaction.
func (ix *Index) Insert(tx domain.Transaction) {
	ix.tr.Set(entry{ts: tx.Timestamp, seq: ix.seq, txn: tx})
	ix.seq++
}

// Len returns the number of indexed transactions.
func (ix *Index) Len() int {
	return ix.tr.Len()
}

// Ascend walks all transactions in timestamp order until fn returns false.
func (ix *Index) Ascend(fn func(tx domain.Transaction) bool) {
	ix.tr.Scan(func(e entry) bool {
		return fn(e.txn)
	})
}

// InOrder materializes the full timestamp-ordered batch.
func (ix *Index) InOrder() []domain.Transaction {
	out := make([]domain.Transaction, 0, ix.tr.Len())
	ix.tr.Scan(func(e entry) bool {
		out = append(out, e.txn)
		return true
	})
	return out
}

// Range returns all transactions with t0 <= timestamp <= t1.
func (ix *Index) Range(t0, t1 time.Time) []domain.Transaction {
	var out []domain.Transaction
	pivot := entry{ts: t0, seq: math.MinInt}
	ix.tr.Ascend(pivot, func(e entry) bool {
		if e.ts.After(t1) {
			return false
		}
		out = append(out, e.txn)
		return true
	})
	return out
}
