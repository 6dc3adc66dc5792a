package detect

import (
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/timeindex"
)

func TestSmurfingDetector(t *testing.T) {
	t.Run("FanIn", func(t *testing.T) {
		// Twelve distinct senders push into M within 24 hours.
		var txns []domain.Transaction
		for i := 0; i < 12; i++ {
			txns = append(txns, domain.Transaction{
				Sender:    fmt.Sprintf("S%02d", i),
				Receiver:  "M",
				Amount:    9500,
				Timestamp: at(1, i*2),
			})
		}
		results := NewSmurfingDetector(timeindex.Build(txns), cfg()).Detect()
		if len(results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(results))
		}
		r := results[0]
		if r.AccountID != "M" || r.Kind != domain.FanIn {
			t.Errorf("unexpected result: %+v", r)
		}
		if r.UniqueCounterparties != 12 {
			t.Errorf("expected 12 counterparties, got %d", r.UniqueCounterparties)
		}
		if r.TotalAmount != 114000 {
			t.Errorf("expected total 114000, got %f", r.TotalAmount)
		}
		// 114000 over 22 hours.
		if r.VelocityPerHour <= 5000 {
			t.Errorf("expected high velocity, got %f", r.VelocityPerHour)
		}
		if got := r.WindowEnd.Sub(r.WindowStart); got != 22*time.Hour {
			t.Errorf("expected 22h window, got %v", got)
		}
	})

	t.Run("FanOut", func(t *testing.T) {
		var txns []domain.Transaction
		for i := 0; i < 11; i++ {
			txns = append(txns, domain.Transaction{
				Sender:    "HUB",
				Receiver:  fmt.Sprintf("R%02d", i),
				Amount:    1000,
				Timestamp: at(1, i),
			})
		}
		results := NewSmurfingDetector(timeindex.Build(txns), cfg()).Detect()
		if len(results) != 1 || results[0].Kind != domain.FanOut {
			t.Fatalf("expected one fan_out result, got %+v", results)
		}
		if results[0].UniqueCounterparties != 11 {
			t.Errorf("expected 11 counterparties, got %d", results[0].UniqueCounterparties)
		}
	})

	t.Run("BelowThreshold", func(t *testing.T) {
		var txns []domain.Transaction
		for i := 0; i < 9; i++ {
			txns = append(txns, domain.Transaction{
				Sender:    fmt.Sprintf("S%d", i),
				Receiver:  "M",
				Amount:    100,
				Timestamp: at(1, i),
			})
		}
		results := NewSmurfingDetector(timeindex.Build(txns), cfg()).Detect()
		if len(results) != 0 {
			t.Fatalf("expected no results below threshold, got %d", len(results))
		}
	})

	t.Run("WindowExcludesOldCounterparties", func(t *testing.T) {
		// Ten senders spread over 10 days: no 72h window holds them all.
		var txns []domain.Transaction
		for i := 0; i < 10; i++ {
			txns = append(txns, domain.Transaction{
				Sender:    fmt.Sprintf("S%d", i),
				Receiver:  "M",
				Amount:    100,
				Timestamp: at(1+i, 0),
			})
		}
		results := NewSmurfingDetector(timeindex.Build(txns), cfg()).Detect()
		if len(results) != 0 {
			t.Fatalf("expected no results when the window never holds 10, got %+v", results)
		}
	})

	t.Run("RepeatCounterpartiesCountOnce", func(t *testing.T) {
		var txns []domain.Transaction
		for i := 0; i < 30; i++ {
			txns = append(txns, domain.Transaction{
				Sender:    fmt.Sprintf("S%d", i%5),
				Receiver:  "M",
				Amount:    100,
				Timestamp: at(1, i%24),
			})
		}
		results := NewSmurfingDetector(timeindex.Build(txns), cfg()).Detect()
		if len(results) != 0 {
			t.Fatalf("5 unique counterparties must not trigger, got %+v", results)
		}
	})

	t.Run("SubHourWindowClampsVelocityDivisor", func(t *testing.T) {
		var txns []domain.Transaction
		for i := 0; i < 10; i++ {
			txns = append(txns, domain.Transaction{
				Sender:    fmt.Sprintf("S%d", i),
				Receiver:  "M",
				Amount:    1000,
				Timestamp: time.Date(2024, 1, 1, 10, i, 0, 0, time.UTC),
			})
		}
		results := NewSmurfingDetector(timeindex.Build(txns), cfg()).Detect()
		if len(results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(results))
		}
		// 10000 over a 9-minute span divides by the 1-hour floor.
		if results[0].VelocityPerHour != 10000 {
			t.Errorf("expected velocity 10000, got %f", results[0].VelocityPerHour)
		}
	})

	t.Run("FanInBeforeFanOut", func(t *testing.T) {
		var txns []domain.Transaction
		for i := 0; i < 10; i++ {
			txns = append(txns, domain.Transaction{
				Sender:    fmt.Sprintf("S%d", i),
				Receiver:  "MID",
				Amount:    500,
				Timestamp: at(1, i),
			})
			txns = append(txns, domain.Transaction{
				Sender:    "MID",
				Receiver:  fmt.Sprintf("R%d", i),
				Amount:    500,
				Timestamp: at(2, i),
			})
		}
		results := NewSmurfingDetector(timeindex.Build(txns), cfg()).Detect()
		if len(results) != 2 {
			t.Fatalf("expected fan_in and fan_out for MID, got %d", len(results))
		}
		if results[0].Kind != domain.FanIn || results[1].Kind != domain.FanOut {
			t.Errorf("expected fan_in emitted before fan_out: %+v", results)
		}
	})
}
