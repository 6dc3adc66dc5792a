package filters

import (
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/graph"
)

func day(d int) time.Time {
	return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func apply(txns []domain.Transaction) map[string]*domain.AccountProfile {
	g := graph.Build(txns)
	profiles := g.BuildProfiles()
	Apply(g, profiles)
	return profiles
}

func TestIsPayroll(t *testing.T) {
	t.Run("MonthlyStableDeposits", func(t *testing.T) {
		txns := []domain.Transaction{
			{Sender: "CORP_LLC", Receiver: "E", Amount: 50000, Timestamp: day(0)},
			{Sender: "CORP_LLC", Receiver: "E", Amount: 50100, Timestamp: day(30)},
			{Sender: "CORP_LLC", Receiver: "E", Amount: 49900, Timestamp: day(61)},
			{Sender: "CORP_LLC", Receiver: "E", Amount: 50000, Timestamp: day(92)},
		}
		p := apply(txns)["E"]
		if !p.IsPayroll {
			t.Error("expected payroll flag for monthly stable deposits")
		}
	})

	t.Run("UnstableAmounts", func(t *testing.T) {
		txns := []domain.Transaction{
			{Sender: "CORP_LLC", Receiver: "E", Amount: 50000, Timestamp: day(0)},
			{Sender: "CORP_LLC", Receiver: "E", Amount: 10000, Timestamp: day(30)},
			{Sender: "CORP_LLC", Receiver: "E", Amount: 90000, Timestamp: day(60)},
		}
		if apply(txns)["E"].IsPayroll {
			t.Error("high CV should fail payroll")
		}
	})

	t.Run("NoDominantSender", func(t *testing.T) {
		txns := []domain.Transaction{
			{Sender: "X1", Receiver: "E", Amount: 50000, Timestamp: day(0)},
			{Sender: "X2", Receiver: "E", Amount: 50000, Timestamp: day(30)},
			{Sender: "X3", Receiver: "E", Amount: 50000, Timestamp: day(60)},
			{Sender: "X4", Receiver: "E", Amount: 50000, Timestamp: day(90)},
		}
		if apply(txns)["E"].IsPayroll {
			t.Error("scattered senders should fail payroll")
		}
	})

	t.Run("WrongCadence", func(t *testing.T) {
		txns := []domain.Transaction{
			{Sender: "CORP_LLC", Receiver: "E", Amount: 50000, Timestamp: day(0)},
			{Sender: "CORP_LLC", Receiver: "E", Amount: 50000, Timestamp: day(2)},
			{Sender: "CORP_LLC", Receiver: "E", Amount: 50000, Timestamp: day(4)},
		}
		if apply(txns)["E"].IsPayroll {
			t.Error("2-day cadence should fail payroll")
		}
	})
}

func TestIsMerchant(t *testing.T) {
	t.Run("BusinessNameShortcut", func(t *testing.T) {
		txns := []domain.Transaction{
			{Sender: "alice", Receiver: "QUICK_MART", Amount: 100, Timestamp: day(0)},
		}
		if !apply(txns)["QUICK_MART"].IsMerchant {
			t.Error("mart suffix should shortcut merchant")
		}
	})

	t.Run("RetailShapedInflow", func(t *testing.T) {
		var txns []domain.Transaction
		for i := 0; i < 25; i++ {
			txns = append(txns, domain.Transaction{
				Sender:    fmt.Sprintf("cust%02d", i),
				Receiver:  "tillpoint7", // no business marker
				Amount:    49.99,
				Timestamp: day(i),
			})
		}
		txns = append(txns, domain.Transaction{
			Sender: "tillpoint7", Receiver: "supplier_acct", Amount: 900, Timestamp: day(26),
		})
		if !apply(txns)["tillpoint7"].IsMerchant {
			t.Error("expected merchant for retail-shaped inflow")
		}
	})

	t.Run("NonRoundAmountsFail", func(t *testing.T) {
		var txns []domain.Transaction
		for i := 0; i < 25; i++ {
			txns = append(txns, domain.Transaction{
				Sender:    fmt.Sprintf("cust%02d", i),
				Receiver:  "tillpoint7",
				Amount:    47.13,
				Timestamp: day(i),
			})
		}
		txns = append(txns, domain.Transaction{
			Sender: "tillpoint7", Receiver: "supplier_acct", Amount: 900, Timestamp: day(26),
		})
		if apply(txns)["tillpoint7"].IsMerchant {
			t.Error("non-round cents should fail the retail check")
		}
	})
}

func TestIsSalary(t *testing.T) {
	t.Run("MonthlyLargeDeposits", func(t *testing.T) {
		txns := []domain.Transaction{
			{Sender: "emp1", Receiver: "W", Amount: 60000, Timestamp: day(0)},
			{Sender: "emp1", Receiver: "W", Amount: 58000, Timestamp: day(30)},
			{Sender: "emp1", Receiver: "W", Amount: 59000, Timestamp: day(60)},
			// Small noise inflow that stays below the 0.7*max bar.
			{Sender: "friend", Receiver: "W", Amount: 500, Timestamp: day(10)},
			{Sender: "W", Receiver: "rent", Amount: 20000, Timestamp: day(1)},
			{Sender: "W", Receiver: "groceries_store", Amount: 5000, Timestamp: day(5)},
			{Sender: "W", Receiver: "utilities_co", Amount: 3000, Timestamp: day(8)},
		}
		if !apply(txns)["W"].IsSalary {
			t.Error("expected salary flag for monthly large deposits")
		}
	})

	t.Run("NoOutflows", func(t *testing.T) {
		txns := []domain.Transaction{
			{Sender: "emp1", Receiver: "W", Amount: 60000, Timestamp: day(0)},
			{Sender: "emp1", Receiver: "W", Amount: 60000, Timestamp: day(30)},
		}
		if apply(txns)["W"].IsSalary {
			t.Error("salary requires spending activity")
		}
	})
}

func TestIsEstablishedBusiness(t *testing.T) {
	t.Run("LongLivedBroadActivity", func(t *testing.T) {
		var txns []domain.Transaction
		for i := 0; i < 12; i++ {
			txns = append(txns, domain.Transaction{
				Sender:    fmt.Sprintf("client%02d", i),
				Receiver:  "GLOBAL_SERVICES",
				Amount:    1000,
				Timestamp: day(i * 20),
			})
		}
		for i := 0; i < 10; i++ {
			txns = append(txns, domain.Transaction{
				Sender:    "GLOBAL_SERVICES",
				Receiver:  fmt.Sprintf("vendor%02d", i),
				Amount:    500,
				Timestamp: day(i * 20),
			})
		}
		if !apply(txns)["GLOBAL_SERVICES"].IsEstablishedBusiness {
			t.Error("expected established flag")
		}
	})

	t.Run("ShortHistoryFails", func(t *testing.T) {
		var txns []domain.Transaction
		for i := 0; i < 25; i++ {
			txns = append(txns, domain.Transaction{
				Sender:    fmt.Sprintf("client%02d", i),
				Receiver:  "GLOBAL_SERVICES",
				Amount:    1000,
				Timestamp: day(i), // 25 days total
			})
		}
		if apply(txns)["GLOBAL_SERVICES"].IsEstablishedBusiness {
			t.Error("under 180 days should fail")
		}
	})
}

func TestHelpers(t *testing.T) {
	t.Run("MedianGap", func(t *testing.T) {
		times := []time.Time{day(0), day(30), day(61), day(92)}
		got := medianGapDays(times)
		if got != 31 {
			t.Errorf("expected median gap 31, got %f", got)
		}
	})

	t.Run("RoundAmounts", func(t *testing.T) {
		cases := map[float64]bool{
			100.00: true,
			49.99:  true,
			19.95:  true,
			10.49:  true,
			12.50:  true,
			47.13:  false,
			0.01:   false,
		}
		for amount, want := range cases {
			if got := isRoundAmount(amount); got != want {
				t.Errorf("isRoundAmount(%v) = %v, want %v", amount, got, want)
			}
		}
	})

	t.Run("CoefficientOfVariation", func(t *testing.T) {
		if cv := coefficientOfVariation([]float64{100, 100, 100}); cv != 0 {
			t.Errorf("expected 0 for constant amounts, got %f", cv)
		}
		if cv := coefficientOfVariation([]float64{50, 150}); cv < 0.4 {
			t.Errorf("expected high CV, got %f", cv)
		}
	})
}
