package scoring

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/graph"
)

func at(day, hour int) time.Time {
	return time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC)
}

func triangle() []domain.Transaction {
	return []domain.Transaction{
		{Sender: "A", Receiver: "B", Amount: 5000, Timestamp: at(1, 10)},
		{Sender: "B", Receiver: "C", Amount: 4950, Timestamp: at(1, 14)},
		{Sender: "C", Receiver: "A", Amount: 4900, Timestamp: at(1, 18)},
	}
}

func TestRingIDAssignment(t *testing.T) {
	g := graph.Build(triangle())
	in := &Input{
		Profiles: g.BuildProfiles(),
		Cycles: []domain.CycleResult{
			{Nodes: []string{"A", "B", "C"}, Length: 3, TotalAmount: 14850},
			{Nodes: []string{"C", "D", "E"}, Length: 3, TotalAmount: 100},
		},
		Smurfing: []domain.SmurfingResult{
			{AccountID: "M1", Kind: domain.FanIn, UniqueCounterparties: 12},
			{AccountID: "M2", Kind: domain.FanOut, UniqueCounterparties: 11},
			{AccountID: "M3", Kind: domain.FanIn, UniqueCounterparties: 10},
		},
		Shells: []domain.ShellResult{
			{Chain: []string{"S", "x", "y", "T"}, IntermediateAccounts: []string{"x", "y"}, ShellDepth: 2},
		},
	}
	New(g).Process(in)

	want := []string{"RING_001", "RING_002", "RING_003", "RING_004", "RING_005", "RING_006"}
	got := []string{
		in.Cycles[0].RingID, in.Cycles[1].RingID,
		in.Smurfing[0].RingID, in.Smurfing[1].RingID, in.Smurfing[2].RingID,
		in.Shells[0].RingID,
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ring %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestCycleScoring(t *testing.T) {
	g := graph.Build(triangle())
	in := &Input{
		Profiles: g.BuildProfiles(),
		Cycles: []domain.CycleResult{
			{Nodes: []string{"A", "B", "C"}, Length: 3, TotalAmount: 14850, TimeSpanHours: 8},
		},
	}
	out := New(g).Process(in)

	// Length 3 => 60 base, +10 high value.
	for _, id := range []string{"A", "B", "C"} {
		if out.Scores[id] != 70 {
			t.Errorf("%s: expected score 70, got %f", id, out.Scores[id])
		}
	}
	if len(out.SuspiciousAccounts) != 3 {
		t.Fatalf("expected 3 suspicious accounts, got %d", len(out.SuspiciousAccounts))
	}
	// Equal scores tie-break lexicographically.
	if out.SuspiciousAccounts[0].AccountID != "A" {
		t.Errorf("expected A first on tie, got %s", out.SuspiciousAccounts[0].AccountID)
	}
	if got := out.SuspiciousAccounts[0].DetectedPatterns; len(got) != 1 || got[0] != "cycle_length_3" {
		t.Errorf("unexpected patterns: %v", got)
	}
}

func TestFamilyMaxNotSum(t *testing.T) {
	g := graph.Build(triangle())
	in := &Input{
		Profiles: g.BuildProfiles(),
		Cycles: []domain.CycleResult{
			{Nodes: []string{"A", "B", "C"}, Length: 5, TotalAmount: 500},
			{Nodes: []string{"A", "B", "C"}, Length: 3, TotalAmount: 500},
		},
	}
	out := New(g).Process(in)
	// max(20, 60), not 80.
	if out.Scores["A"] != 60 {
		t.Errorf("expected family max 60, got %f", out.Scores["A"])
	}
}

func TestSmurfingScoring(t *testing.T) {
	txns := []domain.Transaction{{Sender: "S", Receiver: "M", Amount: 100, Timestamp: at(1, 0)}}
	g := graph.Build(txns)
	in := &Input{
		Profiles: g.BuildProfiles(),
		Smurfing: []domain.SmurfingResult{{
			AccountID:            "M",
			Kind:                 domain.FanIn,
			UniqueCounterparties: 25,
			TotalAmount:          150000,
			VelocityPerHour:      6000,
		}},
	}
	out := New(g).Process(in)
	// 25 base + 10 velocity + 5 parties + 5 volume.
	if out.Scores["M"] != 45 {
		t.Errorf("expected 45, got %f", out.Scores["M"])
	}
	pats := out.Patterns["M"]
	if len(pats) != 2 || pats[0] != "fan_in" || pats[1] != "high_velocity" {
		t.Errorf("unexpected patterns: %v", pats)
	}
}

func TestShellScoring(t *testing.T) {
	txns := []domain.Transaction{
		{Sender: "SRC", Receiver: "s1", Amount: 100, Timestamp: at(1, 1)},
		{Sender: "s1", Receiver: "s2", Amount: 100, Timestamp: at(1, 2)},
		{Sender: "s2", Receiver: "s3", Amount: 100, Timestamp: at(1, 3)},
		{Sender: "s3", Receiver: "SINK", Amount: 100, Timestamp: at(1, 4)},
	}
	g := graph.Build(txns)
	in := &Input{
		Profiles: g.BuildProfiles(),
		Shells: []domain.ShellResult{{
			Chain:                []string{"SRC", "s1", "s2", "s3", "SINK"},
			IntermediateAccounts: []string{"s1", "s2", "s3"},
			ShellDepth:           3,
			TotalAmount:          400,
		}},
	}
	out := New(g).Process(in)
	// Terminals get the base, interiors the depth bonus.
	if out.Scores["SRC"] != 25 || out.Scores["SINK"] != 25 {
		t.Errorf("expected terminal 25, got %f / %f", out.Scores["SRC"], out.Scores["SINK"])
	}
	if out.Scores["s2"] != 55 {
		t.Errorf("expected interior 25+30=55, got %f", out.Scores["s2"])
	}
}

func TestPayrollSuppression(t *testing.T) {
	g := graph.Build(triangle())
	profiles := g.BuildProfiles()
	profiles["A"].IsPayroll = true
	in := &Input{
		Profiles: profiles,
		Cycles: []domain.CycleResult{
			{Nodes: []string{"A", "B", "C"}, Length: 4, TotalAmount: 500},
		},
	}
	out := New(g).Process(in)
	// 40 base - 50 payroll clamps to 0, so A is not suspicious.
	if out.Scores["A"] != 0 {
		t.Errorf("expected 0 after payroll deduction, got %f", out.Scores["A"])
	}
	for _, sa := range out.SuspiciousAccounts {
		if sa.AccountID == "A" {
			t.Error("payroll account must not be emitted")
		}
	}
}

func TestCentralityAndVolume(t *testing.T) {
	var txns []domain.Transaction
	// 100 transactions of 120k each through HUB.
	for i := 0; i < 50; i++ {
		txns = append(txns,
			domain.Transaction{Sender: "p", Receiver: "HUB", Amount: 120000, Timestamp: at(1, 0)},
			domain.Transaction{Sender: "HUB", Receiver: "q", Amount: 120000, Timestamp: at(1, 1)},
		)
	}
	g := graph.Build(txns)
	in := &Input{Profiles: g.BuildProfiles()}
	out := New(g).Process(in)
	// log10(100)*5 = 10 centrality, +10 volume anomaly.
	if out.Scores["HUB"] != 20 {
		t.Errorf("expected 20, got %f", out.Scores["HUB"])
	}
}

func TestFraudRings(t *testing.T) {
	g := graph.Build(triangle())
	in := &Input{
		Profiles: g.BuildProfiles(),
		Cycles: []domain.CycleResult{
			{Nodes: []string{"A", "B", "C"}, Length: 3, TotalAmount: 14850},
		},
		Smurfing: []domain.SmurfingResult{
			{AccountID: "M", Kind: domain.FanIn, UniqueCounterparties: 10},
		},
	}
	out := New(g).Process(in)

	if len(out.FraudRings) != 2 {
		t.Fatalf("expected 2 rings, got %d", len(out.FraudRings))
	}
	// Cycle risk 70 sorts above smurfing risk 25.
	first := out.FraudRings[0]
	if first.RingID != "RING_001" || first.PatternType != "cycle" || first.RiskScore != 70 {
		t.Errorf("unexpected first ring: %+v", first)
	}
	second := out.FraudRings[1]
	if second.PatternType != "fan_in" || len(second.MemberAccounts) != 1 || second.MemberAccounts[0] != "M" {
		t.Errorf("unexpected second ring: %+v", second)
	}

	ids := make(map[string]bool)
	for _, r := range out.FraudRings {
		if ids[r.RingID] {
			t.Errorf("duplicate ring id %s", r.RingID)
		}
		ids[r.RingID] = true
	}
}

func TestConnectedAccounts(t *testing.T) {
	g := graph.Build(triangle())
	in := &Input{
		Profiles: g.BuildProfiles(),
		Cycles: []domain.CycleResult{
			{Nodes: []string{"A", "B", "C"}, Length: 3, TotalAmount: 14850},
		},
	}
	out := New(g).Process(in)
	for _, sa := range out.SuspiciousAccounts {
		if sa.AccountID == "A" {
			if len(sa.ConnectedAccounts) != 2 || sa.ConnectedAccounts[0] != "B" || sa.ConnectedAccounts[1] != "C" {
				t.Errorf("unexpected connected accounts for A: %v", sa.ConnectedAccounts)
			}
		}
	}
}
