// Package engine orchestrates the batch analysis pipeline: parse, build,
// detect, filter, score, assemble. The engine is a pure function of the
// CSV bytes plus its configuration; persistence and transport live with
// the caller.
package engine

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/filters"
	"github.com/opensource-finance/kestrel/internal/graph"
	"github.com/opensource-finance/kestrel/internal/parser"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/timeindex"
)

// Engine runs the full analysis pipeline for one batch at a time.
// Instances are stateless and safe for concurrent use; each Analyze call
// builds its own graph and index.
type Engine struct {
	cfg    domain.EngineConfig
	rules  *rules.Engine
	tracer trace.Tracer
}

// New creates an engine. ruleEngine may be nil; scoring then matches the
// decision tree exactly.
func New(cfg domain.EngineConfig, ruleEngine *rules.Engine) *Engine {
	return &Engine{
		cfg:    cfg,
		rules:  ruleEngine,
		tracer: otel.Tracer("kestrel/engine"),
	}
}

// Analyze turns CSV bytes into a complete analysis result. Returns a
// typed *domain.AnalysisError on failure; detector budget exhaustion is
// not a failure and yields partial results.
func (e *Engine) Analyze(ctx context.Context, csvBytes []byte) (result *domain.AnalysisResult, err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("analysis panic", "panic", r)
			result = nil
			err = domain.NewAnalysisError(domain.ErrInternal, "unexpected failure: %v", r)
		}
	}()

	ctx, span := e.tracer.Start(ctx, "engine.Analyze")
	defer span.End()

	txns, err := parser.Parse(csvBytes)
	if err != nil {
		return nil, err
	}
	slog.Debug("batch parsed", "transactions", len(txns))

	// Graph and time index are independent; build them in parallel and
	// treat both as immutable afterwards.
	var (
		g  *graph.Graph
		ix *timeindex.Index
		wg sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		g = graph.Build(txns)
	}()
	go func() {
		defer wg.Done()
		ix = timeindex.Build(txns)
	}()
	wg.Wait()

	cycles, smurfing, shells := e.runDetectors(ctx, g, ix)
	slog.Debug("detectors finished",
		"cycles", len(cycles),
		"smurfing", len(smurfing),
		"shells", len(shells),
	)

	profiles := g.BuildProfiles()
	filters.Apply(g, profiles)

	in := &scoring.Input{
		Profiles: profiles,
		Cycles:   cycles,
		Smurfing: smurfing,
		Shells:   shells,
	}
	scorer := scoring.New(g)
	out := scorer.Score(in)
	if e.rules != nil {
		if applied := e.rules.Apply(out.Scores, profiles, out.Patterns); len(applied) > 0 {
			slog.Debug("adjustment rules applied", "applications", len(applied))
		}
	}
	scorer.Assemble(in, out)

	summary := buildSummary(txns, g, in, out, time.Since(start))
	result = &domain.AnalysisResult{
		Status:             domain.StatusComplete,
		Summary:            summary,
		SuspiciousAccounts: out.SuspiciousAccounts,
		FraudRings:         out.FraudRings,
		Graph:              g.BuildVisualization(profiles, out.Scores, out.RingIDs, out.Patterns),
	}
	slog.Info("analysis complete",
		"transactions", summary.TotalTransactions,
		"accounts", summary.TotalAccountsAnalyzed,
		"suspicious", summary.SuspiciousAccountsFlagged,
		"rings", summary.FraudRingsDetected,
		"elapsed", time.Since(start),
	)
	return result, nil
}

// runDetectors fans the three detectors out over the shared read-only
// graph and index and joins them all before returning.
func (e *Engine) runDetectors(ctx context.Context, g *graph.Graph, ix *timeindex.Index) ([]domain.CycleResult, []domain.SmurfingResult, []domain.ShellResult) {
	var (
		cycles   []domain.CycleResult
		smurfing []domain.SmurfingResult
		shells   []domain.ShellResult
		wg       sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		_, span := e.tracer.Start(ctx, "detect.cycles")
		defer span.End()
		cycles = detect.NewCycleDetector(g, e.cfg).Detect()
	}()
	go func() {
		defer wg.Done()
		_, span := e.tracer.Start(ctx, "detect.smurfing")
		defer span.End()
		smurfing = detect.NewSmurfingDetector(ix, e.cfg).Detect()
	}()
	go func() {
		defer wg.Done()
		_, span := e.tracer.Start(ctx, "detect.shells")
		defer span.End()
		shells = detect.NewShellDetector(g, e.cfg).Detect()
	}()
	wg.Wait()

	return cycles, smurfing, shells
}

func buildSummary(txns []domain.Transaction, g *graph.Graph, in *scoring.Input, out *scoring.Output, elapsed time.Duration) domain.Summary {
	var atRisk float64
	for _, c := range in.Cycles {
		atRisk += c.TotalAmount
	}
	for _, s := range in.Shells {
		atRisk += s.TotalAmount
	}

	return domain.Summary{
		TotalTransactions:         len(txns),
		TotalAccountsAnalyzed:     len(g.Nodes()),
		SuspiciousAccountsFlagged: len(out.SuspiciousAccounts),
		FraudRingsDetected:        len(out.FraudRings),
		TotalCycles:               len(in.Cycles),
		TotalSmurfingPatterns:     len(in.Smurfing),
		TotalShellPatterns:        len(in.Shells),
		TotalAmountAtRisk:         math.Round(atRisk*100) / 100,
		ProcessingTimeSeconds:     math.Round(elapsed.Seconds()*1000) / 1000,
	}
}

// BuildReport renders the strict three-field forensic document from a
// completed result. Suspicious accounts with multiple rings carry their
// first (lowest-numbered) ring id, matching the download contract.
func BuildReport(result *domain.AnalysisResult) map[string]any {
	accounts := make([]map[string]any, 0, len(result.SuspiciousAccounts))
	for _, sa := range result.SuspiciousAccounts {
		ringID := ""
		if len(sa.RingIDs) > 0 {
			ringID = sa.RingIDs[0]
		}
		accounts = append(accounts, map[string]any{
			"account_id":        sa.AccountID,
			"suspicion_score":   sa.SuspicionScore,
			"detected_patterns": sa.DetectedPatterns,
			"ring_id":           ringID,
		})
	}

	rings := make([]map[string]any, 0, len(result.FraudRings))
	for _, r := range result.FraudRings {
		rings = append(rings, map[string]any{
			"ring_id":         r.RingID,
			"member_accounts": r.MemberAccounts,
			"pattern_type":    r.PatternType,
			"risk_score":      r.RiskScore,
		})
	}

	return map[string]any{
		"suspicious_accounts": accounts,
		"fraud_rings":         rings,
		"summary": map[string]any{
			"total_accounts_analyzed":     result.Summary.TotalAccountsAnalyzed,
			"suspicious_accounts_flagged": result.Summary.SuspiciousAccountsFlagged,
			"fraud_rings_detected":        result.Summary.FraudRingsDetected,
			"processing_time_seconds":     result.Summary.ProcessingTimeSeconds,
		},
	}
}

// MaxRisk returns the highest ring risk score in a result.
func MaxRisk(result *domain.AnalysisResult) float64 {
	var max float64
	for _, r := range result.FraudRings {
		if r.RiskScore > max {
			max = r.RiskScore
		}
	}
	return max
}
