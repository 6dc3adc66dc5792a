package domain

import (
	"fmt"
	"time"
)

// AnalysisStatus tracks the lifecycle of one uploaded batch.
type AnalysisStatus string

const (
	StatusPending    AnalysisStatus = "pending"
	StatusProcessing AnalysisStatus = "processing"
	StatusComplete   AnalysisStatus = "complete"
	StatusError      AnalysisStatus = "error"
)

// CycleResult is one temporally coherent directed cycle of length 3-5.
// Identified by the canonical rotation of Nodes; never mutated after emission.
type CycleResult struct {
	RingID        string   `json:"ring_id"`
	Nodes         []string `json:"nodes"`
	Length        int      `json:"length"`
	TotalAmount   float64  `json:"total_amount"`
	TimeSpanHours float64  `json:"time_span_hours"`
	EdgeCount     int      `json:"edge_count"`
}

// SmurfingKind distinguishes the two structuring directions.
type SmurfingKind string

const (
	FanIn  SmurfingKind = "fan_in"
	FanOut SmurfingKind = "fan_out"
)

// SmurfingResult records the best sliding window for one (account, kind).
type SmurfingResult struct {
	RingID               string       `json:"ring_id"`
	AccountID            string       `json:"account_id"`
	Kind                 SmurfingKind `json:"kind"`
	UniqueCounterparties int          `json:"unique_counterparties"`
	TotalAmount          float64      `json:"total_amount"`
	VelocityPerHour      float64      `json:"velocity_per_hour"`
	WindowStart          time.Time    `json:"window_start"`
	WindowEnd            time.Time    `json:"window_end"`
}

// ShellResult is one source-to-sink pass-through chain.
type ShellResult struct {
	RingID               string   `json:"ring_id"`
	Chain                []string `json:"chain"`
	IntermediateAccounts []string `json:"intermediate_accounts"`
	TotalAmount          float64  `json:"total_amount"`
	ShellDepth           int      `json:"shell_depth"`
}

// SuspiciousAccount is one scored account with score > 0.
type SuspiciousAccount struct {
	AccountID         string   `json:"account_id"`
	SuspicionScore    float64  `json:"suspicion_score"`
	DetectedPatterns  []string `json:"detected_patterns"`
	RingIDs           []string `json:"ring_ids"`
	AccountType       string   `json:"account_type"`
	TotalInflow       float64  `json:"total_inflow"`
	TotalOutflow      float64  `json:"total_outflow"`
	TransactionCount  int      `json:"transaction_count"`
	ConnectedAccounts []string `json:"connected_accounts"`
}

// FraudRing groups the accounts implicated by one detector event.
type FraudRing struct {
	RingID         string   `json:"ring_id"`
	PatternType    string   `json:"pattern_type"`
	MemberAccounts []string `json:"member_accounts"`
	RiskScore      float64  `json:"risk_score"`
}

// Summary holds the batch-level counters for one analysis.
type Summary struct {
	TotalTransactions         int     `json:"total_transactions"`
	TotalAccountsAnalyzed     int     `json:"total_accounts_analyzed"`
	SuspiciousAccountsFlagged int     `json:"suspicious_accounts_flagged"`
	FraudRingsDetected        int     `json:"fraud_rings_detected"`
	TotalCycles               int     `json:"total_cycles"`
	TotalSmurfingPatterns     int     `json:"total_smurfing_patterns"`
	TotalShellPatterns        int     `json:"total_shell_patterns"`
	TotalAmountAtRisk         float64 `json:"total_amount_at_risk"`
	ProcessingTimeSeconds     float64 `json:"processing_time_seconds"`
}

// GraphNode is one visualization node.
type GraphNode struct {
	ID               string   `json:"id"`
	Label            string   `json:"label"`
	AccountType      string   `json:"account_type"`
	SuspicionScore   float64  `json:"suspicion_score"`
	TotalInflow      float64  `json:"total_inflow"`
	TotalOutflow     float64  `json:"total_outflow"`
	TransactionCount int      `json:"transaction_count"`
	IsSuspicious     bool     `json:"is_suspicious"`
	RingIDs          []string `json:"ring_ids"`
	DetectedPatterns []string `json:"detected_patterns"`
	Patterns         []string `json:"patterns"`
}

// GraphEdge is one aggregated visualization edge.
type GraphEdge struct {
	Source           string  `json:"source"`
	Target           string  `json:"target"`
	Amount           float64 `json:"amount"`
	TransactionCount int     `json:"transaction_count"`
	IsSuspicious     bool    `json:"is_suspicious"`
	PatternType      string  `json:"pattern_type,omitempty"`
}

// GraphData is the visualization payload consumed by the front-end.
type GraphData struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// AnalysisResult is the full artifact produced for one batch.
type AnalysisResult struct {
	AnalysisID         string              `json:"analysis_id"`
	Status             AnalysisStatus      `json:"status"`
	Error              string              `json:"error,omitempty"`
	Summary            Summary             `json:"summary"`
	SuspiciousAccounts []SuspiciousAccount `json:"suspicious_accounts"`
	FraudRings         []FraudRing         `json:"fraud_rings"`
	Graph              *GraphData          `json:"graph,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	CompletedAt        time.Time           `json:"completed_at,omitempty"`
}

// ErrorKind classifies terminal analysis failures.
type ErrorKind string

const (
	// ErrInvalidInput covers a missing header, unrecognized required
	// columns, or an empty body.
	ErrInvalidInput ErrorKind = "invalid_input"

	// ErrNoData means the header parsed but zero rows were valid.
	ErrNoData ErrorKind = "no_data"

	// ErrInternal covers unexpected pipeline failures.
	ErrInternal ErrorKind = "internal_error"
)

// AnalysisError is the typed failure surfaced by the engine.
// Detector budget exhaustion is not an error; it yields partial results.
type AnalysisError struct {
	Kind    ErrorKind
	Message string
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewAnalysisError builds a typed engine failure.
func NewAnalysisError(kind ErrorKind, format string, args ...any) *AnalysisError {
	return &AnalysisError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Pattern labels attached to suspicious accounts.
const (
	PatternCycle3       = "cycle_length_3"
	PatternCycle4       = "cycle_length_4"
	PatternCycle5       = "cycle_length_5"
	PatternFanIn        = "fan_in"
	PatternFanOut       = "fan_out"
	PatternHighVelocity = "high_velocity"
	PatternShell        = "shell"
	PatternTypeCycle    = "cycle"
	PatternTypeShell    = "shell"
)
