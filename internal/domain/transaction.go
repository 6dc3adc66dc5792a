package domain

import (
	"time"
)

// Transaction is one directed money transfer from a parsed batch.
// Immutable after parsing.
type Transaction struct {
	// ID is optional; batches without a transaction_id column are accepted.
	ID string `json:"transaction_id,omitempty"`

	// Parties. Account ids are opaque, case-sensitive strings.
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`

	Amount float64 `json:"amount"`

	// Timestamp is always UTC. Rows with an unparseable timestamp carry
	// the Unix epoch sentinel.
	Timestamp time.Time `json:"timestamp"`
}

// AccountProfile holds derived per-account aggregates plus legitimacy flags.
type AccountProfile struct {
	AccountID        string    `json:"account_id"`
	AccountType      string    `json:"account_type"` // "individual" or "business"
	TotalInflow      float64   `json:"total_inflow"`
	TotalOutflow     float64   `json:"total_outflow"`
	TransactionCount int       `json:"transaction_count"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`

	// Legitimacy flags set by the filter pass.
	IsPayroll             bool `json:"is_payroll"`
	IsMerchant            bool `json:"is_merchant"`
	IsSalary              bool `json:"is_salary"`
	IsEstablishedBusiness bool `json:"is_established_business"`
}

// AccountTypeIndividual and AccountTypeBusiness classify accounts by id shape.
const (
	AccountTypeIndividual = "individual"
	AccountTypeBusiness   = "business"
)
