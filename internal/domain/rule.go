package domain

// AdjustmentRule is an operator-defined CEL rule applied to scored
// accounts after the decision tree runs. The expression evaluates over
// the account's profile and score and yields a float delta added to the
// score (negative to suppress, positive to boost). Adjusted scores are
// clamped to [0, 100].
type AdjustmentRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// Condition is a CEL boolean expression; the rule fires when true.
	Condition string `json:"condition"`

	// Delta is added to the account score when the condition fires.
	Delta float64 `json:"delta"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// AdjustmentRuleSet is the on-disk rule file format.
type AdjustmentRuleSet struct {
	Version string           `json:"version"`
	Rules   []AdjustmentRule `json:"rules"`
}

// RuleApplication records one rule firing for audit.
type RuleApplication struct {
	RuleID    string  `json:"rule_id"`
	AccountID string  `json:"account_id"`
	Delta     float64 `json:"delta"`
}
