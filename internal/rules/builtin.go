package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// BuiltinRules returns an empty slice - adjustment rules are operator
// configuration, not product defaults. The engine without rules is the
// reference scoring behavior.
func BuiltinRules() []*domain.AdjustmentRule {
	return []*domain.AdjustmentRule{}
}
