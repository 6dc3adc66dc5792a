// Package rules provides the CEL-Go based score adjustment engine.
//
// Adjustment rules run after the decision-tree scorer: operators can
// suppress known-good populations or boost local typologies without
// recompiling the service. With no rules loaded the scorer's output
// passes through untouched.
package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine is the CEL-based adjustment rule engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.AdjustmentRule
	Program cel.Program
}

// NewEngine creates a new adjustment rule engine.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("account_id", cel.StringType),
		cel.Variable("account_type", cel.StringType),
		cel.Variable("score", cel.DoubleType),
		cel.Variable("patterns", cel.ListType(cel.StringType)),
		cel.Variable("transaction_count", cel.IntType),
		cel.Variable("total_inflow", cel.DoubleType),
		cel.Variable("total_outflow", cel.DoubleType),
		cel.Variable("is_payroll", cel.BoolType),
		cel.Variable("is_merchant", cel.BoolType),
		cel.Variable("is_salary", cel.BoolType),
		cel.Variable("is_established", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.AdjustmentRule) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.AdjustmentRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(configs []*domain.AdjustmentRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadFile reads a JSON rule set from disk and loads the enabled rules,
// replacing whatever is currently loaded.
func (e *Engine) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rule file: %w", err)
	}
	var set domain.AdjustmentRuleSet
	if err := json.Unmarshal(data, &set); err != nil {
		return fmt.Errorf("failed to parse rule file: %w", err)
	}
	configs := make([]*domain.AdjustmentRule, len(set.Rules))
	for i := range set.Rules {
		configs[i] = &set.Rules[i]
	}
	return e.ReloadRules(configs)
}

// ReloadRules clears all existing rules and loads new ones atomically.
func (e *Engine) ReloadRules(configs []*domain.AdjustmentRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// Apply evaluates every loaded rule against every scored account and
// mutates the score map in place, clamping to [0, 100]. Accounts and
// rules are walked in sorted order so repeated runs apply identically.
func (e *Engine) Apply(
	scores map[string]float64,
	profiles map[string]*domain.AccountProfile,
	patterns map[string][]string,
) []domain.RuleApplication {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Config.ID < rules[j].Config.ID
	})

	accounts := make([]string, 0, len(scores))
	for id := range scores {
		accounts = append(accounts, id)
	}
	sort.Strings(accounts)

	var applied []domain.RuleApplication
	for _, id := range accounts {
		activation := buildActivation(id, scores[id], profiles[id], patterns[id])
		for _, rule := range rules {
			out, _, err := rule.Program.Eval(activation)
			if err != nil {
				continue
			}
			if !toBool(out) {
				continue
			}
			scores[id] = clamp(scores[id] + rule.Config.Delta)
			activation["score"] = scores[id]
			applied = append(applied, domain.RuleApplication{
				RuleID:    rule.Config.ID,
				AccountID: id,
				Delta:     rule.Config.Delta,
			})
		}
	}
	return applied
}

func buildActivation(id string, score float64, p *domain.AccountProfile, patterns []string) map[string]any {
	if patterns == nil {
		patterns = []string{}
	}
	activation := map[string]any{
		"account_id":        id,
		"account_type":      domain.AccountTypeIndividual,
		"score":             score,
		"patterns":          patterns,
		"transaction_count": 0,
		"total_inflow":      0.0,
		"total_outflow":     0.0,
		"is_payroll":        false,
		"is_merchant":       false,
		"is_salary":         false,
		"is_established":    false,
	}
	if p != nil {
		activation["account_type"] = p.AccountType
		activation["transaction_count"] = p.TransactionCount
		activation["total_inflow"] = p.TotalInflow
		activation["total_outflow"] = p.TotalOutflow
		activation["is_payroll"] = p.IsPayroll
		activation["is_merchant"] = p.IsMerchant
		activation["is_salary"] = p.IsSalary
		activation["is_established"] = p.IsEstablishedBusiness
	}
	return activation
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.AdjustmentRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.AdjustmentRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.AdjustmentRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: condition must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}

func toBool(val ref.Val) bool {
	b, ok := val.(types.Bool)
	return ok && bool(b)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return math.Round(v*10) / 10
}
