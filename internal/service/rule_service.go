package service

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"

	celeval "github.com/keygate-dev/keygate/internal/adapter/outbound/cel"
	"github.com/keygate-dev/keygate/internal/domain/rules"
)

// compiledRule pairs a rule with its pre-compiled CEL program.
type compiledRule struct {
	rule    rules.Rule
	program cel.Program
}

// RuleService compiles configured access rules once and evaluates them per
// request. Evaluation fails closed: a rule whose expression errors at
// runtime denies the request rather than being skipped.
type RuleService struct {
	evaluator *celeval.Evaluator
	logger    *slog.Logger

	mu       sync.RWMutex
	compiled []compiledRule
	// programCache reuses compiled programs across rule reloads, keyed by
	// xxhash of the expression text.
	programCache map[uint64]cel.Program
}

// NewRuleService creates a RuleService and compiles the given rules.
// A rule that fails to compile is a configuration error.
func NewRuleService(ruleSet []rules.Rule, logger *slog.Logger) (*RuleService, error) {
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, err
	}
	s := &RuleService{
		evaluator:    evaluator,
		logger:       logger,
		programCache: make(map[uint64]cel.Program),
	}
	if err := s.Reload(ruleSet); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the active rule set. Compilation happens up front so a
// bad expression surfaces at startup, not on the first matching request.
func (s *RuleService) Reload(ruleSet []rules.Rule) error {
	compiled := make([]compiledRule, 0, len(ruleSet))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range ruleSet {
		if err := s.evaluator.ValidateExpression(r.Condition); err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
		key := xxhash.Sum64String(r.Condition)
		prg, ok := s.programCache[key]
		if !ok {
			var err error
			prg, err = s.evaluator.Compile(r.Condition)
			if err != nil {
				return fmt.Errorf("rule %q: %w", r.Name, err)
			}
			s.programCache[key] = prg
		}
		compiled = append(compiled, compiledRule{rule: r, program: prg})
	}

	s.compiled = compiled
	s.logger.Info("access rules loaded", "count", len(compiled))
	return nil
}

// Evaluate runs the rule set against one request. Rules are checked in
// configuration order; the first rule whose route prefix matches and whose
// condition is true decides. No matching rule allows: the capability
// verdict has already been applied by the guard.
func (s *RuleService) Evaluate(input celeval.RuleInput) rules.Decision {
	s.mu.RLock()
	compiled := s.compiled
	s.mu.RUnlock()

	for _, cr := range compiled {
		if cr.rule.RoutePrefix != "" && !strings.HasPrefix(input.Path, cr.rule.RoutePrefix) {
			continue
		}
		matched, err := s.evaluator.Evaluate(cr.program, input)
		if err != nil {
			s.logger.Warn("rule evaluation failed, denying",
				"rule", cr.rule.Name, "path", input.Path, "error", err)
			return rules.Decision{
				Allowed: false,
				Rule:    cr.rule.Name,
				Reason:  "rule evaluation failed",
			}
		}
		if !matched {
			continue
		}
		if cr.rule.Action == rules.ActionDeny {
			return rules.Decision{
				Allowed: false,
				Rule:    cr.rule.Name,
				Reason:  fmt.Sprintf("denied by rule %q", cr.rule.Name),
			}
		}
		return rules.Decision{Allowed: true, Rule: cr.rule.Name}
	}

	return rules.Decision{Allowed: true}
}
