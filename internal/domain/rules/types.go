// Package rules contains the domain types for configurable access rules.
//
// Access rules run after the capability verdict on guarded routes: a rule
// can only further restrict access, never grant it. Rules are evaluated in
// order; first match wins.
package rules

// Action is what a matching rule does.
type Action string

const (
	// ActionAllow lets the request through to the capability verdict.
	ActionAllow Action = "allow"
	// ActionDeny blocks the request regardless of capabilities.
	ActionDeny Action = "deny"
)

// Rule is one declarative access rule from configuration.
type Rule struct {
	// Name is a human-readable identifier for this rule.
	Name string
	// RoutePrefix limits the rule to requests whose path starts with this
	// prefix. Empty matches every route.
	RoutePrefix string
	// Condition is a CEL expression over principal and request variables.
	Condition string
	// Action is applied when the condition evaluates to true.
	Action Action
}

// Decision is the outcome of evaluating the rule set for one request.
type Decision struct {
	// Allowed is false when a deny rule matched or evaluation failed.
	Allowed bool
	// Rule is the name of the deciding rule, empty when no rule matched.
	Rule string
	// Reason is a human-readable explanation for denials.
	Reason string
}
