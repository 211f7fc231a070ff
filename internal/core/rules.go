package core

import (
	"context"

	"odmcore/pkg/frame"
)

// Severity captures rule outcomes.
type Severity string

const (
	// SeverityBlock rejects the append.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Table    string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// validationError folds the blocking violations into a ValidationError.
func (r Result) validationError() ValidationError {
	var verr ValidationError
	for _, v := range r.Violations {
		if v.Severity != SeverityBlock {
			continue
		}
		if verr.Table == "" {
			verr.Table = v.Table
		}
		verr.Problems = append(verr.Problems, v.Message)
	}
	return verr
}

// TableView is a read-only table set.
type TableView interface {
	Table(name string) *frame.Frame
}

// Rule defines an evaluation executed before an append is committed. state
// is the candidate table set after the merge, incoming the source as given.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, state, incoming TableView) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
// Schema conformance is not part of it: the store runs that rule on every
// source before merging, whatever engine is configured.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewSampleSiteReferenceRule())
	engine.Register(NewSiteCoordinatesRule())
	return engine
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, state, incoming TableView) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, state, incoming)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}
