// Package classify decides, for every item failure, whether the chunk engine
// skips the item, rolls back and retries, or fails the step.
//
// Rules are explicit (name, predicate, limit) tuples built when the step is
// configured. Each rule counts the occurrences it has classified; once the
// count reaches the limit the rule is exhausted and stays so for the rest of
// the step.
package classify

import (
	"errors"
	"fmt"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// Category is the outcome of classifying a failure.
type Category int

const (
	// Fatal fails the step with the original cause.
	Fatal Category = iota
	// Skip drops the failing item, or the whole chunk for write failures.
	Skip
	// Retry rolls the chunk back and re-drives it one position at a time.
	Retry
)

func (c Category) String() string {
	switch c {
	case Skip:
		return "SKIP"
	case Retry:
		return "RETRY"
	default:
		return "FATAL"
	}
}

// Predicate reports whether a rule applies to a failure cause.
type Predicate func(err error) bool

// ByName matches errors by registered name, message substring or type name.
func ByName(name string) Predicate {
	return func(err error) bool {
		return exception.IsErrorOfType(err, name)
	}
}

// Is matches errors wrapping target.
func Is(target error) Predicate {
	return func(err error) bool {
		return errors.Is(err, target)
	}
}

// SkippableFlag matches BatchErrors created with isSkippable set.
func SkippableFlag() Predicate {
	return func(err error) bool {
		var be *exception.BatchError
		return errors.As(err, &be) && be.IsSkippable()
	}
}

// RetryableFlag matches BatchErrors created with isRetryable set.
func RetryableFlag() Predicate {
	return func(err error) bool {
		var be *exception.BatchError
		return errors.As(err, &be) && be.IsRetryable()
	}
}

// Unlimited is the limit value of a rule that never exhausts.
const Unlimited = 0

// Rule is one classification rule. Limit <= 0 means unlimited.
type Rule struct {
	Name  string
	Match Predicate
	Limit int

	count int
}

// NewRule creates a rule. An empty name defaults to "rule".
func NewRule(name string, match Predicate, limit int) *Rule {
	if name == "" {
		name = "rule"
	}
	return &Rule{Name: name, Match: match, Limit: limit}
}

// Count returns how many failures this rule has classified.
func (r *Rule) Count() int {
	return r.count
}

// Exhausted reports whether the rule has reached its limit.
func (r *Rule) Exhausted() bool {
	return r.Limit > 0 && r.count >= r.Limit
}

func (r *Rule) String() string {
	if r.Limit > 0 {
		return fmt.Sprintf("%s(%d/%d)", r.Name, r.count, r.Limit)
	}
	return fmt.Sprintf("%s(%d)", r.Name, r.count)
}

// RuleSet is an ordered list of rules. The first rule whose predicate matches wins.
type RuleSet struct {
	rules []*Rule
}

// NewRuleSet creates a RuleSet evaluated in the given order.
func NewRuleSet(rules ...*Rule) *RuleSet {
	return &RuleSet{rules: append([]*Rule(nil), rules...)}
}

// Add appends a rule; it is evaluated after the existing rules.
func (s *RuleSet) Add(r *Rule) {
	s.rules = append(s.rules, r)
}

// Match returns the first rule whose predicate matches err, exhausted or not.
func (s *RuleSet) Match(err error) (*Rule, bool) {
	if s == nil || err == nil {
		return nil, false
	}
	for _, r := range s.rules {
		if r.Match != nil && r.Match(err) {
			return r, true
		}
	}
	return nil, false
}

// Rules returns the rules in evaluation order.
func (s *RuleSet) Rules() []*Rule {
	if s == nil {
		return nil
	}
	return s.rules
}

// Len returns the number of rules.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}
