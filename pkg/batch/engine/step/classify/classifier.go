package classify

import (
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// Reasons attached to FATAL decisions.
const (
	ReasonNotClassified = "not classified"
	ReasonLimitExceeded = "limit exceeded"
)

// Matcher is an ordered rule source. skip.Policy and retry.Policy implement it.
type Matcher interface {
	Match(err error) (*Rule, bool)
	Rules() []*Rule
}

// Decision is the result of classifying one failure.
type Decision struct {
	Category Category
	// Rule is the rule that produced the decision. For FATAL it is the exhausted
	// rule that matched, or nil when no rule matched.
	Rule   *Rule
	Reason string
}

// RuleName returns the name of the deciding rule, or "" when none matched.
func (d Decision) RuleName() string {
	if d.Rule == nil {
		return ""
	}
	return d.Rule.Name
}

// Classifier maps failures to SKIP, RETRY or FATAL.
//
// Retry rules are consulted before skip rules, so a failure that matches both
// is retried until its retry rule is exhausted and skipped afterwards. A failure
// whose only matching rules are exhausted is FATAL.
//
// A Classifier belongs to one step execution and is not safe for concurrent use.
type Classifier struct {
	skip  Matcher
	retry Matcher
}

// New creates a Classifier. Either matcher may be nil.
func New(skip, retry Matcher) *Classifier {
	return &Classifier{skip: skip, retry: retry}
}

// Peek classifies err without counting it.
// Repeated calls against unchanged rule state return the same decision.
func (c *Classifier) Peek(err error) Decision {
	var exhausted *Rule

	if c.retry != nil {
		if r, ok := c.retry.Match(err); ok {
			if !r.Exhausted() {
				return Decision{Category: Retry, Rule: r}
			}
			exhausted = r
		}
	}
	if c.skip != nil {
		if r, ok := c.skip.Match(err); ok {
			if !r.Exhausted() {
				return Decision{Category: Skip, Rule: r}
			}
			if exhausted == nil {
				exhausted = r
			}
		}
	}
	if exhausted != nil {
		return Decision{Category: Fatal, Rule: exhausted, Reason: ReasonLimitExceeded}
	}
	return Decision{Category: Fatal, Reason: ReasonNotClassified}
}

// Classify classifies a failure and counts it against the deciding rule.
func (c *Classifier) Classify(f *exception.ItemFailure) Decision {
	d := c.Peek(f)
	if d.Category != Fatal {
		d.Rule.count++
	}
	return d
}

// FatalError builds the error a step fails with for a FATAL decision.
func (c *Classifier) FatalError(f *exception.ItemFailure, d Decision) *exception.FatalError {
	reason := d.Reason
	if reason == "" {
		reason = ReasonNotClassified
	}
	return &exception.FatalError{Failure: f, Reason: reason, Rule: d.RuleName()}
}

// Counts returns the per-rule counts keyed "skip/<name>" and "retry/<name>".
func (c *Classifier) Counts() map[string]int {
	out := make(map[string]int)
	collect := func(prefix string, m Matcher) {
		if m == nil {
			return
		}
		for _, r := range m.Rules() {
			out[prefix+r.Name] += r.count
		}
	}
	collect("skip/", c.skip)
	collect("retry/", c.retry)
	return out
}

// Restore sets rule counts from a snapshot produced by Counts, so limits carry over a restart.
func (c *Classifier) Restore(counts map[string]int) {
	restore := func(prefix string, m Matcher) {
		if m == nil {
			return
		}
		seen := make(map[string]bool)
		for _, r := range m.Rules() {
			if seen[r.Name] {
				continue
			}
			seen[r.Name] = true
			r.count = counts[prefix+r.Name]
		}
	}
	restore("skip/", c.skip)
	restore("retry/", c.retry)
}
