// Package skip provides the skip policy of a chunk step: the ordered rules
// whose matching failures drop the failing item instead of failing the step.
package skip

import (
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/classify"
)

// Policy is the ordered set of skippable-exception rules of one step execution.
type Policy struct {
	*classify.RuleSet
}

// NewPolicy creates a Policy evaluating rules in order.
func NewPolicy(rules ...*classify.Rule) *Policy {
	return &Policy{RuleSet: classify.NewRuleSet(rules...)}
}

// ShouldSkip reports whether err matches a rule that still has skips left.
// It does not count the failure; the classifier does.
func (p *Policy) ShouldSkip(err error) bool {
	r, ok := p.Match(err)
	return ok && !r.Exhausted()
}

// SkipCount returns the number of skips counted across all rules.
func (p *Policy) SkipCount() int {
	total := 0
	for _, r := range p.Rules() {
		total += r.Count()
	}
	return total
}

var _ classify.Matcher = (*Policy)(nil)
