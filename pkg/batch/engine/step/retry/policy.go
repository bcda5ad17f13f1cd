// Package retry provides the retry policy of a chunk step: the ordered rules
// whose matching failures roll the chunk back and re-drive it one item at a
// time, plus the optional backoff applied before the re-drive starts.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/classify"
)

// Policy is the ordered set of retryable-exception rules of one step execution.
type Policy struct {
	*classify.RuleSet

	backoff *backoff.ExponentialBackOff
}

// NewPolicy creates a Policy evaluating rules in order, with no backoff.
func NewPolicy(rules ...*classify.Rule) *Policy {
	return &Policy{RuleSet: classify.NewRuleSet(rules...)}
}

// WithBackoff enables an exponential wait between a rollback and the re-drive.
// A zero initial interval disables it.
func (p *Policy) WithBackoff(initial, maxInterval time.Duration, multiplier float64) *Policy {
	if initial <= 0 {
		p.backoff = nil
		return p
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.RandomizationFactor = 0
	if multiplier > 0 {
		b.Multiplier = multiplier
	}
	if maxInterval > 0 {
		b.MaxInterval = maxInterval
	}
	b.Reset()
	p.backoff = b
	return p
}

// ShouldRetry reports whether err matches a rule that still has retries left.
func (p *Policy) ShouldRetry(err error) bool {
	r, ok := p.Match(err)
	return ok && !r.Exhausted()
}

// RetryCount returns the number of retries counted across all rules.
func (p *Policy) RetryCount() int {
	total := 0
	for _, r := range p.Rules() {
		total += r.Count()
	}
	return total
}

// NextBackoff returns the wait before the next re-drive, growing with every call.
func (p *Policy) NextBackoff() time.Duration {
	if p.backoff == nil {
		return 0
	}
	d := p.backoff.NextBackOff()
	if d < 0 {
		return p.backoff.MaxInterval
	}
	return d
}

// ResetBackoff restarts the backoff sequence, after recovery completes.
func (p *Policy) ResetBackoff() {
	if p.backoff != nil {
		p.backoff.Reset()
	}
}

// Wait blocks for NextBackoff or until ctx is done.
func (p *Policy) Wait(ctx context.Context) error {
	d := p.NextBackoff()
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ classify.Matcher = (*Policy)(nil)
