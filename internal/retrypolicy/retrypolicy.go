// Package retrypolicy holds the per-handler retry-delay tables the
// worker runtime consults in step 4 of its per-job lifecycle (spec §4.2):
// on handler failure, `retry_at = now + delay[attempts]`, and once
// attempts exhausts the table the job is routed to the failed queue.
//
// Unlike darigaaz86-addScan's internal/retry (a computed exponential
// backoff helper for in-process retry loops), the spec calls for a fixed
// per-attempt delay table applied across separate worker Fetch cycles,
// so Policy stores an explicit slice rather than a multiplier.
package retrypolicy

import "time"

// Policy is an ordered list of delays. Policy[0] is the delay before the
// first retry (i.e. after the first failed attempt), Policy[1] before
// the second, and so on. len(Policy) is the handler's max retry count;
// once attempts reaches len(Policy), the job is routed to the failed
// queue instead of scheduled again.
type Policy []time.Duration

// Default is the spec §4.2 default: three retries at 5m, 10m, 15m
// (MaxAttempts 4, counting the initial attempt).
func Default() Policy {
	return Policy{5 * time.Minute, 10 * time.Minute, 15 * time.Minute}
}

// FromSeconds builds a Policy from the flat `jobs.retryDelaysSeconds`
// config list (spec §6).
func FromSeconds(seconds []int) Policy {
	if len(seconds) == 0 {
		return Default()
	}
	p := make(Policy, len(seconds))
	for i, s := range seconds {
		p[i] = time.Duration(s) * time.Second
	}
	return p
}

// MaxAttempts is the number of attempts this policy allows before a job
// is routed to the failed queue, counting the initial attempt.
func (p Policy) MaxAttempts() int { return len(p) + 1 }

// DelayFor returns the delay to apply after the given 1-indexed attempt
// number has failed, and whether a retry should be scheduled at all
// (false once attempts is exhausted).
func (p Policy) DelayFor(attempt int) (time.Duration, bool) {
	idx := attempt - 1
	if idx < 0 || idx >= len(p) {
		return 0, false
	}
	return p[idx], true
}

// Registry maps a handler_ref to the Policy it should use. Handlers not
// present fall back to the Policy passed to NewRegistry.
type Registry struct {
	policies map[string]Policy
	fallback Policy
}

func NewRegistry(fallback Policy) *Registry {
	return &Registry{policies: make(map[string]Policy), fallback: fallback}
}

func (r *Registry) Set(handlerRef string, p Policy) {
	r.policies[handlerRef] = p
}

func (r *Registry) For(handlerRef string) Policy {
	if p, ok := r.policies[handlerRef]; ok {
		return p
	}
	return r.fallback
}
