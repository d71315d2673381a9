package policy

import (
	"sort"
)

// Matcher selects the highest-precedence active rule whose condition holds
// for a fact map. Matching is a pure function of the rule set and the facts:
// repeated calls with the same inputs return the same rule.
type Matcher struct {
	eval    *Evaluator
	metrics *Metrics
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithMatcherMetrics records match hits.
func WithMatcherMetrics(m *Metrics) MatcherOption {
	return func(matcher *Matcher) {
		matcher.metrics = m
	}
}

// NewMatcher creates a matcher using the given evaluator.
func NewMatcher(eval *Evaluator, opts ...MatcherOption) *Matcher {
	m := &Matcher{eval: eval}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match returns the first active rule, in (priority asc, id asc) order, whose
// condition evaluates true against the facts. Returns nil when nothing
// matches.
func (m *Matcher) Match(facts FactMap, rules []Rule) *Rule {
	ordered := orderRules(rules)
	for i := range ordered {
		if !ordered[i].Active {
			continue
		}
		if m.eval.Evaluate(ordered[i].Condition, facts) {
			if m.metrics != nil {
				m.metrics.RulesMatched.Inc()
			}
			return &ordered[i]
		}
	}
	return nil
}

// orderRules returns a sorted copy so matching never mutates the caller's
// slice. Lower priority number wins; ties break on lowest ID.
func orderRules(rules []Rule) []Rule {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}
