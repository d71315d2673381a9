package policy

import (
	"log/slog"
	"strings"
)

// Evaluator decides whether a single condition holds for a fact map. It never
// returns an error and never panics: a missing field, an unknown operator, or
// otherwise malformed data evaluates to false, is logged, and counts against
// the evaluation-failure metric so the match loop keeps going.
type Evaluator struct {
	logger  *slog.Logger
	metrics *Metrics
}

type EvaluatorOption func(*Evaluator)

func WithEvaluatorMetrics(m *Metrics) EvaluatorOption {
	return func(e *Evaluator) {
		e.metrics = m
	}
}

// NewEvaluator creates an evaluator. A nil logger falls back to slog.Default.
func NewEvaluator(logger *slog.Logger, opts ...EvaluatorOption) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate returns true when the condition holds for the fact map.
func (e *Evaluator) Evaluate(c Condition, facts FactMap) bool {
	if c.Field == "" || !c.Operator.IsValid() {
		e.fail(c, "malformed condition")
		return false
	}

	factValue, ok := facts[c.Field]
	if !ok {
		e.fail(c, "fact missing")
		return false
	}

	switch c.Operator {
	case OpEquals:
		return valuesEqual(factValue, c.Value)
	case OpNotEquals:
		return !valuesEqual(factValue, c.Value)
	case OpContains:
		return containsValue(factValue, c.Value)
	case OpIn:
		return memberOf(factValue, c.Values)
	case OpNotIn:
		return !memberOf(factValue, c.Values)
	case OpFieldEquals:
		otherValue, otherOK := facts[c.OtherField]
		if !otherOK {
			e.fail(c, "other fact missing")
			return false
		}
		return valuesEqual(factValue, otherValue)
	}
	return false
}

func (e *Evaluator) fail(c Condition, reason string) {
	e.logger.Warn("condition evaluation failed",
		"field", c.Field,
		"operator", string(c.Operator),
		"reason", reason,
	)
	if e.metrics != nil {
		e.metrics.EvaluationFailures.Inc()
	}
}

// valuesEqual compares two fact/condition values. JSON decoding turns all
// numbers into float64, so numeric comparison goes through float64 to keep
// 5 == 5.0 true across int-typed facts and JSON-typed condition values.
func valuesEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// containsValue tests membership of the condition value in a collection-valued
// fact. String facts fall back to substring containment.
func containsValue(factValue, conditionValue any) bool {
	switch fv := factValue.(type) {
	case []any:
		return memberOf(conditionValue, fv)
	case []string:
		s, ok := conditionValue.(string)
		if !ok {
			return false
		}
		for _, item := range fv {
			if item == s {
				return true
			}
		}
		return false
	case string:
		s, ok := conditionValue.(string)
		return ok && strings.Contains(fv, s)
	}
	return false
}

func memberOf(value any, set []any) bool {
	for _, candidate := range set {
		if valuesEqual(value, candidate) {
			return true
		}
	}
	return false
}
