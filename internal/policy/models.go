package policy

import (
	"encoding/json"
	"time"

	dErrors "verdict/pkg/domain-errors"
)

// FactMap carries the request attributes rules are evaluated against
// (requester role, organization, amount, risk score, resource tags). It is
// built per request by the caller and never persisted by the engine.
type FactMap map[string]any

// Operator enumerates the supported condition operators. Conditions are pure
// data; there is no expression language and nothing in a condition is ever
// executed or interpolated into a query.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpFieldEquals Operator = "field_equals"
)

// IsValid checks if the operator is one of the supported values.
func (o Operator) IsValid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpContains, OpIn, OpNotIn, OpFieldEquals:
		return true
	}
	return false
}

// Condition is a single structured predicate over a fact map.
//
//   - equals / not_equals / contains compare the named fact against Value.
//   - in / not_in test membership of the named fact in Values.
//   - field_equals compares the named fact against the fact named by
//     OtherField ("same company" / "same department" style rules).
type Condition struct {
	Field      string   `json:"field"`
	Operator   Operator `json:"operator"`
	Value      any      `json:"value,omitempty"`
	Values     []any    `json:"values,omitempty"`
	OtherField string   `json:"other_field,omitempty"`
}

// Action is what a matching rule does to the request.
type Action string

const (
	ActionApprove Action = "approve"
	ActionDeny    Action = "deny"
)

// IsValid checks if the action is one of the supported values.
func (a Action) IsValid() bool {
	return a == ActionApprove || a == ActionDeny
}

// Rule is an authored auto-decision policy. Among active rules matching a
// fact map exactly one is selected: the lowest priority number wins, ties
// broken by lowest ID.
type Rule struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Condition   Condition  `json:"condition"`
	Action      Action     `json:"action"`
	Priority    int        `json:"priority"`
	Active      bool       `json:"active"`
	Confidence  int        `json:"confidence"`
	CreatedBy   string     `json:"created_by"`
	ApprovedBy  string     `json:"approved_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
}

// ParseCondition decodes and validates a raw JSON condition. Parsing happens
// once at authoring/load time; evaluation never re-parses.
func ParseCondition(raw json.RawMessage) (Condition, error) {
	var c Condition
	if err := json.Unmarshal(raw, &c); err != nil {
		return Condition{}, dErrors.Wrap(err, dErrors.CodeValidation, "condition is not valid JSON").WithFields("condition")
	}
	if err := c.Validate(); err != nil {
		return Condition{}, err
	}
	return c, nil
}

// Validate checks structural invariants of a condition at authoring time.
// The evaluator tolerates anything, but malformed conditions are rejected
// before they ever reach the rule table.
func (c Condition) Validate() error {
	if c.Field == "" {
		return dErrors.New(dErrors.CodeValidation, "condition field is required").WithFields("condition.field")
	}
	if !c.Operator.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown condition operator %q", c.Operator).WithFields("condition.operator")
	}
	switch c.Operator {
	case OpIn, OpNotIn:
		if len(c.Values) == 0 {
			return dErrors.Newf(dErrors.CodeValidation, "operator %q requires a non-empty value set", c.Operator).WithFields("condition.values")
		}
	case OpFieldEquals:
		if c.OtherField == "" {
			return dErrors.New(dErrors.CodeValidation, "field_equals requires other_field").WithFields("condition.other_field")
		}
	default:
		if c.Value == nil {
			return dErrors.Newf(dErrors.CodeValidation, "operator %q requires a value", c.Operator).WithFields("condition.value")
		}
	}
	return nil
}

// Validate checks a rule before it is stored.
func (r Rule) Validate() error {
	var fields []string
	if r.Name == "" {
		fields = append(fields, "name")
	}
	if !r.Action.IsValid() {
		fields = append(fields, "action")
	}
	if r.Priority < 1 {
		fields = append(fields, "priority")
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		fields = append(fields, "confidence")
	}
	if len(fields) > 0 {
		return dErrors.New(dErrors.CodeValidation, "rule has missing or malformed fields").WithFields(fields...)
	}
	return r.Condition.Validate()
}
