// Package condition evaluates declarative field/operator/value conditions
// against flat records.
//
// A record matches a condition list when every condition holds (AND). An
// empty list always matches. Evaluation never panics and never returns an
// error: malformed or type-incompatible conditions are simply non-matching.
// Authoring tools call Validate to surface those problems up front.
package condition

// FieldType is the declared type of a record field.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldDatetime FieldType = "datetime"
	FieldSelect   FieldType = "select"
	FieldArray    FieldType = "array"
)

// FieldTypes lists every field type in display order.
var FieldTypes = []FieldType{FieldText, FieldNumber, FieldDatetime, FieldSelect, FieldArray}

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldNumber, FieldDatetime, FieldSelect, FieldArray:
		return true
	}
	return false
}

// Operator is a comparison applied between a record field and a condition value.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorContains    Operator = "contains"
	OperatorStartsWith  Operator = "startsWith"
	OperatorEndsWith    Operator = "endsWith"
	OperatorGreaterThan Operator = "greaterThan"
	OperatorLessThan    Operator = "lessThan"
	OperatorIn          Operator = "in"
	OperatorNotIn       Operator = "notIn"
)

// Operators lists every operator in display order.
var Operators = []Operator{
	OperatorEquals, OperatorContains, OperatorStartsWith, OperatorEndsWith,
	OperatorGreaterThan, OperatorLessThan, OperatorIn, OperatorNotIn,
}

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OperatorEquals, OperatorContains, OperatorStartsWith, OperatorEndsWith,
		OperatorGreaterThan, OperatorLessThan, OperatorIn, OperatorNotIn:
		return true
	}
	return false
}

// ListValued reports whether the operator expects a list as condition value.
func (o Operator) ListValued() bool {
	return o == OperatorIn || o == OperatorNotIn
}

// AbsentPolicy decides how a condition on a missing (or nil) field behaves.
type AbsentPolicy int

const (
	// AbsentNoMatch makes every operator false on an absent field.
	AbsentNoMatch AbsentPolicy = iota
	// AbsentVacuousNotIn makes notIn true on an absent field; every other
	// operator stays false.
	AbsentVacuousNotIn
)

func (p AbsentPolicy) String() string {
	if p == AbsentVacuousNotIn {
		return "vacuous-not-in"
	}
	return "no-match"
}
