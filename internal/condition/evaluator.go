package condition

import (
	"strings"
)

// Condition is a single field/operator/value test.
// Value is a scalar, or a list for in/notIn.
type Condition struct {
	Field    string    `json:"field" yaml:"field"`
	Type     FieldType `json:"type,omitempty" yaml:"type,omitempty"`
	Operator Operator  `json:"operator" yaml:"operator"`
	Value    any       `json:"value" yaml:"value"`
}

// Group is a named, reusable AND-combination of conditions.
type Group struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Conditions  []Condition `json:"conditions" yaml:"conditions"`
}

// Matches reports whether the record satisfies every condition of the group
// using the default evaluator.
func (g *Group) Matches(record Record) bool {
	return defaultEvaluator.MatchesAll(record, g.Conditions)
}

// Evaluator matches records against conditions. It holds only immutable
// configuration and is safe for concurrent use.
type Evaluator struct {
	fields      map[string]FieldType
	absent      AbsentPolicy
	caseFolding bool
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithFieldTypes declares field types used when a condition has none.
func WithFieldTypes(fields map[string]FieldType) Option {
	return func(e *Evaluator) {
		for k, v := range fields {
			e.fields[k] = v
		}
	}
}

// WithAbsentPolicy sets how conditions on missing fields behave.
func WithAbsentPolicy(p AbsentPolicy) Option {
	return func(e *Evaluator) { e.absent = p }
}

// WithCaseFolding makes text comparisons case-insensitive.
func WithCaseFolding(enabled bool) Option {
	return func(e *Evaluator) { e.caseFolding = enabled }
}

// NewEvaluator creates an evaluator. The zero configuration is strict
// (case-sensitive) with AbsentNoMatch.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{fields: make(map[string]FieldType)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEvaluator = NewEvaluator()

// Matches evaluates one condition with the default evaluator.
func Matches(record Record, cond Condition) bool {
	return defaultEvaluator.Matches(record, cond)
}

// MatchesAll evaluates conditions with AND logic using the default evaluator.
// An empty list matches every record.
func MatchesAll(record Record, conds []Condition) bool {
	return defaultEvaluator.MatchesAll(record, conds)
}

// MatchesAll returns true if ALL conditions are satisfied, stopping at the
// first failure.
func (e *Evaluator) MatchesAll(record Record, conds []Condition) bool {
	for i := range conds {
		if !e.Matches(record, conds[i]) {
			return false
		}
	}
	return true
}

// MatchesGroup evaluates a group's conditions.
func (e *Evaluator) MatchesGroup(record Record, g *Group) bool {
	return e.MatchesAll(record, g.Conditions)
}

// Matches evaluates a single condition.
func (e *Evaluator) Matches(record Record, cond Condition) bool {
	if !cond.Operator.Valid() || isNil(cond.Value) {
		return false
	}

	actual, present := record.Lookup(cond.Field)
	if !present {
		return e.absent == AbsentVacuousNotIn && cond.Operator == OperatorNotIn && isList(cond.Value)
	}

	ft, ok := e.fieldType(cond, actual)
	if !ok {
		return false
	}
	fn, ok := dispatch[dispatchKey{op: cond.Operator, ft: ft}]
	if !ok {
		return false
	}
	return fn(e, actual, cond.Value)
}

// fieldType resolves the type from the condition, then the evaluator
// schema, then the record value itself.
func (e *Evaluator) fieldType(cond Condition, actual any) (FieldType, bool) {
	if cond.Type != "" {
		return cond.Type, cond.Type.Valid()
	}
	if ft, ok := e.fields[cond.Field]; ok {
		return ft, ft.Valid()
	}
	return inferType(actual, cond.Operator), true
}

func inferType(actual any, op Operator) FieldType {
	switch {
	case isNumeric(actual):
		return FieldNumber
	case isList(actual):
		return FieldArray
	}
	if _, ok := actual.(bool); ok {
		return FieldSelect
	}
	if s, ok := actual.(string); ok {
		if op == OperatorGreaterThan || op == OperatorLessThan {
			if _, err := toFloat64(s); err == nil {
				return FieldNumber
			}
			if _, ok := toTime(s); ok {
				return FieldDatetime
			}
		}
		return FieldText
	}
	if _, ok := toTime(actual); ok {
		return FieldDatetime
	}
	return FieldText
}

type evalFunc func(e *Evaluator, actual, expected any) bool

type dispatchKey struct {
	op Operator
	ft FieldType
}

// dispatch is the complete operator/field-type compatibility table. A pair
// that is not listed is a configuration error and never matches.
var dispatch = map[dispatchKey]evalFunc{
	{OperatorEquals, FieldText}:   equalsText,
	{OperatorEquals, FieldSelect}: equalsSelect,
	{OperatorEquals, FieldNumber}: equalsNumber,

	{OperatorContains, FieldText}:  containsText,
	{OperatorContains, FieldArray}: containsArray,

	{OperatorStartsWith, FieldText}: startsWith,
	{OperatorEndsWith, FieldText}:   endsWith,

	{OperatorGreaterThan, FieldNumber}:   compareNumber(func(a, b float64) bool { return a > b }),
	{OperatorGreaterThan, FieldDatetime}: compareTime(1),
	{OperatorLessThan, FieldNumber}:      compareNumber(func(a, b float64) bool { return a < b }),
	{OperatorLessThan, FieldDatetime}:    compareTime(-1),

	{OperatorIn, FieldText}:      membership(FieldText, true),
	{OperatorIn, FieldSelect}:    membership(FieldSelect, true),
	{OperatorIn, FieldNumber}:    membership(FieldNumber, true),
	{OperatorIn, FieldArray}:     membership(FieldArray, true),
	{OperatorNotIn, FieldText}:   membership(FieldText, false),
	{OperatorNotIn, FieldSelect}: membership(FieldSelect, false),
	{OperatorNotIn, FieldNumber}: membership(FieldNumber, false),
	{OperatorNotIn, FieldArray}:  membership(FieldArray, false),
}

func (e *Evaluator) textPair(actual, expected any) (string, string, bool) {
	a, ok := toText(actual)
	if !ok {
		return "", "", false
	}
	b, ok := toText(expected)
	if !ok {
		return "", "", false
	}
	if e.caseFolding {
		return fold(a), fold(b), true
	}
	return a, b, true
}

// equalsText is strict: both sides must be strings. Numbers and booleans
// are never rendered as text for comparison.
func equalsText(e *Evaluator, actual, expected any) bool {
	a, ok := asString(actual)
	if !ok {
		return false
	}
	b, ok := asString(expected)
	if !ok {
		return false
	}
	if e.caseFolding {
		return fold(a) == fold(b)
	}
	return a == b
}

// equalsSelect compares option keys exactly; case folding does not apply.
// Booleans only equal booleans and numbers only equal numbers.
func equalsSelect(e *Evaluator, actual, expected any) bool {
	if a, ok := actual.(bool); ok {
		b, ok := expected.(bool)
		return ok && a == b
	}
	if isNumeric(actual) {
		return equalsNumber(e, actual, expected)
	}
	a, ok := asString(actual)
	if !ok {
		return false
	}
	b, ok := asString(expected)
	return ok && a == b
}

// equalsNumber compares numeric kinds by value; 3 equals 3.0 but not "3".
func equalsNumber(_ *Evaluator, actual, expected any) bool {
	if !isNumeric(actual) || !isNumeric(expected) {
		return false
	}
	a, err := toFloat64(actual)
	if err != nil {
		return false
	}
	b, err := toFloat64(expected)
	return err == nil && a == b
}

func containsText(e *Evaluator, actual, expected any) bool {
	a, b, ok := e.textPair(actual, expected)
	return ok && strings.Contains(a, b)
}

// containsArray matches when any element contains the token as a substring.
func containsArray(e *Evaluator, actual, expected any) bool {
	items, ok := toList(actual)
	if !ok {
		return false
	}
	for _, item := range items {
		if containsText(e, item, expected) {
			return true
		}
	}
	return false
}

func startsWith(e *Evaluator, actual, expected any) bool {
	a, b, ok := e.textPair(actual, expected)
	return ok && strings.HasPrefix(a, b)
}

func endsWith(e *Evaluator, actual, expected any) bool {
	a, b, ok := e.textPair(actual, expected)
	return ok && strings.HasSuffix(a, b)
}

func compareNumber(cmp func(a, b float64) bool) evalFunc {
	return func(_ *Evaluator, actual, expected any) bool {
		a, err := toFloat64(actual)
		if err != nil {
			return false
		}
		b, err := toFloat64(expected)
		return err == nil && cmp(a, b)
	}
}

// compareTime returns an evaluator for chronological order; want is the
// expected sign of actual.Compare(expected).
func compareTime(want int) evalFunc {
	return func(_ *Evaluator, actual, expected any) bool {
		a, ok := toTime(actual)
		if !ok {
			return false
		}
		b, ok := toTime(expected)
		return ok && a.Compare(b) == want
	}
}

// membership implements in (want=true) and notIn (want=false). The
// condition value must be a list. An array field is a member when any of
// its elements is.
func membership(ft FieldType, want bool) evalFunc {
	return func(e *Evaluator, actual, expected any) bool {
		list, ok := toList(expected)
		if !ok {
			return false
		}
		if ft == FieldArray {
			items, ok := toList(actual)
			if !ok {
				return false
			}
			for _, item := range items {
				if e.member(item, list, inferType(item, OperatorIn)) {
					return want
				}
			}
			return !want
		}
		if isList(actual) {
			return false
		}
		return e.member(actual, list, ft) == want
	}
}

func (e *Evaluator) member(v any, list []any, ft FieldType) bool {
	for _, candidate := range list {
		var eq bool
		switch ft {
		case FieldNumber:
			eq = equalsNumber(e, v, candidate)
		case FieldSelect:
			eq = equalsSelect(e, v, candidate)
		default:
			eq = equalsText(e, v, candidate)
		}
		if eq {
			return true
		}
	}
	return false
}
