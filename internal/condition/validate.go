package condition

import (
	"github.com/deskops/itsm-engine/internal/errors"
)

// Sentinel errors returned (wrapped) by Validate.
var (
	ErrMissingField         = errors.NewStd("condition field is empty")
	ErrUnknownFieldType     = errors.NewStd("unknown field type")
	ErrUnknownOperator      = errors.NewStd("unknown operator")
	ErrIncompatibleOperator = errors.NewStd("operator not valid for field type")
	ErrInvalidValue         = errors.NewStd("invalid condition value")
)

// Validate checks a condition at authoring time. ft is the catalog type of
// the field; the condition's own Type wins when set. Evaluation never
// needs this, but a rule that fails validation can never match.
func Validate(cond Condition, ft FieldType) error {
	if cond.Type != "" {
		ft = cond.Type
	}
	invalid := func(sentinel error, detail string) error {
		return errors.Newf("%w: %s", sentinel, detail).
			Component("condition").
			Category(errors.CategoryConfiguration).
			Context("field", cond.Field).
			Context("operator", string(cond.Operator)).
			Context("field_type", string(ft)).
			Build()
	}

	switch {
	case cond.Field == "":
		return invalid(ErrMissingField, "field name is required")
	case !cond.Operator.Valid():
		return invalid(ErrUnknownOperator, string(cond.Operator))
	case !ft.Valid():
		return invalid(ErrUnknownFieldType, string(ft))
	case !IsCompatible(cond.Operator, ft):
		return invalid(ErrIncompatibleOperator, string(cond.Operator)+" on "+string(ft))
	case isNil(cond.Value):
		return invalid(ErrInvalidValue, "value is required")
	}

	if cond.Operator.ListValued() {
		if !isList(cond.Value) {
			return invalid(ErrInvalidValue, "expected a list")
		}
		return nil
	}
	if isList(cond.Value) {
		return invalid(ErrInvalidValue, "expected a single value")
	}

	// equals never coerces, so its value must already have the field's kind.
	strict := cond.Operator == OperatorEquals
	switch ft {
	case FieldNumber:
		if _, err := toFloat64(cond.Value); err != nil || (strict && !isNumeric(cond.Value)) {
			return invalid(ErrInvalidValue, "expected a number")
		}
	case FieldText:
		if _, ok := asString(cond.Value); strict && !ok {
			return invalid(ErrInvalidValue, "expected text")
		}
		if _, ok := toText(cond.Value); !ok {
			return invalid(ErrInvalidValue, "expected text")
		}
	case FieldDatetime:
		if _, ok := toTime(cond.Value); !ok {
			return invalid(ErrInvalidValue, "expected a date/time")
		}
	default:
		if _, ok := toText(cond.Value); !ok {
			return invalid(ErrInvalidValue, "expected text")
		}
	}
	return nil
}
