package condition

// Schema describes the operator catalog for rule editors.
type Schema struct {
	FieldTypes []FieldTypeSchema `json:"fieldTypes"`
	Operators  []OperatorSchema  `json:"operators"`
}

// FieldTypeSchema describes a field type and the operators valid for it.
type FieldTypeSchema struct {
	Name      FieldType  `json:"name"`
	Label     string     `json:"label"`
	Operators []Operator `json:"operators"`
}

// OperatorSchema describes an operator for the UI.
type OperatorSchema struct {
	Name  Operator `json:"name"`
	Label string   `json:"label"`
	List  bool     `json:"list"` // value must be a list
}

var fieldTypeLabels = map[FieldType]string{
	FieldText:     "Text",
	FieldNumber:   "Number",
	FieldDatetime: "Date & time",
	FieldSelect:   "Select",
	FieldArray:    "List",
}

var operatorLabels = map[Operator]string{
	OperatorEquals:      "equals",
	OperatorContains:    "contains",
	OperatorStartsWith:  "starts with",
	OperatorEndsWith:    "ends with",
	OperatorGreaterThan: "greater than",
	OperatorLessThan:    "less than",
	OperatorIn:          "is one of",
	OperatorNotIn:       "is not one of",
}

// Compatible returns the operators valid for a field type, in display order.
func Compatible(ft FieldType) []Operator {
	var ops []Operator
	for _, op := range Operators {
		if IsCompatible(op, ft) {
			ops = append(ops, op)
		}
	}
	return ops
}

// IsCompatible reports whether op may be applied to a field of type ft.
func IsCompatible(op Operator, ft FieldType) bool {
	_, ok := dispatch[dispatchKey{op: op, ft: ft}]
	return ok
}

// Label returns the human readable operator name.
func (o Operator) Label() string {
	if l, ok := operatorLabels[o]; ok {
		return l
	}
	return string(o)
}

// GetSchema returns the full operator catalog.
func GetSchema() Schema {
	s := Schema{
		FieldTypes: make([]FieldTypeSchema, 0, len(FieldTypes)),
		Operators:  make([]OperatorSchema, 0, len(Operators)),
	}
	for _, ft := range FieldTypes {
		s.FieldTypes = append(s.FieldTypes, FieldTypeSchema{
			Name:      ft,
			Label:     fieldTypeLabels[ft],
			Operators: Compatible(ft),
		})
	}
	for _, op := range Operators {
		s.Operators = append(s.Operators, OperatorSchema{Name: op, Label: op.Label(), List: op.ListValued()})
	}
	return s
}
