package condition

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// conditionFields has Condition's fields without its methods, so decoding
// into it does not recurse.
type conditionFields Condition

// UnmarshalJSON decodes a condition. Numbers in Value, including list
// elements, come back as float64 so JSON and YAML documents decode alike.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var f conditionFields
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return err
	}
	f.Value = normalizeValue(f.Value)
	*c = Condition(f)
	return nil
}

// UnmarshalYAML decodes a condition. YAML integers in Value become
// float64, matching UnmarshalJSON.
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	var f conditionFields
	if err := node.Decode(&f); err != nil {
		return err
	}
	f.Value = normalizeValue(f.Value)
	*c = Condition(f)
	return nil
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalizeValue(item)
		}
		return out
	}
	if isNumeric(v) {
		if f, err := toFloat64(v); err == nil {
			return f
		}
	}
	return v
}
