package zarr

import (
	"encoding/json"
	"fmt"

	"github.com/qri-io/tilereader/shaped"
)

// StructuredType is the dtype of a zarr array: either a basic NumPy typestr
// or a list of named, possibly nested fields.
type StructuredType struct {
	Fieldname string
	Dtype     shaped.Dtype
	Shape     interface{}
	Children  []StructuredType
}

var (
	_ json.Unmarshaler = (*StructuredType)(nil)
	_ json.Marshaler   = StructuredType{}
)

// BasicType wraps a basic dtype
func BasicType(dt shaped.Dtype) StructuredType {
	return StructuredType{Dtype: dt}
}

func ParseStructuredType(d interface{}) (StructuredType, error) {
	switch v := d.(type) {
	case string:
		// string is a Dtype literal
		dt, err := shaped.ParseDtype(v)
		if err != nil {
			return StructuredType{}, err
		}
		return StructuredType{Dtype: dt}, nil
	case []interface{}:
		return parseStructuredTypeSlice(v)
	default:
		return StructuredType{}, fmt.Errorf("unexpected type %T", d)
	}
}

func parseStructuredTypeSlice(d []interface{}) (StructuredType, error) {
	if len(d) == 0 {
		return StructuredType{}, fmt.Errorf("invalid structured Dtype: empty field list")
	}
	// a list of fields rather than a single [name, type, shape] field
	if _, ok := d[0].([]interface{}); ok {
		parent := StructuredType{}
		for i, el := range d {
			ch, err := ParseStructuredType(el)
			if err != nil {
				return StructuredType{}, fmt.Errorf("element %d: %w", i, err)
			}
			parent.Children = append(parent.Children, ch)
		}
		return parent, nil
	} else if len(d) < 2 {
		return StructuredType{}, fmt.Errorf("invalid structured Dtype: %d elements is too short", len(d))
	}

	t := StructuredType{}
	fieldName, ok := d[0].(string)
	if !ok {
		return StructuredType{}, fmt.Errorf("invalid structured Dtype: field name must be a string. got %T", d[0])
	}
	t.Fieldname = fieldName

	switch x := d[1].(type) {
	case string:
		dtype, err := shaped.ParseDtype(x)
		if err != nil {
			return StructuredType{}, err
		}
		t.Dtype = dtype
	case []interface{}:
		ch, err := ParseStructuredType(x)
		if err != nil {
			return StructuredType{}, err
		}
		t.Children = append(t.Children, ch)
	default:
		return t, fmt.Errorf("invalid structured Dtype: want either string or Structured Type. got %T", d[1])
	}

	if len(d) > 2 {
		t.Shape = d[2]
	}

	return t, nil
}

func (st StructuredType) IsBasic() bool {
	return st.Fieldname == "" && st.Shape == nil && len(st.Children) == 0
}

func (st StructuredType) MarshalJSON() ([]byte, error) {
	if st.IsBasic() {
		return st.Dtype.MarshalJSON()
	}

	if st.Fieldname == "" {
		return json.Marshal(st.Children)
	}

	d := []interface{}{st.Fieldname}
	if len(st.Children) > 0 {
		d = append(d, st.Children[0])
	} else {
		d = append(d, st.Dtype)
	}
	if st.Shape != nil {
		d = append(d, st.Shape)
	}

	return json.Marshal(d)
}

func (st *StructuredType) UnmarshalJSON(d []byte) error {
	var v interface{}
	if err := json.Unmarshal(d, &v); err != nil {
		return err
	}

	t, err := ParseStructuredType(v)
	if err != nil {
		return err
	}

	*st = t
	return nil
}
