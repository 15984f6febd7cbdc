package granule

import (
	"reflect"

	"github.com/qri-io/tilereader/shaped"
)

// CF attribute names
const (
	AttrFillValue    = "_FillValue"
	AttrMissingValue = "missing_value"
	AttrScaleFactor  = "scale_factor"
	AttrAddOffset    = "add_offset"
	AttrUnits        = "units"
)

type attrFunc func(name string) (interface{}, bool)

// Float64 converts a numeric attribute value to float64. Single element
// slices are treated as scalars.
func Float64(v interface{}) (float64, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if rv.Len() != 1 {
			return 0, false
		}
		rv = rv.Index(0)
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// String converts a text attribute value to a string
func String(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	case []string:
		if len(s) == 1 {
			return s[0], true
		}
	case []interface{}:
		if len(s) == 1 {
			return String(s[0])
		}
	}
	return "", false
}

// applyCF sets the fill value and packing a variable's attributes declare.
// A fill value already set by the store format wins over attributes.
func applyCF(a *shaped.Array, attr attrFunc) {
	if a.FillValue == nil {
		for _, name := range []string{AttrFillValue, AttrMissingValue} {
			if v, ok := attr(name); ok {
				if f, ok := Float64(v); ok {
					a.FillValue = &f
					break
				}
			}
		}
	}

	scale, hasScale := numericAttr(attr, AttrScaleFactor)
	offset, hasOffset := numericAttr(attr, AttrAddOffset)
	if !hasScale && !hasOffset {
		return
	}
	if !hasScale {
		scale = 1
	}
	a.Packing = &shaped.Packing{
		Scale:  scale,
		Offset: offset,
		Dtype:  shaped.UnpackedDtype(a.Dtype()),
	}
}

func numericAttr(attr attrFunc, name string) (float64, bool) {
	v, ok := attr(name)
	if !ok {
		return 0, false
	}
	return Float64(v)
}
