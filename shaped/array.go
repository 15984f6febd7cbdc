package shaped

import (
	"fmt"
	"math"
	"reflect"
)

// Array is a native n-dimensional array: a flat, row-major typed slice and the
// extent of each axis, outermost first. A nil or empty Shape is a scalar.
type Array struct {
	Shape []int
	// Data is one of []int8, []uint8, []int16, []uint16, []int32, []uint32,
	// []int64, []uint64, []float32 or []float64
	Data interface{}
	// FillValue is the source format's no-data sentinel, nil if it has none
	FillValue *float64
	// Packing is set when stored values are CF packed integers
	Packing *Packing
}

// Packing describes CF scale_factor / add_offset packing. Unpacked values are
// stored*Scale + Offset, materialized as Dtype.
type Packing struct {
	Scale  float64
	Offset float64
	Dtype  Dtype
}

// ShapeError reports arrays whose extents cannot be combined or do not match
// the shape a tile requires.
type ShapeError struct {
	Variable string
	Want     []int
	Got      []int
	Reason   string
}

func (e *ShapeError) Error() string {
	msg := "shape mismatch"
	if e.Variable != "" {
		msg += fmt.Sprintf(" for variable %q", e.Variable)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Want != nil || e.Got != nil {
		msg += fmt.Sprintf(" (want %v, got %v)", e.Want, e.Got)
	}
	return msg
}

// NewArray builds an array, checking that data is a supported flat slice
// holding exactly one element per cell of shape.
func NewArray(shape []int, data interface{}) (*Array, error) {
	a := &Array{Shape: shape, Data: data}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Size is the number of elements an array of the given shape holds
func Size(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Validate checks the element type and length of Data against Shape
func (a *Array) Validate() error {
	if _, err := DtypeOf(a.Data); err != nil {
		return err
	}
	for i, d := range a.Shape {
		if d < 0 {
			return fmt.Errorf("negative extent %d on axis %d", d, i)
		}
	}
	if l := reflect.ValueOf(a.Data).Len(); l != Size(a.Shape) {
		return &ShapeError{Reason: fmt.Sprintf("%d elements for %d cells", l, Size(a.Shape)), Got: a.Shape}
	}
	return nil
}

// Dtype returns the element dtype of the array
func (a *Array) Dtype() Dtype {
	dt, _ := DtypeOf(a.Data)
	return dt
}

// Len is the number of elements
func (a *Array) Len() int {
	return reflect.ValueOf(a.Data).Len()
}

// Region extracts the hyperslab [start, stop) on every axis
func (a *Array) Region(start, stop []int) (*Array, error) {
	if len(start) != len(a.Shape) || len(stop) != len(a.Shape) {
		return nil, fmt.Errorf("region rank %d/%d does not match array rank %d", len(start), len(stop), len(a.Shape))
	}
	count := make([]int, len(a.Shape))
	for i := range a.Shape {
		if start[i] < 0 || start[i] > stop[i] || stop[i] > a.Shape[i] {
			return nil, fmt.Errorf("region [%d:%d] out of range for axis %d of extent %d", start[i], stop[i], i, a.Shape[i])
		}
		count[i] = stop[i] - start[i]
	}

	n := Size(count)
	out := reflect.MakeSlice(reflect.TypeOf(a.Data), n, n).Interface()
	if err := CopyBlock(out, count, make([]int, len(count)), a.Data, a.Shape, start, count); err != nil {
		return nil, err
	}
	return &Array{Shape: count, Data: out, FillValue: a.FillValue, Packing: a.Packing}, nil
}

// Concat joins arrays along their outermost axis. All parts must share rank,
// inner extents and element type.
func Concat(parts ...*Array) (*Array, error) {
	switch len(parts) {
	case 0:
		return nil, fmt.Errorf("nothing to concatenate")
	case 1:
		return parts[0], nil
	}

	first := parts[0]
	if len(first.Shape) == 0 {
		return nil, &ShapeError{Reason: "cannot concatenate scalars", Got: first.Shape}
	}

	outer := 0
	data := reflect.MakeSlice(reflect.TypeOf(first.Data), 0, 0)
	for i, p := range parts {
		if reflect.TypeOf(p.Data) != reflect.TypeOf(first.Data) {
			return nil, &ShapeError{Reason: fmt.Sprintf("segment %d holds %T, segment 0 holds %T", i, p.Data, first.Data)}
		}
		if !sameInner(first.Shape, p.Shape) {
			return nil, &ShapeError{Reason: fmt.Sprintf("segment %d extents differ", i), Want: first.Shape, Got: p.Shape}
		}
		outer += p.Shape[0]
		data = reflect.AppendSlice(data, reflect.ValueOf(p.Data))
	}

	shape := append([]int{outer}, first.Shape[1:]...)
	return &Array{Shape: shape, Data: data.Interface(), FillValue: first.FillValue, Packing: first.Packing}, nil
}

func sameInner(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 1; i < len(a); i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CopyBlock copies a block of count elements per axis from src, starting at
// srcOff, into dst at dstOff. dst and src are flat row-major slices of the
// same element type laid out as dstShape and srcShape.
func CopyBlock(dst interface{}, dstShape, dstOff []int, src interface{}, srcShape, srcOff []int, count []int) error {
	n := len(count)
	if len(dstShape) != n || len(dstOff) != n || len(srcShape) != n || len(srcOff) != n {
		return fmt.Errorf("block rank mismatch")
	}
	dv, sv := reflect.ValueOf(dst), reflect.ValueOf(src)
	if dv.Type() != sv.Type() {
		return fmt.Errorf("cannot copy %T into %T", src, dst)
	}
	for d := 0; d < n; d++ {
		if count[d] == 0 {
			return nil
		}
		if dstOff[d] < 0 || dstOff[d]+count[d] > dstShape[d] || srcOff[d] < 0 || srcOff[d]+count[d] > srcShape[d] {
			return fmt.Errorf("block out of range on axis %d", d)
		}
	}
	if n == 0 {
		reflect.Copy(dv, sv)
		return nil
	}

	dstStrides, srcStrides := strides(dstShape), strides(srcShape)
	run := count[n-1]
	idx := make([]int, n-1)
	for {
		do, so := dstOff[n-1], srcOff[n-1]
		for d := 0; d < n-1; d++ {
			do += (dstOff[d] + idx[d]) * dstStrides[d]
			so += (srcOff[d] + idx[d]) * srcStrides[d]
		}
		reflect.Copy(dv.Slice(do, do+run), sv.Slice(so, so+run))

		d := n - 2
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < count[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return nil
		}
	}
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

type number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

func toFloat64s[T number](s []T) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = float64(v)
	}
	return out
}

// Float64s returns the values of the array as float64, without applying the
// fill value or packing
func (a *Array) Float64s() []float64 {
	switch d := a.Data.(type) {
	case []int8:
		return toFloat64s(d)
	case []uint8:
		return toFloat64s(d)
	case []int16:
		return toFloat64s(d)
	case []uint16:
		return toFloat64s(d)
	case []int32:
		return toFloat64s(d)
	case []uint32:
		return toFloat64s(d)
	case []int64:
		return toFloat64s(d)
	case []uint64:
		return toFloat64s(d)
	case []float32:
		return toFloat64s(d)
	case []float64:
		return append([]float64(nil), d...)
	}
	return nil
}

// CountValid counts elements that are not NaN
func (a *Array) CountValid() int {
	n := 0
	for _, v := range a.Float64s() {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}
