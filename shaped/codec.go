package shaped

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// ShapedArray is the portable encoding of an n-dimensional array: a dtype
// tag, the extent of each axis outermost first, and the flattened row-major
// values in the dtype's byte order. A ShapedArray is never modified after
// Encode builds it.
type ShapedArray struct {
	Dtype Dtype
	Shape []int
	Data  []byte
}

// Len is the number of elements the shape describes
func (s *ShapedArray) Len() int {
	return Size(s.Shape)
}

// Encode flattens a native array into a ShapedArray. Values equal to the
// array's fill value become NaN, promoting integer arrays to floating point
// when a sentinel is present. Packed arrays are unpacked after masking. The
// rewrite is one-way: Decode never restores the sentinel.
func Encode(a *Array) (*ShapedArray, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	data, err := normalize(a)
	if err != nil {
		return nil, err
	}
	dt, err := DtypeOf(data)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	buf.Grow(Size(a.Shape) * dt.ByteSize)
	if err := binary.Write(buf, dt.Order(), data); err != nil {
		return nil, fmt.Errorf("encoding %s values: %w", dt, err)
	}

	return &ShapedArray{
		Dtype: dt,
		Shape: append([]int{}, a.Shape...),
		Data:  buf.Bytes(),
	}, nil
}

// Decode restores the native array a ShapedArray encodes, with the same shape
// and dtype. Missing values stay NaN.
func Decode(s *ShapedArray) (*Array, error) {
	if !s.Dtype.Numeric() {
		return nil, fmt.Errorf("cannot decode non-numeric dtype %q", s.Dtype)
	}
	n := Size(s.Shape)
	if want := n * s.Dtype.ByteSize; len(s.Data) != want {
		return nil, fmt.Errorf("shaped array holds %d bytes, shape %v of %s needs %d", len(s.Data), s.Shape, s.Dtype, want)
	}
	data, err := s.Dtype.MakeSlice(n)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(s.Data), s.Dtype.Order(), data); err != nil {
		return nil, fmt.Errorf("decoding %s values: %w", s.Dtype, err)
	}
	return &Array{Shape: append([]int{}, s.Shape...), Data: data}, nil
}

func isFill(v, fill float64) bool {
	if math.IsNaN(fill) {
		return math.IsNaN(v)
	}
	return v == fill
}

func normalize(a *Array) (interface{}, error) {
	if a.Packing != nil {
		return unpack(a)
	}
	if a.FillValue == nil {
		return a.Data, nil
	}
	fill := *a.FillValue

	switch d := a.Data.(type) {
	case []float32:
		return maskFloats(d, float32(fill)), nil
	case []float64:
		return maskFloats(d, fill), nil
	}

	vals := a.Float64s()
	hit := false
	for _, v := range vals {
		if isFill(v, fill) {
			hit = true
			break
		}
	}
	if !hit {
		return a.Data, nil
	}

	if a.Dtype().ByteSize <= 2 {
		out := make([]float32, len(vals))
		for i, v := range vals {
			if isFill(v, fill) {
				out[i] = float32(math.NaN())
			} else {
				out[i] = float32(v)
			}
		}
		return out, nil
	}
	for i, v := range vals {
		if isFill(v, fill) {
			vals[i] = math.NaN()
		}
	}
	return vals, nil
}

func maskFloats[T float32 | float64](src []T, fill T) []T {
	out := make([]T, len(src))
	nan := T(math.NaN())
	fillNaN := fill != fill
	for i, v := range src {
		if v == fill || (fillNaN && v != v) {
			out[i] = nan
		} else {
			out[i] = v
		}
	}
	return out
}

func unpack(a *Array) (interface{}, error) {
	p := a.Packing
	vals := a.Float64s()
	for i, v := range vals {
		if a.FillValue != nil && isFill(v, *a.FillValue) {
			vals[i] = math.NaN()
			continue
		}
		vals[i] = v*p.Scale + p.Offset
	}

	switch {
	case p.Dtype.Equivalent(Float32):
		out := make([]float32, len(vals))
		for i, v := range vals {
			out[i] = float32(v)
		}
		return out, nil
	case p.Dtype.Equivalent(Float64):
		return vals, nil
	}
	return nil, fmt.Errorf("cannot unpack into dtype %q", p.Dtype)
}

// UnpackedDtype picks the dtype packed values of src are unpacked into:
// float32 for sources of 16 bits or fewer, float64 otherwise.
func UnpackedDtype(src Dtype) Dtype {
	if src.ByteSize <= 2 {
		return Float32
	}
	return Float64
}

// Values returns the array as float64 with fill values masked to NaN and
// packing applied, the values Encode would carry
func (a *Array) Values() ([]float64, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	data, err := normalize(a)
	if err != nil {
		return nil, err
	}
	return (&Array{Shape: a.Shape, Data: data}).Float64s(), nil
}
