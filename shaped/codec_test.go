package shaped

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillValue(v float64) *float64 { return &v }

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		shape []int
		data  interface{}
	}{
		{"int8", []int{2, 2}, []int8{-1, 0, 1, 2}},
		{"uint16", []int{3}, []uint16{1, 2, 65535}},
		{"int32 cube", []int{1, 2, 3}, []int32{1, 2, 3, 4, 5, 6}},
		{"uint64", []int{2}, []uint64{0, math.MaxUint64}},
		{"float32", []int{2, 1}, []float32{1.5, -2.25}},
		{"float64 scalar", nil, []float64{42}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a, err := NewArray(c.shape, c.data)
			require.NoError(t, err)

			enc, err := Encode(a)
			require.NoError(t, err)
			want, _ := DtypeOf(c.data)
			assert.Equal(t, want.String(), enc.Dtype.String())

			dec, err := Decode(enc)
			require.NoError(t, err)
			assert.Equal(t, Size(c.shape), Size(dec.Shape))
			assert.Equal(t, len(c.shape), len(dec.Shape))
			assert.Equal(t, c.data, dec.Data)
		})
	}
}

func TestEncodeFillBecomesNaN(t *testing.T) {
	a := &Array{
		Shape:     []int{2, 3},
		Data:      []float32{1, -999, 3, -999, 5, 6},
		FillValue: fillValue(-999),
	}
	enc, err := Encode(a)
	require.NoError(t, err)
	assert.Equal(t, "<f4", enc.Dtype.String())

	dec, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, dec.Shape)
	assert.Equal(t, 4, dec.CountValid())
	vals := dec.Data.([]float32)
	assert.True(t, math.IsNaN(float64(vals[1])))
	assert.NotContains(t, vals, float32(-999))

	// the source array is left untouched
	assert.Equal(t, float32(-999), a.Data.([]float32)[1])
}

func TestEncodeIntegerFillPromotes(t *testing.T) {
	a := &Array{Shape: []int{4}, Data: []int16{1, -32768, 3, 4}, FillValue: fillValue(-32768)}
	enc, err := Encode(a)
	require.NoError(t, err)
	assert.Equal(t, "<f4", enc.Dtype.String())

	dec, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, 3, dec.CountValid())

	wide := &Array{Shape: []int{2}, Data: []int32{7, -1}, FillValue: fillValue(-1)}
	enc, err = Encode(wide)
	require.NoError(t, err)
	assert.Equal(t, "<f8", enc.Dtype.String())

	clean := &Array{Shape: []int{2}, Data: []int32{7, 8}, FillValue: fillValue(-1)}
	enc, err = Encode(clean)
	require.NoError(t, err)
	assert.Equal(t, "<i4", enc.Dtype.String())
}

func TestEncodeUnpacks(t *testing.T) {
	a := &Array{
		Shape:     []int{3},
		Data:      []int16{1656, -32768, 0},
		FillValue: fillValue(-32768),
		Packing:   &Packing{Scale: 0.01, Offset: 273.15, Dtype: Float32},
	}
	enc, err := Encode(a)
	require.NoError(t, err)
	assert.Equal(t, "<f4", enc.Dtype.String())

	dec, err := Decode(enc)
	require.NoError(t, err)
	vals := dec.Data.([]float32)
	assert.InDelta(t, 289.71, vals[0], 1e-3)
	assert.True(t, math.IsNaN(float64(vals[1])))
	assert.InDelta(t, 273.15, vals[2], 1e-3)
}

func TestEncodeNaNFill(t *testing.T) {
	a := &Array{Shape: []int{3}, Data: []float64{math.NaN(), 1, 2}, FillValue: fillValue(math.NaN())}
	enc, err := Encode(a)
	require.NoError(t, err)
	dec, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, 2, dec.CountValid())
}

func TestEncodeRejectsBadLength(t *testing.T) {
	_, err := Encode(&Array{Shape: []int{2, 2}, Data: []float32{1, 2, 3}})
	var se *ShapeError
	assert.ErrorAs(t, err, &se)

	_, err = Encode(&Array{Shape: []int{1}, Data: []string{"a"}})
	assert.Error(t, err)
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode(&ShapedArray{Dtype: Float64, Shape: []int{2}, Data: make([]byte, 8)})
	assert.Error(t, err)
}

func TestDecodeBigEndian(t *testing.T) {
	dt, err := ParseDtype(">i2")
	require.NoError(t, err)
	dec, err := Decode(&ShapedArray{Dtype: dt, Shape: []int{2}, Data: []byte{0x00, 0x01, 0x01, 0x00}})
	require.NoError(t, err)
	assert.Equal(t, []int16{1, 256}, dec.Data)
}
