// Package testgranule writes small zarr granules for tests
package testgranule

import (
	"fmt"
	"path/filepath"

	"github.com/qri-io/tilereader/shaped"
	"github.com/qri-io/tilereader/zarr"
)

// Var is one array of a test granule
type Var struct {
	Name  string
	Dims  []string
	Shape []int
	// Chunks defaults to Shape
	Chunks []int
	Data   interface{}
	// Fill is written as the zarr fill_value
	Fill  interface{}
	Attrs map[string]interface{}
}

// Write creates a zarr group at dir/name holding vars and returns its file:
// URI
func Write(dir, name string, global map[string]interface{}, vars ...Var) (string, error) {
	path := filepath.Join(dir, name)
	store, err := zarr.NewLocalStore(path)
	if err != nil {
		return "", err
	}
	if err := zarr.CreateGroup(store, "", zarr.Attributes(global)); err != nil {
		return "", err
	}

	for _, v := range vars {
		data, err := shaped.NewArray(v.Shape, v.Data)
		if err != nil {
			return "", fmt.Errorf("%s: %w", v.Name, err)
		}
		chunks := v.Chunks
		if chunks == nil {
			chunks = make([]int, len(v.Shape))
			for i, d := range v.Shape {
				chunks[i] = max(d, 1)
			}
		}
		attrs := zarr.Attributes{}
		for k, val := range v.Attrs {
			attrs[k] = val
		}
		if v.Dims != nil {
			dims := make([]interface{}, len(v.Dims))
			for i, d := range v.Dims {
				dims[i] = d
			}
			attrs[zarr.DimensionsAttr] = dims
		}

		meta := &zarr.ArrayMeta{
			Shape:     v.Shape,
			Chunks:    chunks,
			Dtype:     zarr.BasicType(data.Dtype()),
			FillValue: v.Fill,
		}
		a, err := zarr.Create(store, v.Name, meta, attrs)
		if err != nil {
			return "", fmt.Errorf("%s: %w", v.Name, err)
		}
		if err := a.Write(data); err != nil {
			return "", fmt.Errorf("%s: %w", v.Name, err)
		}
	}
	return "file:" + store.Base(), nil
}

// Seq returns n float32 values starting at from, step apart
func Seq(n int, from, step float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = from + float32(i)*step
	}
	return out
}
