package granule

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/qri-io/tilereader/sectionspec"
	"github.com/qri-io/tilereader/shaped"
)

var (
	cdfMagic  = []byte("CDF")
	hdf5Magic = []byte("\x89HDF\r\n\x1a\n")
)

// netcdfDriver reads NetCDF classic, 64-bit offset and CDF5 files, and
// NetCDF-4 / HDF5 files
type netcdfDriver struct{}

func (netcdfDriver) Name() string { return "netcdf" }

func (netcdfDriver) Accepts(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	return isNetCDF(f)
}

func isNetCDF(r io.Reader) bool {
	head := make([]byte, len(hdf5Magic))
	n, _ := io.ReadFull(r, head)
	head = head[:n]
	if bytes.HasPrefix(head, hdf5Magic) {
		return true
	}
	if len(head) < 4 || !bytes.HasPrefix(head, cdfMagic) {
		return false
	}
	switch head[3] {
	case 1, 2, 5:
		return true
	}
	return false
}

func (netcdfDriver) Open(path string) (Handle, error) {
	g, err := netcdf.Open(path)
	if err != nil {
		return nil, err
	}
	return &netcdfHandle{group: g, vars: g.ListVariables()}, nil
}

// dimensioner is implemented by both the CDF and HDF5 readers
type dimensioner interface {
	GetDimension(name string) (uint64, bool)
}

type netcdfHandle struct {
	group  api.Group
	vars   []string
	closed bool
}

func (h *netcdfHandle) getter(name string) (api.VarGetter, error) {
	if h.closed {
		return nil, ErrClosed
	}
	if !slices.Contains(h.vars, name) {
		return nil, fmt.Errorf("%w: %q", ErrNoVariable, name)
	}
	return h.group.GetVarGetter(name)
}

func (h *netcdfHandle) Variables() []string {
	return append([]string{}, h.vars...)
}

func (h *netcdfHandle) Dimensions(name string) ([]string, error) {
	vg, err := h.getter(name)
	if err != nil {
		return nil, err
	}
	return vg.Dimensions(), nil
}

func (h *netcdfHandle) Shape(name string) ([]int, error) {
	vg, err := h.getter(name)
	if err != nil {
		return nil, err
	}
	return h.shape(vg)
}

// shape takes the outer extent from the variable length, since record
// dimensions grow, and inner extents from the file's dimension table. Readers
// without one fall back to inspecting the first row.
func (h *netcdfHandle) shape(vg api.VarGetter) ([]int, error) {
	dims := vg.Dimensions()
	if len(dims) == 0 {
		return []int{}, nil
	}
	shape := make([]int, len(dims))
	shape[0] = int(vg.Len())

	if d, ok := h.group.(dimensioner); ok {
		found := true
		for i := 1; i < len(dims); i++ {
			n, ok := d.GetDimension(dims[i])
			if !ok {
				found = false
				break
			}
			shape[i] = int(n)
		}
		if found {
			return shape, nil
		}
	}

	if shape[0] == 0 {
		return shape, nil
	}
	row, err := vg.GetSlice(0, 1)
	if err != nil {
		return nil, err
	}
	_, rowShape, err := flatten(row)
	if err != nil {
		return nil, err
	}
	if len(rowShape) != len(dims) {
		return nil, fmt.Errorf("variable has %d dimensions, first row has rank %d", len(dims), len(rowShape))
	}
	copy(shape[1:], rowShape[1:])
	return shape, nil
}

func (h *netcdfHandle) ReadSlice(name string, seg sectionspec.Segment) (*shaped.Array, error) {
	vg, err := h.getter(name)
	if err != nil {
		return nil, err
	}
	shape, err := h.shape(vg)
	if err != nil {
		return nil, fmt.Errorf("reading shape of %q: %w", name, err)
	}

	var arr *shaped.Array
	if len(shape) == 0 {
		v, err := vg.Values()
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", name, err)
		}
		data, _, err := flatten(v)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", name, err)
		}
		if arr, err = shaped.NewArray(nil, data); err != nil {
			return nil, err
		}
	} else {
		if arr, err = readRows(vg, shape, vg.Dimensions(), seg); err != nil {
			return nil, fmt.Errorf("reading %q: %w", name, err)
		}
	}

	applyCF(arr, func(key string) (interface{}, bool) {
		return getAttr(vg.Attributes(), key)
	})
	return arr, nil
}

// readRows fetches the outer range of the segment in one call, then cuts the
// inner axes out of the rows in memory
func readRows(vg api.VarGetter, shape []int, dims []string, seg sectionspec.Segment) (*shaped.Array, error) {
	start, stop := ResolveBounds(dims, shape, seg)
	count := make([]int, len(shape))
	for i := range shape {
		count[i] = stop[i] - start[i]
	}

	if count[0] == 0 {
		dt, ok := goTypes[vg.GoType()]
		if !ok {
			return nil, fmt.Errorf("unsupported element type %q", vg.GoType())
		}
		data, err := dt.MakeSlice(0)
		if err != nil {
			return nil, err
		}
		return shaped.NewArray(count, data)
	}

	raw, err := vg.GetSlice(int64(start[0]), int64(stop[0]))
	if err != nil {
		return nil, err
	}
	data, _, err := flatten(raw)
	if err != nil {
		return nil, err
	}
	rows, err := shaped.NewArray(append([]int{count[0]}, shape[1:]...), data)
	if err != nil {
		return nil, err
	}
	return rows.Region(append([]int{0}, start[1:]...), append([]int{count[0]}, stop[1:]...))
}

var goTypes = map[string]shaped.Dtype{
	"int8":    shaped.Int8,
	"uint8":   shaped.Uint8,
	"int16":   shaped.Int16,
	"uint16":  shaped.Uint16,
	"int32":   shaped.Int32,
	"uint32":  shaped.Uint32,
	"int64":   shaped.Int64,
	"uint64":  shaped.Uint64,
	"float32": shaped.Float32,
	"float64": shaped.Float64,
}

// flatten turns the nested slices the netcdf readers return into a flat row
// major slice and its shape. Scalars flatten to a single element.
func flatten(v interface{}) (interface{}, []int, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, nil, fmt.Errorf("no value")
	}
	if rv.Kind() != reflect.Slice {
		out := reflect.MakeSlice(reflect.SliceOf(rv.Type()), 1, 1)
		out.Index(0).Set(rv)
		if _, err := shaped.DtypeOf(out.Interface()); err != nil {
			return nil, nil, err
		}
		return out.Interface(), nil, nil
	}

	elem := rv.Type()
	var shape []int
	for x := rv; elem.Kind() == reflect.Slice; elem = elem.Elem() {
		shape = append(shape, x.Len())
		if x.Len() > 0 {
			x = x.Index(0)
		} else {
			x = reflect.Zero(elem.Elem())
		}
	}

	out := reflect.MakeSlice(reflect.SliceOf(elem), 0, shaped.Size(shape))
	var walk func(x reflect.Value, depth int) error
	walk = func(x reflect.Value, depth int) error {
		if x.Len() != shape[depth] {
			return &shaped.ShapeError{Reason: fmt.Sprintf("ragged array at depth %d", depth), Want: shape, Got: []int{x.Len()}}
		}
		if depth == len(shape)-1 {
			out = reflect.AppendSlice(out, x)
			return nil
		}
		for i := 0; i < x.Len(); i++ {
			if err := walk(x.Index(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rv, 0); err != nil {
		return nil, nil, err
	}

	if _, err := shaped.DtypeOf(out.Interface()); err != nil {
		return nil, nil, err
	}
	return out.Interface(), shape, nil
}

func (h *netcdfHandle) GlobalAttribute(name string) (interface{}, bool) {
	if h.closed {
		return nil, false
	}
	return getAttr(h.group.Attributes(), name)
}

func getAttr(m api.AttributeMap, name string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	return m.Get(name)
}

func (h *netcdfHandle) Attribute(variable, name string) (interface{}, bool) {
	vg, err := h.getter(variable)
	if err != nil {
		return nil, false
	}
	return getAttr(vg.Attributes(), name)
}

func (h *netcdfHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.group.Close()
	return nil
}
