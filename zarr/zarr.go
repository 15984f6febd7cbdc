package zarr

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/qri-io/tilereader/shaped"
)

// FormatVersion is the zarr storage format this package reads and writes
const FormatVersion = 2

type Array struct {
	path  Path
	store Store
	mode  PersistenceMode
	meta  *ArrayMeta
	attrs Attributes
}

// Create writes array metadata (and attributes when non-nil) to the store and
// returns a writable array. Existing metadata at path is overwritten.
func Create(store Store, path string, m *ArrayMeta, attrs Attributes) (*Array, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	if m.ZarrFormat == 0 {
		m.ZarrFormat = FormatVersion
	}
	if m.Order == "" {
		m.Order = "C"
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("creating array %q: %w", path, err)
	}

	if err := putJSON(store, p.Join(string(MTArray)), m); err != nil {
		return nil, err
	}
	if attrs != nil {
		if err := putJSON(store, p.Join(string(MTAttributes)), attrs); err != nil {
			return nil, err
		}
	}

	return &Array{
		path:  p,
		store: store,
		mode:  ModeWrite,
		meta:  m,
		attrs: attrs,
	}, nil
}

func Open(store Store, path string, mode PersistenceMode) (*Array, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}

	a := &Array{
		path:  p,
		store: store,
		mode:  mode,
		meta:  &ArrayMeta{},
	}

	if err := getJSON(store, p.Join(string(MTArray)), a.meta); err != nil {
		return nil, fmt.Errorf("opening array %q: %w", path, err)
	}
	if err := a.meta.Validate(); err != nil {
		return nil, fmt.Errorf("opening array %q: %w", path, err)
	}

	a.attrs = Attributes{}
	if err := getJSON(store, p.Join(string(MTAttributes)), &a.attrs); err != nil && !errors.Is(err, ErrNotfound) {
		return nil, fmt.Errorf("reading attributes of %q: %w", path, err)
	}

	return a, nil
}

func (a *Array) Path() string {
	return a.path.String()
}

func (a *Array) Meta() *ArrayMeta { return a.meta }

func (a *Array) Attributes() Attributes { return a.attrs }

func (a *Array) Shape() []int {
	return append([]int{}, a.meta.Shape...)
}

// Dimensions returns the dimension names recorded in the array attributes, or
// nil when the array does not name them
func (a *Array) Dimensions() []string {
	dims := a.attrs.Dimensions()
	if len(dims) != len(a.meta.Shape) {
		return nil
	}
	return dims
}

// ReadAll reads the entire array
func (a *Array) ReadAll() (*shaped.Array, error) {
	return a.ReadRegion(make([]int, len(a.meta.Shape)), a.Shape())
}

// ReadRegion reads the hyperslab [start, stop) on every axis. Only chunks
// intersecting the region are fetched; chunks absent from the store read as
// the fill value. The returned array carries the fill value so callers can
// mask it.
func (a *Array) ReadRegion(start, stop []int) (*shaped.Array, error) {
	projs, err := projectRegion(start, stop, a.meta.Shape, a.meta.Chunks)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", a.Path(), err)
	}
	fill, err := a.meta.Fill()
	if err != nil {
		return nil, err
	}

	count := make([]int, len(start))
	for i := range start {
		count[i] = stop[i] - start[i]
	}
	out, err := a.meta.Dtype.Dtype.MakeSlice(shaped.Size(count))
	if err != nil {
		return nil, err
	}
	fillSlice(out, fill)

	for _, p := range projs {
		chunk, err := a.readChunk(p.ChunkCoords)
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			continue
		}
		if err := shaped.CopyBlock(out, count, p.OutSelection, chunk, a.meta.Chunks, p.ChunkSelection, p.Count); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", a.chunkKey(p.ChunkCoords), err)
		}
	}

	return &shaped.Array{Shape: count, Data: out, FillValue: fill}, nil
}

// Write stores data as the full contents of the array, splitting it into
// chunks. Partial edge chunks are padded with the fill value.
func (a *Array) Write(data *shaped.Array) error {
	if a.mode == ModeRead {
		return fmt.Errorf("array %q is read only", a.Path())
	}
	if err := data.Validate(); err != nil {
		return err
	}
	if !equalShape(data.Shape, a.meta.Shape) {
		return &shaped.ShapeError{Variable: a.Path(), Want: a.meta.Shape, Got: data.Shape}
	}
	if !data.Dtype().Equivalent(a.meta.Dtype.Dtype) {
		return fmt.Errorf("cannot write %s values to %s array %q", data.Dtype(), a.meta.Dtype.Dtype, a.Path())
	}
	fill, err := a.meta.Fill()
	if err != nil {
		return err
	}

	projs, err := projectRegion(make([]int, len(a.meta.Shape)), a.meta.Shape, a.meta.Shape, a.meta.Chunks)
	if err != nil {
		return err
	}
	chunkLen := shaped.Size(a.meta.Chunks)
	for _, p := range projs {
		chunk, err := a.meta.Dtype.Dtype.MakeSlice(chunkLen)
		if err != nil {
			return err
		}
		fillSlice(chunk, fill)
		if err := shaped.CopyBlock(chunk, a.meta.Chunks, p.ChunkSelection, data.Data, data.Shape, p.OutSelection, p.Count); err != nil {
			return err
		}
		if err := a.writeChunk(p.ChunkCoords, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (a *Array) readChunk(coords []int) (interface{}, error) {
	key := a.chunkPath(coords).String()
	f, err := a.store.Get(key)
	if errors.Is(err, ErrNotfound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := a.meta.Compressor.Decompressor(f)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", key, err)
	}
	defer r.Close()

	chunk, err := a.meta.Dtype.Dtype.MakeSlice(shaped.Size(a.meta.Chunks))
	if err != nil {
		return nil, err
	}
	if err := binary.Read(r, a.meta.Dtype.Dtype.Order(), chunk); err != nil {
		return nil, fmt.Errorf("decoding chunk %s: %w", key, err)
	}
	return chunk, nil
}

func (a *Array) writeChunk(coords []int, chunk interface{}) error {
	buf := &bytes.Buffer{}
	w, err := a.meta.Compressor.Compressor(buf)
	if err != nil {
		return err
	}
	if err := binary.Write(w, a.meta.Dtype.Dtype.Order(), chunk); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return a.store.Put(a.chunkPath(coords).String(), buf)
}

func (a *Array) chunkKey(coords []int) string {
	if len(coords) == 0 {
		return "0"
	}
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, a.meta.separator())
}

func (a *Array) chunkPath(coords []int) Path {
	return a.path.Join(strings.Split(a.chunkKey(coords), "/")...)
}

// fillSlice sets every element of a typed slice to fill. Zero fills are a
// no-op on fresh slices, and NaN cannot be stored in integer slices.
func fillSlice(data interface{}, fill *float64) {
	if fill == nil || *fill == 0 {
		return
	}
	v := reflect.ValueOf(data)
	k := v.Type().Elem().Kind()
	if math.IsNaN(*fill) && k != reflect.Float32 && k != reflect.Float64 {
		return
	}
	fv := reflect.ValueOf(*fill).Convert(v.Type().Elem())
	for i := 0; i < v.Len(); i++ {
		v.Index(i).Set(fv)
	}
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func getJSON(store Store, p Path, v interface{}) error {
	f, err := store.Get(p.String())
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}

func putJSON(store Store, p Path, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Put(p.String(), bytes.NewReader(data))
}

type PersistenceMode string

const (
	// Persistence mode:
	// ‘r’ means read only (must exist);
	ModeRead PersistenceMode = "r"
	//‘r+’ means read/write (must exist)
	ModeReadWrite PersistenceMode = "r+"
	// ‘a’ means read/write (create if doesn’t exist)
	ModeReadWriteCreate PersistenceMode = "a"
	// ‘w’ means create (overwrite if exists)
	ModeWrite PersistenceMode = "w"
	// ‘w-’ means create (fail if exists).
	ModeWriteFail PersistenceMode = "w-"
)

// Arrays can be organized into groups which can also contain other groups.
// A group is created by storing group ArrayMeta under the “.zgroup” key under
// some logical path. E.g., a group exists at the root of an array store if the
// “.zgroup” key exists in the store, and a group exists at logical path
// “foo/bar” if the “foo/bar/.zgroup” key exists in the store.
type Group struct {
	ZarrFormat int `json:"zarr_format"`
}

func (Group) MetaType() MetaType { return MTGroup }

// CreateGroup marks path as a group, with optional attributes
func CreateGroup(store Store, path string, attrs Attributes) error {
	p, err := NewPath(path)
	if err != nil {
		return err
	}
	if err := putJSON(store, p.Join(string(MTGroup)), Group{ZarrFormat: FormatVersion}); err != nil {
		return err
	}
	if attrs != nil {
		return putJSON(store, p.Join(string(MTAttributes)), attrs)
	}
	return nil
}

// Hierarchy is an opened group and the arrays directly beneath it
type Hierarchy struct {
	store        Store
	path         Path
	attrs        Attributes
	consolidated *ConsolidatedMetadata
}

// OpenGroup opens the group at path, preferring consolidated metadata when the
// group has a .zmetadata key
func OpenGroup(store Store, path string) (*Hierarchy, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	h := &Hierarchy{store: store, path: p, attrs: Attributes{}}

	cm := &ConsolidatedMetadata{}
	switch err := getJSON(store, p.Join(string(MTMetadata)), cm); {
	case err == nil:
		h.consolidated = cm
		if at, ok := cm.Metadata[string(MTAttributes)].(Attributes); ok {
			h.attrs = at
		}
		return h, nil
	case !errors.Is(err, ErrNotfound):
		return nil, fmt.Errorf("reading consolidated metadata: %w", err)
	}

	grp := Group{}
	if err := getJSON(store, p.Join(string(MTGroup)), &grp); err != nil {
		return nil, fmt.Errorf("opening group %q: %w", path, err)
	}
	if err := getJSON(store, p.Join(string(MTAttributes)), &h.attrs); err != nil && !errors.Is(err, ErrNotfound) {
		return nil, fmt.Errorf("reading group attributes: %w", err)
	}
	return h, nil
}

func (h *Hierarchy) Attributes() Attributes { return h.attrs }

// Consolidated is true when the group was read from .zmetadata
func (h *Hierarchy) Consolidated() bool { return h.consolidated != nil }

// ArrayNames lists the arrays that are direct children of the group, sorted
func (h *Hierarchy) ArrayNames() ([]string, error) {
	var keys []string
	if h.consolidated != nil {
		for k := range h.consolidated.Metadata {
			keys = append(keys, k)
		}
	} else {
		prefix := ""
		if len(h.path) > 0 {
			prefix = h.path.String() + "/"
		}
		all, err := h.store.List(prefix)
		if err != nil {
			return nil, err
		}
		for _, k := range all {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}

	var names []string
	for _, k := range keys {
		name, ok := strings.CutSuffix(k, "/"+string(MTArray))
		if ok && !strings.Contains(name, "/") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Array opens a child array read only
func (h *Hierarchy) Array(name string) (*Array, error) {
	if h.consolidated == nil {
		return Open(h.store, h.path.Join(name).String(), ModeRead)
	}

	meta, ok := h.consolidated.Metadata[name+"/"+string(MTArray)].(*ArrayMeta)
	if !ok {
		return nil, fmt.Errorf("%w: array %q", ErrNotfound, name)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("opening array %q: %w", name, err)
	}
	attrs, _ := h.consolidated.Metadata[name+"/"+string(MTAttributes)].(Attributes)
	if attrs == nil {
		attrs = Attributes{}
	}
	return &Array{
		path:  h.path.Join(name),
		store: h.store,
		mode:  ModeRead,
		meta:  meta,
		attrs: attrs,
	}, nil
}

// Consolidate gathers every metadata key beneath path into a single
// .zmetadata key, so readers can open the hierarchy with one request
func Consolidate(store Store, path string) error {
	p, err := NewPath(path)
	if err != nil {
		return err
	}
	prefix := ""
	if len(p) > 0 {
		prefix = p.String() + "/"
	}
	keys, err := store.List(prefix)
	if err != nil {
		return err
	}

	cm := ConsolidatedMetadata{ConsolidatedFormat: 1, Metadata: map[string]MetaTyper{}}
	for _, k := range keys {
		rel := strings.TrimPrefix(k, prefix)
		mt, ok := KeyMetaType(rel)
		if !ok {
			continue
		}
		var v MetaTyper
		switch mt {
		case MTArray:
			v = &ArrayMeta{}
		case MTGroup:
			v = &Group{}
		case MTAttributes:
			v = &Attributes{}
		}
		if err := getJSON(store, Path(strings.Split(k, "/")), v); err != nil {
			return fmt.Errorf("reading %q: %w", k, err)
		}
		cm.Metadata[rel] = v
	}
	return putJSON(store, p.Join(string(MTMetadata)), cm)
}

type Path []string

// NewPath normalizes a logical path: backslashes become forward slashes,
// leading and trailing slashes are stripped and runs of slashes collapse.
// "." and ".." segments are rejected.
func NewPath(posix string) (Path, error) {
	posix = strings.ReplaceAll(posix, `\`, "/")
	var p Path
	for _, seg := range strings.Split(posix, "/") {
		switch seg {
		case "":
			continue
		case ".", "..":
			return nil, fmt.Errorf("invalid path segment %q in %q", seg, posix)
		}
		p = append(p, seg)
	}
	return p, nil
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

func (p Path) Shift() (head string, ch Path) {
	switch len(p) {
	case 0:
		return "", nil
	case 1:
		return p[0], nil
	default:
		return p[0], p[1:]
	}
}

func (p Path) Join(elems ...string) Path {
	out := make(Path, 0, len(p)+len(elems))
	out = append(out, p...)
	return append(out, elems...)
}
