package granule

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/qri-io/tilereader/sectionspec"
	"github.com/qri-io/tilereader/shaped"
	"github.com/qri-io/tilereader/zarr"
)

// zarrDriver reads zarr v2 directory stores whose root is a group
type zarrDriver struct{}

func (zarrDriver) Name() string { return "zarr" }

func (zarrDriver) Accepts(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.IsDir() {
		return false
	}
	for _, key := range []zarr.MetaType{zarr.MTGroup, zarr.MTMetadata} {
		if _, err := os.Stat(filepath.Join(path, string(key))); err == nil {
			return true
		}
	}
	return false
}

func (zarrDriver) Open(path string) (Handle, error) {
	store, err := zarr.NewLocalStore(path)
	if err != nil {
		return nil, err
	}
	group, err := zarr.OpenGroup(store, "")
	if err != nil {
		return nil, err
	}
	names, err := group.ArrayNames()
	if err != nil {
		return nil, err
	}
	return &zarrHandle{
		group:  group,
		names:  names,
		arrays: map[string]*zarr.Array{},
	}, nil
}

type zarrHandle struct {
	group  *zarr.Hierarchy
	names  []string
	arrays map[string]*zarr.Array
}

func (h *zarrHandle) array(name string) (*zarr.Array, error) {
	if h.arrays == nil {
		return nil, ErrClosed
	}
	if a, ok := h.arrays[name]; ok {
		return a, nil
	}
	if !slices.Contains(h.names, name) {
		return nil, fmt.Errorf("%w: %q", ErrNoVariable, name)
	}
	a, err := h.group.Array(name)
	if errors.Is(err, zarr.ErrNotfound) {
		return nil, fmt.Errorf("%w: %q", ErrNoVariable, name)
	} else if err != nil {
		return nil, err
	}
	h.arrays[name] = a
	return a, nil
}

func (h *zarrHandle) Variables() []string {
	return append([]string{}, h.names...)
}

func (h *zarrHandle) Dimensions(name string) ([]string, error) {
	a, err := h.array(name)
	if err != nil {
		return nil, err
	}
	return a.Dimensions(), nil
}

func (h *zarrHandle) Shape(name string) ([]int, error) {
	a, err := h.array(name)
	if err != nil {
		return nil, err
	}
	return a.Shape(), nil
}

func (h *zarrHandle) ReadSlice(name string, seg sectionspec.Segment) (*shaped.Array, error) {
	a, err := h.array(name)
	if err != nil {
		return nil, err
	}
	start, stop := ResolveBounds(a.Dimensions(), a.Shape(), seg)
	arr, err := a.ReadRegion(start, stop)
	if err != nil {
		return nil, err
	}
	applyCF(arr, func(key string) (interface{}, bool) {
		return h.Attribute(name, key)
	})
	return arr, nil
}

func (h *zarrHandle) GlobalAttribute(name string) (interface{}, bool) {
	v, ok := h.group.Attributes()[name]
	return v, ok
}

func (h *zarrHandle) Attribute(variable, name string) (interface{}, bool) {
	a, err := h.array(variable)
	if err != nil {
		return nil, false
	}
	v, ok := a.Attributes()[name]
	return v, ok
}

func (h *zarrHandle) Close() error {
	h.arrays = nil
	return nil
}
