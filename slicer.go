package tilereader

import (
	"errors"
	"fmt"
	"slices"

	"github.com/qri-io/tilereader/granule"
	"github.com/qri-io/tilereader/sectionspec"
	"github.com/qri-io/tilereader/shaped"
)

// variable roles, as reported in MissingVariableError
const (
	roleVariable  = "variable"
	roleLatitude  = "latitude"
	roleLongitude = "longitude"
	roleTime      = "time"
	roleMeta      = "meta"
)

// slicer reads variables of one open granule bounded by a section spec
type slicer struct {
	r        *Reader
	h        granule.Handle
	uri      string
	segments []sectionspec.Segment
	vars     map[string]bool
}

func (r *Reader) newSlicer(h granule.Handle, uri string, segments []sectionspec.Segment) *slicer {
	vars := map[string]bool{}
	for _, v := range h.Variables() {
		vars[v] = true
	}
	return &slicer{r: r, h: h, uri: uri, segments: segments, vars: vars}
}

// required reads a variable the tile cannot be built without
func (s *slicer) required(name, role string) (*shaped.Array, error) {
	if !s.vars[name] {
		return nil, &MissingVariableError{Granule: s.uri, Variable: name, Role: role}
	}
	return s.read(name)
}

// optional reads a variable that may be absent, returning nil if it is
func (s *slicer) optional(name, role string) (*shaped.Array, error) {
	if !s.vars[name] {
		s.r.log.Warn("optional variable not in granule, omitting", "granule", s.uri, "role", role, "variable", name)
		return nil, nil
	}
	return s.read(name)
}

// read slices name by every segment, joining the pieces along the outermost
// axis. A variable every segment bounds identically is read once.
func (s *slicer) read(name string) (*shaped.Array, error) {
	dims, err := s.h.Dimensions(name)
	if err != nil {
		return nil, fmt.Errorf("reading dimensions of %q: %w", name, err)
	}
	shape, err := s.h.Shape(name)
	if err != nil {
		return nil, fmt.Errorf("reading shape of %q: %w", name, err)
	}

	if s.sameBounds(dims, shape) {
		return s.readSegment(name, s.segments[0])
	}

	parts := make([]*shaped.Array, 0, len(s.segments))
	for _, seg := range s.segments {
		a, err := s.readSegment(name, seg)
		if err != nil {
			return nil, err
		}
		parts = append(parts, a)
	}
	out, err := shaped.Concat(parts...)
	if err != nil {
		var se *shaped.ShapeError
		if errors.As(err, &se) {
			se.Variable = name
		}
		return nil, err
	}
	return out, nil
}

func (s *slicer) readSegment(name string, seg sectionspec.Segment) (*shaped.Array, error) {
	a, err := s.h.ReadSlice(name, seg)
	if err != nil {
		return nil, fmt.Errorf("reading %q [%s] from %s: %w", name, seg, s.uri, err)
	}
	s.r.log.Trace("read slice", "variable", name, "segment", seg.String(), "shape", a.Shape)
	return a, nil
}

func (s *slicer) sameBounds(dims []string, shape []int) bool {
	start0, stop0 := granule.ResolveBounds(dims, shape, s.segments[0])
	for _, seg := range s.segments[1:] {
		start, stop := granule.ResolveBounds(dims, shape, seg)
		if !slices.Equal(start, start0) || !slices.Equal(stop, stop0) {
			return false
		}
	}
	return true
}

// meta reads every configured auxiliary variable present in the granule
func (s *slicer) meta() ([]MetaData, error) {
	var out []MetaData
	for _, name := range s.r.cfg.Meta {
		a, err := s.optional(name, roleMeta)
		if err != nil {
			return nil, err
		}
		if a == nil {
			continue
		}
		enc, err := shaped.Encode(a)
		if err != nil {
			return nil, fmt.Errorf("encoding %q: %w", name, err)
		}
		out = append(out, MetaData{Name: name, Data: enc})
	}
	return out, nil
}
