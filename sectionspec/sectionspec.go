// Package sectionspec parses the hyperslab addressing language tiles use to
// name the part of a granule they cover:
//
//	spec    = segment (';' segment)*
//	segment = clause (',' clause)*
//	clause  = dimName ':' start ':' stop
//
// start and stop are non-negative integers with start <= stop; stop is
// exclusive. Every segment of a spec names the same set of dimensions.
package sectionspec

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	segmentSep = ";"
	clauseSep  = ","
	boundSep   = ":"
)

// Bound is the half open range [Start, Stop) on one named dimension
type Bound struct {
	Name  string
	Start int
	Stop  int
}

// Len is the number of indices the bound covers
func (b Bound) Len() int { return b.Stop - b.Start }

func (b Bound) String() string {
	return b.Name + boundSep + strconv.Itoa(b.Start) + boundSep + strconv.Itoa(b.Stop)
}

// Segment is an ordered set of bounds, one per dimension. Clause order is the
// axis order used when a variable does not name its dimensions.
type Segment struct {
	Bounds []Bound
}

// Get returns the bound for dimension name
func (s Segment) Get(name string) (Bound, bool) {
	for _, b := range s.Bounds {
		if b.Name == name {
			return b, true
		}
	}
	return Bound{}, false
}

// Names lists dimension names in clause order
func (s Segment) Names() []string {
	names := make([]string, len(s.Bounds))
	for i, b := range s.Bounds {
		names[i] = b.Name
	}
	return names
}

func (s Segment) String() string {
	parts := make([]string, len(s.Bounds))
	for i, b := range s.Bounds {
		parts[i] = b.String()
	}
	return strings.Join(parts, clauseSep)
}

// Format renders segments back into canonical spec text
func Format(segments []Segment) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = s.String()
	}
	return strings.Join(parts, segmentSep)
}

// ParseError reports malformed spec text
type ParseError struct {
	Spec   string
	Clause string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parsing section spec %q", e.Spec)
	if e.Clause != "" {
		msg += fmt.Sprintf(" at clause %q", e.Clause)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// DimensionMismatchError reports a segment that names a different set of
// dimensions than the first segment of the spec
type DimensionMismatchError struct {
	Spec    string
	Segment int
	Want    []string
	Got     []string
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("section spec %q: segment %d declares dimensions %v, segment 0 declares %v", e.Spec, e.Segment, e.Got, e.Want)
}

// Parse splits spec into its segments
func Parse(spec string) ([]Segment, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, &ParseError{Spec: spec, Reason: "empty spec"}
	}

	var segments []Segment
	for _, segText := range strings.Split(spec, segmentSep) {
		seg, err := parseSegment(spec, segText)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}

	want := sortedNames(segments[0])
	for i, seg := range segments[1:] {
		if got := sortedNames(seg); !equal(want, got) {
			return nil, &DimensionMismatchError{Spec: spec, Segment: i + 1, Want: want, Got: got}
		}
	}
	return segments, nil
}

func parseSegment(spec, text string) (Segment, error) {
	if strings.TrimSpace(text) == "" {
		return Segment{}, &ParseError{Spec: spec, Reason: "empty segment"}
	}

	seg := Segment{}
	seen := map[string]bool{}
	for _, clause := range strings.Split(text, clauseSep) {
		b, err := parseClause(spec, clause)
		if err != nil {
			return Segment{}, err
		}
		if seen[b.Name] {
			return Segment{}, &ParseError{Spec: spec, Clause: clause, Reason: fmt.Sprintf("dimension %q repeated in segment", b.Name)}
		}
		seen[b.Name] = true
		seg.Bounds = append(seg.Bounds, b)
	}
	return seg, nil
}

func parseClause(spec, clause string) (Bound, error) {
	parts := strings.Split(clause, boundSep)
	if len(parts) != 3 {
		return Bound{}, &ParseError{Spec: spec, Clause: clause, Reason: "want name:start:stop"}
	}

	name := strings.TrimSpace(parts[0])
	if name == "" {
		return Bound{}, &ParseError{Spec: spec, Clause: clause, Reason: "empty dimension name"}
	}
	start, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Bound{}, &ParseError{Spec: spec, Clause: clause, Reason: "invalid start", Err: err}
	}
	stop, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return Bound{}, &ParseError{Spec: spec, Clause: clause, Reason: "invalid stop", Err: err}
	}
	if start < 0 || stop < 0 {
		return Bound{}, &ParseError{Spec: spec, Clause: clause, Reason: "bounds must be non-negative"}
	}
	if start > stop {
		return Bound{}, &ParseError{Spec: spec, Clause: clause, Reason: "start is past stop"}
	}
	return Bound{Name: name, Start: start, Stop: stop}, nil
}

func sortedNames(s Segment) []string {
	names := s.Names()
	sort.Strings(names)
	return names
}

func equal(a, b []string) bool {
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
