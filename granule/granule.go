// Package granule opens source data files by URI and reads bounded slices of
// their variables, independent of the file encoding.
package granule

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"

	"github.com/qri-io/tilereader/sectionspec"
	"github.com/qri-io/tilereader/shaped"
)

var (
	// ErrNoVariable is wrapped by handles asked for a variable the granule
	// does not hold
	ErrNoVariable = errors.New("no such variable")
	// ErrUnknownFormat means no registered driver accepts a granule
	ErrUnknownFormat = errors.New("unrecognized granule format")
	// ErrClosed is returned by reads on a closed handle
	ErrClosed = errors.New("granule handle is closed")
)

// Handle is an open granule. A handle belongs to a single extraction and must
// be closed by it.
type Handle interface {
	// Variables lists variable names
	Variables() []string
	// Dimensions names the axes of a variable, outermost first. Formats that
	// do not name dimensions return nil.
	Dimensions(name string) ([]string, error)
	// Shape is the extent of each axis of a variable
	Shape(name string) ([]int, error)
	// ReadSlice reads the part of a variable a segment bounds. The array
	// carries the variable's fill value and packing, still applied.
	ReadSlice(name string, seg sectionspec.Segment) (*shaped.Array, error)
	GlobalAttribute(name string) (interface{}, bool)
	Attribute(variable, name string) (interface{}, bool)
	Close() error
}

// Driver opens one family of file encodings
type Driver interface {
	Name() string
	// Accepts reports whether the driver can read the file or directory at
	// path, without reading more than its header
	Accepts(path string) bool
	Open(path string) (Handle, error)
}

var (
	driversMu sync.RWMutex
	drivers   []Driver
)

func init() {
	drivers = []Driver{zarrDriver{}, compressedDriver{}, netcdfDriver{}}
}

// RegisterDriver adds a driver. Drivers registered later are consulted
// before the built in ones.
func RegisterDriver(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers = append([]Driver{d}, drivers...)
}

// DriverFor returns the first driver that accepts path
func DriverFor(path string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	for _, d := range drivers {
		if d.Accepts(path) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// UnsupportedSchemeError is returned for granule URIs this package cannot
// resolve to a local file
type UnsupportedSchemeError struct {
	URI    string
	Scheme string
	Err    error
}

func (e *UnsupportedSchemeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unsupported granule uri %q: %s", e.URI, e.Err)
	}
	if e.Scheme == "" {
		return fmt.Sprintf("granule uri %q has no scheme, want file:", e.URI)
	}
	return fmt.Sprintf("unsupported granule uri scheme %q in %q, want file:", e.Scheme, e.URI)
}

func (e *UnsupportedSchemeError) Unwrap() error { return e.Err }

// ParseURI resolves a file: granule URI to a local path. file:/abs,
// file:///abs and file://localhost/abs are accepted.
func ParseURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", &UnsupportedSchemeError{URI: uri, Err: err}
	}
	if u.Scheme != "file" {
		return "", &UnsupportedSchemeError{URI: uri, Scheme: u.Scheme}
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", &UnsupportedSchemeError{URI: uri, Scheme: u.Scheme, Err: fmt.Errorf("remote host %q", u.Host)}
	}

	path := u.Path
	if u.Opaque != "" {
		path = u.Opaque
	}
	if path == "" {
		return "", &UnsupportedSchemeError{URI: uri, Scheme: u.Scheme, Err: errors.New("empty path")}
	}
	return path, nil
}

// Open resolves uri and opens it with the first driver that accepts it. The
// scheme is checked before the file system is touched.
func Open(uri string) (Handle, error) {
	path, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening granule: %w", err)
	}

	d, err := DriverFor(path)
	if err != nil {
		return nil, err
	}
	h, err := d.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s granule %q: %w", d.Name(), path, err)
	}
	return h, nil
}

// ResolveBounds maps a segment onto the axes of a variable. Axes are matched
// by dimension name; when the variable does not name its dimensions, clauses
// apply to axes in order. Axes the segment does not mention are read in full
// and stops past an axis extent are clamped to it.
func ResolveBounds(dims []string, shape []int, seg sectionspec.Segment) (start, stop []int) {
	start = make([]int, len(shape))
	stop = append([]int{}, shape...)

	named := len(dims) == len(shape)
	for _, d := range dims {
		if d == "" {
			named = false
		}
	}

	for i := range shape {
		var (
			b  sectionspec.Bound
			ok bool
		)
		if named {
			b, ok = seg.Get(dims[i])
		} else if i < len(seg.Bounds) {
			b, ok = seg.Bounds[i], true
		}
		if !ok {
			continue
		}
		stop[i] = min(b.Stop, shape[i])
		start[i] = min(b.Start, stop[i])
	}
	return start, stop
}
