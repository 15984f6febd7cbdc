package tilereader

import (
	"fmt"
	"iter"
	"math"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/qri-io/tilereader/granule"
	"github.com/qri-io/tilereader/sectionspec"
	"github.com/qri-io/tilereader/shaped"
)

// Reader turns input tiles into tiles carrying one payload of its configured
// kind. A Reader holds no per call state and may be used from several
// goroutines.
type Reader struct {
	cfg  *Config
	log  hclog.Logger
	open func(uri string) (granule.Handle, error)
}

// Option configures a Reader
type Option func(*Reader)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l hclog.Logger) Option {
	return func(r *Reader) {
		r.log = l
	}
}

// WithGranuleOpener replaces granule.Open as the way granule URIs are opened
func WithGranuleOpener(open func(uri string) (granule.Handle, error)) Option {
	return func(r *Reader) {
		r.open = open
	}
}

// New builds a Reader for cfg.Kind
func New(cfg *Config, opts ...Option) (*Reader, error) {
	if cfg == nil {
		return nil, &ConfigError{Reason: "no configuration"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Reader{
		cfg:  cfg,
		log:  hclog.NewNullLogger(),
		open: granule.Open,
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.Named(cfg.Kind)
	return r, nil
}

// Kind is the payload variant this reader produces
func (r *Reader) Kind() Kind { return Kind(r.cfg.Kind) }

// Assemble reads the part of the granule in's summary addresses and yields
// the resulting tile. The sequence currently holds exactly one tile or
// exactly one error. Each range over it reads the granule again; the granule
// is closed before anything is yielded.
func (r *Reader) Assemble(in *Tile) iter.Seq2[*Tile, error] {
	return func(yield func(*Tile, error) bool) {
		out, err := r.assemble(in)
		if err != nil {
			yield(nil, err)
			return
		}
		yield(out, nil)
	}
}

// Collect gathers every tile of seq, stopping at the first error
func Collect(seq iter.Seq2[*Tile, error]) ([]*Tile, error) {
	var tiles []*Tile
	for t, err := range seq {
		if err != nil {
			return nil, err
		}
		tiles = append(tiles, t)
	}
	return tiles, nil
}

func (r *Reader) assemble(in *Tile) (*Tile, error) {
	if in == nil || in.Summary == nil {
		return nil, ErrNoSummary
	}
	if in.Data != nil {
		return nil, ErrPayloadPresent
	}
	uri, spec := in.Summary.Granule, in.Summary.SectionSpec
	segments, err := sectionspec.Parse(spec)
	if err != nil {
		return nil, err
	}

	h, err := r.open(uri)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := h.Close(); err != nil {
			r.log.Warn("closing granule", "granule", uri, "error", err)
		}
	}()

	s := r.newSlicer(h, uri, segments)
	var p Payload
	switch r.Kind() {
	case KindGrid:
		p, err = r.grid(s)
	case KindSwath:
		p, err = r.swath(s)
	case KindTimeSeries:
		p, err = r.timeSeries(s)
	default:
		err = &ConfigError{Kind: r.cfg.Kind, Reason: "unknown reader kind"}
	}
	if err != nil {
		return nil, err
	}

	summary := in.Summary.Clone()
	if summary.TileID == "" {
		summary.TileID = TileID(uri, spec)
	}
	if r.cfg.Summarize {
		if err := Summarize(summary, p); err != nil {
			return nil, err
		}
	}
	_, _, data := p.Coordinates()
	r.log.Debug("assembled tile", "granule", uri, "section_spec", spec, "tile_id", summary.TileID, "shape", data.Shape)

	return &Tile{
		Summary: summary,
		Data:    &TileData{TileID: summary.TileID, Payload: p},
	}, nil
}

// TileID derives a stable id from the granule and the section it covers
func TileID(granuleURI, spec string) string {
	return uuid.NewMD5(uuid.NameSpaceURL, []byte(granuleURI+"#"+spec)).String()
}

// core holds the variable and coordinate arrays every payload needs
type core struct {
	data, lat, lon *shaped.Array
}

type coord struct {
	name string
	a    *shaped.Array
}

func (s *slicer) core() (*core, error) {
	cfg := s.r.cfg
	data, err := s.required(cfg.Variable, roleVariable)
	if err != nil {
		return nil, err
	}
	lat, err := s.required(cfg.Latitude, roleLatitude)
	if err != nil {
		return nil, err
	}
	lon, err := s.required(cfg.Longitude, roleLongitude)
	if err != nil {
		return nil, err
	}
	return &core{data: data, lat: lat, lon: lon}, nil
}

func (c *core) encode() (lat, lon, data *shaped.ShapedArray, err error) {
	if lat, err = shaped.Encode(c.lat); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding latitude: %w", err)
	}
	if lon, err = shaped.Encode(c.lon); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding longitude: %w", err)
	}
	if data, err = shaped.Encode(c.data); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding variable data: %w", err)
	}
	return lat, lon, data, nil
}

func (r *Reader) grid(s *slicer) (Payload, error) {
	c, err := s.core()
	if err != nil {
		return nil, err
	}
	if len(c.lat.Shape) != 1 {
		return nil, &shaped.ShapeError{Variable: r.cfg.Latitude, Got: c.lat.Shape, Reason: "grid latitude must be one dimensional"}
	}
	if len(c.lon.Shape) != 1 {
		return nil, &shaped.ShapeError{Variable: r.cfg.Longitude, Got: c.lon.Shape, Reason: "grid longitude must be one dimensional"}
	}
	t, err := r.scalarTime(s)
	if err != nil {
		return nil, err
	}
	meta, err := s.meta()
	if err != nil {
		return nil, err
	}

	g := &GridTile{Time: t, MetaData: meta}
	if g.Latitude, g.Longitude, g.VariableData, err = c.encode(); err != nil {
		return nil, err
	}
	return g, nil
}

func (r *Reader) swath(s *slicer) (Payload, error) {
	c, err := s.core()
	if err != nil {
		return nil, err
	}
	if len(c.data.Shape) == 0 {
		return nil, &shaped.ShapeError{Variable: r.cfg.Variable, Reason: "swath variable has no sample axis"}
	}
	n := c.data.Shape[0]
	coords := []coord{{r.cfg.Latitude, c.lat}, {r.cfg.Longitude, c.lon}}

	var times *shaped.Array
	if r.cfg.Time != nil {
		if times, err = s.optional(*r.cfg.Time, roleTime); err != nil {
			return nil, err
		}
		if times != nil {
			coords = append(coords, coord{*r.cfg.Time, times})
		}
	}
	for _, co := range coords {
		if len(co.a.Shape) == 0 || co.a.Shape[0] != n {
			return nil, &shaped.ShapeError{
				Variable: co.name,
				Want:     []int{n},
				Got:      co.a.Shape,
				Reason:   "swath coordinates must share the variable's leading extent",
			}
		}
	}

	sw := &SwathTile{}
	if times != nil {
		if sw.Time, err = r.sampleTimes(s, *r.cfg.Time, times); err != nil {
			return nil, err
		}
	}
	if sw.MetaData, err = s.meta(); err != nil {
		return nil, err
	}
	if sw.Latitude, sw.Longitude, sw.VariableData, err = c.encode(); err != nil {
		return nil, err
	}
	return sw, nil
}

func (r *Reader) timeSeries(s *slicer) (Payload, error) {
	c, err := s.core()
	if err != nil {
		return nil, err
	}
	axis, err := r.instanceAxis(s.h, c.data)
	if err != nil {
		return nil, err
	}
	n := c.data.Shape[axis]
	for _, co := range []coord{{r.cfg.Latitude, c.lat}, {r.cfg.Longitude, c.lon}} {
		if len(co.a.Shape) != 1 || co.a.Shape[0] != n {
			return nil, &shaped.ShapeError{
				Variable: co.name,
				Want:     []int{n},
				Got:      co.a.Shape,
				Reason:   "time series coordinates must run along the instance dimension",
			}
		}
	}
	t, err := r.scalarTime(s)
	if err != nil {
		return nil, err
	}
	meta, err := s.meta()
	if err != nil {
		return nil, err
	}

	ts := &TimeSeriesTile{Time: t, MetaData: meta}
	if ts.Latitude, ts.Longitude, ts.VariableData, err = c.encode(); err != nil {
		return nil, err
	}
	return ts, nil
}

// instanceAxis is the first axis of the variable that is not the time
// dimension. Unnamed dimensions assume time is outermost.
func (r *Reader) instanceAxis(h granule.Handle, data *shaped.Array) (int, error) {
	if len(data.Shape) == 0 {
		return 0, &shaped.ShapeError{Variable: r.cfg.Variable, Reason: "time series variable has no instance axis"}
	}
	dims, err := h.Dimensions(r.cfg.Variable)
	if err != nil {
		return 0, err
	}
	if len(dims) != len(data.Shape) {
		if len(data.Shape) > 1 {
			return 1, nil
		}
		return 0, nil
	}
	for i, d := range dims {
		if d != *r.cfg.Time {
			return i, nil
		}
	}
	return 0, &shaped.ShapeError{Variable: r.cfg.Variable, Got: data.Shape, Reason: "every dimension is the time dimension"}
}

// scalarTime is the first valid sliced time sample, falling back to the
// configured day attribute. It is nil when neither is available.
func (r *Reader) scalarTime(s *slicer) (*int64, error) {
	if r.cfg.Time != nil {
		name := *r.cfg.Time
		a, err := s.optional(name, roleTime)
		if err != nil {
			return nil, err
		}
		if a != nil {
			vals, err := a.Values()
			if err != nil {
				return nil, fmt.Errorf("reading %q: %w", name, err)
			}
			for _, v := range vals {
				if math.IsNaN(v) {
					continue
				}
				dec, err := r.newTimeDecoder(s.h, name)
				if err != nil {
					return nil, err
				}
				t := dec.Decode(v)
				return &t, nil
			}
			r.log.Debug("no valid time samples in slice", "granule", s.uri, "variable", name)
		}
	}

	day, err := r.day(s.h)
	if err != nil || day == nil {
		return nil, err
	}
	t := day.Unix() + r.timeOffset()
	return &t, nil
}

// sampleTimes decodes per sample times into float64 seconds since the Unix
// epoch, NaN where a sample is missing
func (r *Reader) sampleTimes(s *slicer, name string, a *shaped.Array) (*shaped.ShapedArray, error) {
	vals, err := a.Values()
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", name, err)
	}
	dec, err := r.newTimeDecoder(s.h, name)
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		vals[i] = dec.DecodeFloat(v)
	}
	return shaped.Encode(&shaped.Array{Shape: a.Shape, Data: vals})
}
