// Package tilereader extracts tiles of gridded, swath and time series data
// from granules and packages them for the next stage of an ingest pipeline.
package tilereader

import (
	"github.com/qri-io/tilereader/shaped"
)

// Tile is the message passed between pipeline stages. Tiles arrive with only
// a Summary; a reader fills in Data.
type Tile struct {
	Summary *Summary
	Data    *TileData
}

// Summary describes where a tile comes from. It is produced upstream and
// treated as read only here.
type Summary struct {
	TileID      string
	DatasetName string
	// Granule is the URI of the source file, e.g. file:/data/mur.nc
	Granule string
	// SectionSpec addresses the part of the granule the tile covers
	SectionSpec string
	BBox        *BBox
	Stats       *DataStats
	Attributes  []Attribute
}

// Attribute is an extra named value carried with a summary
type Attribute struct {
	Name   string
	Values []string
}

type BBox struct {
	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
}

// DataStats summarizes the valid values of a tile. Times are seconds since the
// Unix epoch.
type DataStats struct {
	Min     float64
	Max     float64
	Mean    float64
	Count   int64
	MinTime int64
	MaxTime int64
}

// Clone returns a deep copy of the summary
func (s *Summary) Clone() *Summary {
	if s == nil {
		return nil
	}
	c := *s
	if s.BBox != nil {
		b := *s.BBox
		c.BBox = &b
	}
	if s.Stats != nil {
		st := *s.Stats
		c.Stats = &st
	}
	if s.Attributes != nil {
		c.Attributes = make([]Attribute, len(s.Attributes))
		for i, a := range s.Attributes {
			c.Attributes[i] = Attribute{Name: a.Name, Values: append([]string(nil), a.Values...)}
		}
	}
	return &c
}

// TileData holds exactly one payload
type TileData struct {
	TileID  string
	Payload Payload
}

// Kind names a payload variant, and the reader that produces it
type Kind string

const (
	KindGrid       Kind = "grid"
	KindSwath      Kind = "swath"
	KindTimeSeries Kind = "timeseries"
)

// Payload is implemented only by *GridTile, *SwathTile and *TimeSeriesTile
type Payload interface {
	Kind() Kind
	// Coordinates returns the latitude, longitude and variable arrays every
	// variant carries
	Coordinates() (lat, lon, data *shaped.ShapedArray)
	Meta() []MetaData
	payload()
}

// MetaData is a named auxiliary array read alongside the primary variable
type MetaData struct {
	Name string
	Data *shaped.ShapedArray
}

// GridTile covers a rectangle of a regular grid. Latitude and Longitude are
// independent one dimensional axes.
type GridTile struct {
	Latitude     *shaped.ShapedArray
	Longitude    *shaped.ShapedArray
	VariableData *shaped.ShapedArray
	// Time is seconds since the Unix epoch, nil when the granule has none
	Time     *int64
	MetaData []MetaData
}

// SwathTile covers samples along a satellite track. Latitude, Longitude and
// Time are per sample, sharing the leading extent of VariableData.
type SwathTile struct {
	Latitude     *shaped.ShapedArray
	Longitude    *shaped.ShapedArray
	VariableData *shaped.ShapedArray
	// Time holds float64 seconds since the Unix epoch per sample, NaN where
	// the sample time is missing
	Time     *shaped.ShapedArray
	MetaData []MetaData
}

// TimeSeriesTile covers one time step of a set of fixed locations, indexed by
// an instance dimension
type TimeSeriesTile struct {
	Latitude     *shaped.ShapedArray
	Longitude    *shaped.ShapedArray
	VariableData *shaped.ShapedArray
	Time         *int64
	MetaData     []MetaData
}

var (
	_ Payload = (*GridTile)(nil)
	_ Payload = (*SwathTile)(nil)
	_ Payload = (*TimeSeriesTile)(nil)
)

func (*GridTile) Kind() Kind { return KindGrid }
func (t *GridTile) Coordinates() (lat, lon, data *shaped.ShapedArray) {
	return t.Latitude, t.Longitude, t.VariableData
}
func (t *GridTile) Meta() []MetaData { return t.MetaData }
func (*GridTile) payload()           {}

func (*SwathTile) Kind() Kind { return KindSwath }
func (t *SwathTile) Coordinates() (lat, lon, data *shaped.ShapedArray) {
	return t.Latitude, t.Longitude, t.VariableData
}
func (t *SwathTile) Meta() []MetaData { return t.MetaData }
func (*SwathTile) payload()           {}

func (*TimeSeriesTile) Kind() Kind { return KindTimeSeries }
func (t *TimeSeriesTile) Coordinates() (lat, lon, data *shaped.ShapedArray) {
	return t.Latitude, t.Longitude, t.VariableData
}
func (t *TimeSeriesTile) Meta() []MetaData { return t.MetaData }
func (*TimeSeriesTile) payload()           {}
