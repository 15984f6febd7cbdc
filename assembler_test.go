package tilereader

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qri-io/tilereader/granule"
	"github.com/qri-io/tilereader/internal/testgranule"
	"github.com/qri-io/tilereader/sectionspec"
	"github.com/qri-io/tilereader/shaped"
)

const sstFill = -32768

var epoch1981 = time.Date(1981, 1, 1, 0, 0, 0, 0, time.UTC).Unix()

type gridFixture struct {
	// valid marks which cells of the 10x10 sst grid hold data, all missing
	// when nil
	valid     func(i int) bool
	day       string
	// noTime leaves the time variable out
	noTime    bool
	// timeUnits overrides the CF units of the time variable
	timeUnits string
	timeValue int32
	extra     []testgranule.Var
}

// writeGrid writes a one time step 10x10 sst granule shaped like a MUR L4
// file
func writeGrid(t *testing.T, f gridFixture) string {
	t.Helper()
	sst := make([]int16, 100)
	for i := range sst {
		sst[i] = sstFill
		if f.valid != nil && f.valid(i) {
			sst[i] = int16(i)
		}
	}
	global := map[string]interface{}{"title": "test grid"}
	if f.day != "" {
		global["day"] = f.day
	}
	units := "seconds since 1981-01-01 00:00:00 UTC"
	if f.timeUnits != "" {
		units = f.timeUnits
	}

	vars := []testgranule.Var{
		{
			Name: "analysed_sst", Dims: []string{"time", "lat", "lon"},
			Shape: []int{1, 10, 10}, Chunks: []int{1, 5, 5}, Data: sst,
			Fill:  float64(sstFill),
			Attrs: map[string]interface{}{"scale_factor": 0.001, "add_offset": 298.15},
		},
		{Name: "lat", Dims: []string{"lat"}, Shape: []int{10}, Data: testgranule.Seq(10, -4.5, 1)},
		{Name: "lon", Dims: []string{"lon"}, Shape: []int{10}, Data: testgranule.Seq(10, 100, 0.25)},
	}
	if !f.noTime {
		vars = append(vars, testgranule.Var{
			Name: "time", Dims: []string{"time"}, Shape: []int{1}, Data: []int32{f.timeValue},
			Attrs: map[string]interface{}{"units": units},
		})
	}
	vars = append(vars, f.extra...)

	uri, err := testgranule.Write(t.TempDir(), "grid.zarr", global, vars...)
	require.NoError(t, err)
	return uri
}

// writeSwath writes a 4x5 swath with per sample coordinates and a time per
// scan line
func writeSwath(t *testing.T) string {
	t.Helper()
	uri, err := testgranule.Write(t.TempDir(), "swath.zarr", map[string]interface{}{"title": "test swath"},
		testgranule.Var{Name: "radiance", Dims: []string{"A", "B"}, Shape: []int{4, 5}, Data: testgranule.Seq(20, 0, 1)},
		testgranule.Var{Name: "lat", Dims: []string{"A", "B"}, Shape: []int{4, 5}, Data: testgranule.Seq(20, 10, 0.5)},
		testgranule.Var{Name: "lon", Dims: []string{"A", "B"}, Shape: []int{4, 5}, Data: testgranule.Seq(20, -60, 0.5)},
		testgranule.Var{
			Name: "scan_time", Dims: []string{"A"}, Shape: []int{4}, Data: []float64{0, 60, -9999, 180},
			Fill:  float64(-9999),
			Attrs: map[string]interface{}{"units": "seconds since 2000-01-01T00:00:00Z"},
		},
		testgranule.Var{Name: "track_lat", Dims: []string{"C"}, Shape: []int{7}, Data: testgranule.Seq(7, 0, 1)},
	)
	require.NoError(t, err)
	return uri
}

// writeTimeSeries writes 3 time steps of 4 stations
func writeTimeSeries(t *testing.T) string {
	t.Helper()
	uri, err := testgranule.Write(t.TempDir(), "stations.zarr", map[string]interface{}{"title": "test stations"},
		testgranule.Var{Name: "water_level", Dims: []string{"time", "station"}, Shape: []int{3, 4}, Data: testgranule.Seq(12, 1, 1)},
		testgranule.Var{Name: "lat", Dims: []string{"station"}, Shape: []int{4}, Data: testgranule.Seq(4, 30, 1)},
		testgranule.Var{Name: "lon", Dims: []string{"station"}, Shape: []int{4}, Data: testgranule.Seq(4, -80, 1)},
		testgranule.Var{
			Name: "time", Dims: []string{"time"}, Shape: []int{3}, Data: []float64{0, 1, 2},
			Attrs: map[string]interface{}{"units": "hours since 2020-01-01"},
		},
	)
	require.NoError(t, err)
	return uri
}

func openGranule(t *testing.T, uri string) granule.Handle {
	t.Helper()
	h, err := granule.Open(uri)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func gridConfig() *Config {
	return &Config{
		Kind:      "grid",
		Variable:  "analysed_sst",
		Latitude:  "lat",
		Longitude: "lon",
		Time:      strp("time"),
	}
}

func inputTile(uri, spec string) *Tile {
	return &Tile{Summary: &Summary{Granule: uri, SectionSpec: spec, DatasetName: "test"}}
}

func assembleOne(t *testing.T, cfg *Config, in *Tile, opts ...Option) *Tile {
	t.Helper()
	r, err := New(cfg, opts...)
	require.NoError(t, err)
	tiles, err := Collect(r.Assemble(in))
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	return tiles[0]
}

func decoded(t *testing.T, s *shaped.ShapedArray) *shaped.Array {
	t.Helper()
	require.NotNil(t, s)
	a, err := shaped.Decode(s)
	require.NoError(t, err)
	return a
}

func TestGridAllMissing(t *testing.T) {
	uri := writeGrid(t, gridFixture{timeValue: 1104537600})
	out := assembleOne(t, gridConfig(), inputTile(uri, "time:0:1,lat:0:10,lon:0:10"))

	g, ok := out.Data.Payload.(*GridTile)
	require.True(t, ok, "got %T", out.Data.Payload)
	assert.Equal(t, KindGrid, g.Kind())

	data := decoded(t, g.VariableData)
	assert.Equal(t, []int{1, 10, 10}, data.Shape)
	assert.Equal(t, shaped.Float32, g.VariableData.Dtype)
	assert.Equal(t, 0, data.CountValid())
	assert.Len(t, data.Float64s(), 100)

	require.NotNil(t, g.Time, "time is present even when every sample is missing")
	assert.Equal(t, epoch1981+1104537600, *g.Time)

	assert.Equal(t, []int{10}, g.Latitude.Shape)
	assert.Equal(t, []int{10}, g.Longitude.Shape)
	assert.Empty(t, g.MetaData)
}

func TestGridValidCount(t *testing.T) {
	valid := func(i int) bool { return i%3 == 0 }
	uri := writeGrid(t, gridFixture{valid: valid})
	out := assembleOne(t, gridConfig(), inputTile(uri, "time:0:1,lat:2:6,lon:0:10"))
	g := out.Data.Payload.(*GridTile)

	want := 0
	for row := 2; row < 6; row++ {
		for col := 0; col < 10; col++ {
			if valid(row*10 + col) {
				want++
			}
		}
	}
	data := decoded(t, g.VariableData)
	assert.Equal(t, []int{1, 4, 10}, data.Shape)
	assert.Equal(t, want, data.CountValid())

	vals := data.Data.([]float32)
	assert.InDelta(t, 298.15+0.021, vals[1], 1e-4, "cell 21 unpacked")
	assert.True(t, math.IsNaN(float64(vals[0])), "cell 20 is missing")

	lat := decoded(t, g.Latitude)
	assert.Equal(t, []float32{-2.5, -1.5, -0.5, 0.5}, lat.Data)
}

func TestGridTimeFallsBackToDay(t *testing.T) {
	uri := writeGrid(t, gridFixture{noTime: true, day: "2016-122T00:00:00.000000"})
	cfg := gridConfig()
	cfg.DayAttribute = strp("day")
	cfg.DayFormat = strp("%Y-%jT%H:%M:%S.%f")
	offset := int64(10)
	cfg.TimeOffset = &offset

	g := assembleOne(t, cfg, inputTile(uri, "lat:0:2,lon:0:2")).Data.Payload.(*GridTile)
	require.NotNil(t, g.Time)
	assert.Equal(t, time.Date(2016, 5, 1, 0, 0, 0, 0, time.UTC).Unix()+10, *g.Time)
}

func TestGridTimeWithoutEpoch(t *testing.T) {
	uri := writeGrid(t, gridFixture{day: "2016-122T00:00:00.000000", timeUnits: "seconds", timeValue: 3600})
	cfg := gridConfig()
	cfg.DayAttribute = strp("day")
	cfg.DayFormat = strp("%Y-%jT%H:%M:%S.%f")

	g := assembleOne(t, cfg, inputTile(uri, "lat:0:2,lon:0:2")).Data.Payload.(*GridTile)
	require.NotNil(t, g.Time)
	assert.Equal(t, time.Date(2016, 5, 1, 1, 0, 0, 0, time.UTC).Unix(), *g.Time)

	// without a day to anchor them, bare seconds cannot be decoded
	r, err := New(gridConfig())
	require.NoError(t, err)
	_, err = Collect(r.Assemble(inputTile(uri, "lat:0:2,lon:0:2")))
	var de *DateFormatError
	assert.ErrorAs(t, err, &de)
}

func TestGridNoTime(t *testing.T) {
	uri := writeGrid(t, gridFixture{noTime: true})
	g := assembleOne(t, gridConfig(), inputTile(uri, "lat:0:2,lon:0:2")).Data.Payload.(*GridTile)
	assert.Nil(t, g.Time)
}

func TestGridMeta(t *testing.T) {
	uri := writeGrid(t, gridFixture{extra: []testgranule.Var{{
		Name: "mask", Dims: []string{"time", "lat", "lon"}, Shape: []int{1, 10, 10},
		Data: make([]int8, 100),
	}}})

	cfg := gridConfig()
	cfg.Meta = []string{"sea_ice_fraction"}
	g := assembleOne(t, cfg, inputTile(uri, "time:0:1,lat:0:3,lon:0:3")).Data.Payload.(*GridTile)
	assert.Len(t, g.MetaData, 0, "missing meta variables are omitted")

	cfg.Meta = []string{"sea_ice_fraction", "mask"}
	g = assembleOne(t, cfg, inputTile(uri, "time:0:1,lat:0:3,lon:0:3")).Data.Payload.(*GridTile)
	require.Len(t, g.MetaData, 1)
	assert.Equal(t, "mask", g.MetaData[0].Name)
	assert.Equal(t, []int{1, 3, 3}, g.MetaData[0].Data.Shape)
	assert.Equal(t, shaped.Int8, g.MetaData[0].Data.Dtype)
}

func TestGridRejectsTwoDimensionalAxes(t *testing.T) {
	uri := writeSwath(t)
	cfg := &Config{Kind: "grid", Variable: "radiance", Latitude: "lat", Longitude: "lon"}
	r, err := New(cfg)
	require.NoError(t, err)
	_, err = Collect(r.Assemble(inputTile(uri, "A:0:2,B:0:5")))
	var se *shaped.ShapeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "lat", se.Variable)
}

func TestSwathSegments(t *testing.T) {
	uri := writeSwath(t)
	cfg := &Config{Kind: "swath", Variable: "radiance", Latitude: "lat", Longitude: "lon", Time: strp("scan_time")}
	out := assembleOne(t, cfg, inputTile(uri, "A:0:1,B:0:5;A:2:4,B:0:5"))

	sw, ok := out.Data.Payload.(*SwathTile)
	require.True(t, ok, "got %T", out.Data.Payload)
	assert.Equal(t, KindSwath, sw.Kind())

	data := decoded(t, sw.VariableData)
	assert.Equal(t, []int{3, 5}, data.Shape, "leading extent is the sum of the segments'")
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19}, data.Data)

	for _, s := range []*shaped.ShapedArray{sw.Latitude, sw.Longitude, sw.Time} {
		require.NotNil(t, s)
		assert.Equal(t, 3, s.Shape[0])
	}

	times := decoded(t, sw.Time).Data.([]float64)
	base := float64(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Unix())
	assert.Equal(t, base, times[0])
	assert.True(t, math.IsNaN(times[1]), "missing scan time stays NaN")
	assert.Equal(t, base+180, times[2])
}

func TestSwathAdjacentSegments(t *testing.T) {
	uri := writeSwath(t)
	cfg := &Config{Kind: "swath", Variable: "radiance", Latitude: "lat", Longitude: "lon"}
	sw := assembleOne(t, cfg, inputTile(uri, "A:0:1,B:0:5;A:1:2,B:0:5")).Data.Payload.(*SwathTile)
	assert.Equal(t, []int{2, 5}, sw.VariableData.Shape)
	assert.Equal(t, []int{2, 5}, sw.Latitude.Shape)
	assert.Nil(t, sw.Time)
}

func TestSwathLeadingExtentMismatch(t *testing.T) {
	uri := writeSwath(t)
	cfg := &Config{Kind: "swath", Variable: "radiance", Latitude: "track_lat", Longitude: "lon"}
	r, err := New(cfg)
	require.NoError(t, err)
	_, err = Collect(r.Assemble(inputTile(uri, "A:0:2,B:0:5")))
	var se *shaped.ShapeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "track_lat", se.Variable)
	assert.Equal(t, []int{2}, se.Want)
	assert.Equal(t, []int{7}, se.Got)
}

func TestTimeSeries(t *testing.T) {
	uri := writeTimeSeries(t)
	cfg := &Config{Kind: "timeseries", Variable: "water_level", Latitude: "lat", Longitude: "lon", Time: strp("time")}
	out := assembleOne(t, cfg, inputTile(uri, "time:1:2,station:0:4"))

	ts, ok := out.Data.Payload.(*TimeSeriesTile)
	require.True(t, ok, "got %T", out.Data.Payload)
	assert.Equal(t, KindTimeSeries, ts.Kind())

	data := decoded(t, ts.VariableData)
	assert.Equal(t, []int{1, 4}, data.Shape)
	assert.Equal(t, []float32{5, 6, 7, 8}, data.Data)
	assert.Equal(t, []int{4}, ts.Latitude.Shape)
	assert.Equal(t, []int{4}, ts.Longitude.Shape)

	require.NotNil(t, ts.Time)
	assert.Equal(t, time.Date(2020, 1, 1, 1, 0, 0, 0, time.UTC).Unix(), *ts.Time)

	ts = assembleOne(t, cfg, inputTile(uri, "time:0:1,station:1:3")).Data.Payload.(*TimeSeriesTile)
	assert.Equal(t, []int{1, 2}, ts.VariableData.Shape)
	assert.Equal(t, []int{2}, ts.Latitude.Shape, "coordinates follow the station bound")
}

func mustNew(t *testing.T, cfg *Config) *Reader {
	t.Helper()
	r, err := New(cfg)
	require.NoError(t, err)
	return r
}

func TestMissingRequiredVariable(t *testing.T) {
	uri := writeGrid(t, gridFixture{})
	for role, cfg := range map[string]*Config{
		"variable":  {Kind: "grid", Variable: "wind_speed", Latitude: "lat", Longitude: "lon"},
		"latitude":  {Kind: "grid", Variable: "analysed_sst", Latitude: "latitude", Longitude: "lon"},
		"longitude": {Kind: "grid", Variable: "analysed_sst", Latitude: "lat", Longitude: "longitude"},
	} {
		_, err := Collect(mustNew(t, cfg).Assemble(inputTile(uri, "lat:0:1,lon:0:1")))
		var me *MissingVariableError
		require.ErrorAs(t, err, &me, role)
		assert.Equal(t, role, me.Role)
		assert.Equal(t, uri, me.Granule)
		assert.True(t, errors.Is(err, granule.ErrNoVariable))
	}
}

func TestAssembleInputErrors(t *testing.T) {
	uri := writeGrid(t, gridFixture{})
	r := mustNew(t, gridConfig())

	_, err := Collect(r.Assemble(&Tile{}))
	assert.Equal(t, ErrNoSummary, err)

	in := inputTile(uri, "lat:0:1")
	in.Data = &TileData{Payload: &GridTile{}}
	_, err = Collect(r.Assemble(in))
	assert.Equal(t, ErrPayloadPresent, err)

	_, err = Collect(r.Assemble(inputTile(uri, "lat:0")))
	var pe *sectionspec.ParseError
	assert.ErrorAs(t, err, &pe)

	_, err = Collect(r.Assemble(inputTile("s3://bucket/grid.zarr", "lat:0:1")))
	var se *granule.UnsupportedSchemeError
	assert.ErrorAs(t, err, &se)

	_, err = New(&Config{Kind: "grid"})
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

// countingHandle counts Close calls on the handle it wraps
type countingHandle struct {
	granule.Handle
	closes *int
}

func (h countingHandle) Close() error {
	*h.closes++
	return h.Handle.Close()
}

func countingOpener(closes, opens *int) Option {
	return WithGranuleOpener(func(uri string) (granule.Handle, error) {
		h, err := granule.Open(uri)
		if err != nil {
			return nil, err
		}
		*opens++
		return countingHandle{Handle: h, closes: closes}, nil
	})
}

func TestHandleAlwaysClosed(t *testing.T) {
	uri := writeGrid(t, gridFixture{})

	t.Run("success", func(t *testing.T) {
		var opens, closes int
		assembleOne(t, gridConfig(), inputTile(uri, "lat:0:2"), countingOpener(&closes, &opens))
		assert.Equal(t, 1, opens)
		assert.Equal(t, 1, closes)
	})

	t.Run("failure", func(t *testing.T) {
		var opens, closes int
		cfg := gridConfig()
		cfg.Variable = "wind_speed"
		r, err := New(cfg, countingOpener(&closes, &opens))
		require.NoError(t, err)
		_, err = Collect(r.Assemble(inputTile(uri, "lat:0:2")))
		require.Error(t, err)
		assert.Equal(t, 1, opens)
		assert.Equal(t, 1, closes)
	})

	t.Run("early break", func(t *testing.T) {
		var opens, closes int
		r, err := New(gridConfig(), countingOpener(&closes, &opens))
		require.NoError(t, err)
		for tile, err := range r.Assemble(inputTile(uri, "lat:0:2")) {
			require.NoError(t, err)
			require.NotNil(t, tile)
			break
		}
		assert.Equal(t, 1, opens)
		assert.Equal(t, 1, closes)
	})

	t.Run("each range rereads", func(t *testing.T) {
		var opens, closes int
		r, err := New(gridConfig(), countingOpener(&closes, &opens))
		require.NoError(t, err)
		seq := r.Assemble(inputTile(uri, "lat:0:2"))
		for range 2 {
			_, err := Collect(seq)
			require.NoError(t, err)
		}
		assert.Equal(t, 2, opens)
		assert.Equal(t, 2, closes)
	})
}

func TestSummaryCopiedNotMutated(t *testing.T) {
	uri := writeGrid(t, gridFixture{valid: func(i int) bool { return i < 50 }})
	in := inputTile(uri, "time:0:1,lat:0:10,lon:0:10")
	in.Summary.Attributes = []Attribute{{Name: "source", Values: []string{"test"}}}
	before := in.Summary.Clone()

	cfg := gridConfig()
	cfg.Summarize = true
	out := assembleOne(t, cfg, in, WithLogger(hclog.NewNullLogger()))

	if diff := cmp.Diff(before, in.Summary); diff != "" {
		t.Errorf("input summary changed (-before +after):\n%s", diff)
	}
	assert.Nil(t, in.Data)
	assert.NotSame(t, in.Summary, out.Summary)

	assert.Equal(t, TileID(uri, in.Summary.SectionSpec), out.Summary.TileID)
	assert.Equal(t, out.Summary.TileID, out.Data.TileID)
	assert.Equal(t, "test", out.Summary.DatasetName)
	assert.Equal(t, before.Attributes, out.Summary.Attributes)

	require.NotNil(t, out.Summary.BBox)
	assert.Equal(t, BBox{LatMin: -4.5, LatMax: 4.5, LonMin: 100, LonMax: 102.25}, *out.Summary.BBox)
	require.NotNil(t, out.Summary.Stats)
	assert.Equal(t, int64(50), out.Summary.Stats.Count)
	assert.InDelta(t, 298.15, out.Summary.Stats.Min, 1e-4)
	assert.InDelta(t, 298.15+0.049, out.Summary.Stats.Max, 1e-4)
	assert.InDelta(t, 298.15+0.0245, out.Summary.Stats.Mean, 1e-4)
	assert.Equal(t, out.Summary.Stats.MinTime, out.Summary.Stats.MaxTime)
}

func TestTileIDKept(t *testing.T) {
	uri := writeGrid(t, gridFixture{})
	in := inputTile(uri, "lat:0:2")
	in.Summary.TileID = "upstream-id"
	out := assembleOne(t, gridConfig(), in)
	assert.Equal(t, "upstream-id", out.Summary.TileID)
	assert.Equal(t, "upstream-id", out.Data.TileID)

	assert.Equal(t, TileID(uri, "lat:0:2"), TileID(uri, "lat:0:2"))
	assert.NotEqual(t, TileID(uri, "lat:0:2"), TileID(uri, "lat:0:3"))
}

func TestSummarizeEmptyTile(t *testing.T) {
	uri := writeGrid(t, gridFixture{})
	cfg := gridConfig()
	cfg.Summarize = true
	out := assembleOne(t, cfg, inputTile(uri, "time:0:1,lat:0:10,lon:0:10"))
	require.NotNil(t, out.Summary.Stats)
	assert.Equal(t, int64(0), out.Summary.Stats.Count)
	assert.True(t, math.IsNaN(out.Summary.Stats.Mean))
	assert.NotNil(t, out.Summary.BBox, "coordinates are valid even when data is not")
}
