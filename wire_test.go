package tilereader

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/qri-io/tilereader/shaped"
)

func encoded(t *testing.T, shape []int, data interface{}) *shaped.ShapedArray {
	t.Helper()
	a, err := shaped.NewArray(shape, data)
	require.NoError(t, err)
	s, err := shaped.Encode(a)
	require.NoError(t, err)
	return s
}

func int64p(v int64) *int64 { return &v }

func wireSummary() *Summary {
	return &Summary{
		TileID:      "7d3f0e42-4a7b-5c1e-9a0e-1f3a1d2b3c4d",
		DatasetName: "MUR-JPL-L4-GLOB-v4.1",
		Granule:     "file:/data/20160501-mur.nc",
		SectionSpec: "time:0:1,lat:0:2,lon:0:3",
		BBox:        &BBox{LatMin: -1.5, LatMax: 2, LonMin: 100, LonMax: 100.5},
		Stats:       &DataStats{Min: 1, Max: 6, Mean: 3.5, Count: 6, MinTime: -86400, MaxTime: 1462060800},
		Attributes: []Attribute{
			{Name: "source", Values: []string{"a", "b"}},
			{Name: "empty"},
		},
	}
}

func TestWireRoundTrip(t *testing.T) {
	meta := []MetaData{{Name: "mask", Data: encoded(t, []int{2, 3}, []int8{0, 1, 0, 1, 1, 0})}}
	lat := encoded(t, []int{2}, []float32{-1.5, 2})
	lon := encoded(t, []int{3}, []float32{100, 100.25, 100.5})
	grid := encoded(t, []int{1, 2, 3}, []float32{1, 2, float32(math.NaN()), 4, 5, 6})

	cases := map[string]*Tile{
		"grid": {
			Summary: wireSummary(),
			Data: &TileData{TileID: "grid", Payload: &GridTile{
				Latitude: lat, Longitude: lon, VariableData: grid, Time: int64p(1462060800), MetaData: meta,
			}},
		},
		"grid at epoch": {
			Summary: &Summary{Granule: "file:/a.nc"},
			Data:    &TileData{Payload: &GridTile{Latitude: lat, Longitude: lon, VariableData: grid, Time: int64p(0)}},
		},
		"grid without time": {
			Summary: &Summary{Granule: "file:/a.nc"},
			Data:    &TileData{Payload: &GridTile{Latitude: lat, Longitude: lon, VariableData: grid}},
		},
		"swath": {
			Summary: wireSummary(),
			Data: &TileData{TileID: "swath", Payload: &SwathTile{
				Latitude:     encoded(t, []int{2, 2}, []float64{1, 2, 3, 4}),
				Longitude:    encoded(t, []int{2, 2}, []float64{5, 6, 7, 8}),
				VariableData: encoded(t, []int{2, 2}, []uint16{1, 2, 3, 65535}),
				Time:         encoded(t, []int{2}, []float64{946684800, math.NaN()}),
			}},
		},
		"time series": {
			Summary: wireSummary(),
			Data: &TileData{TileID: "ts", Payload: &TimeSeriesTile{
				Latitude: lat, Longitude: lat, VariableData: encoded(t, []int{1, 2}, []int64{-5, 5}),
				Time: int64p(-1), MetaData: meta,
			}},
		},
		"scalar": {
			Data: &TileData{Payload: &TimeSeriesTile{VariableData: encoded(t, nil, []float64{42})}},
		},
		"summary only": {Summary: wireSummary()},
	}

	for name, tile := range cases {
		t.Run(name, func(t *testing.T) {
			b, err := MarshalTile(tile)
			require.NoError(t, err)
			got, err := UnmarshalTile(b)
			require.NoError(t, err)
			if diff := cmp.Diff(tile, got, cmpopts.EquateEmpty(), cmpopts.EquateNaNs()); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWireErrors(t *testing.T) {
	_, err := MarshalTile(&Tile{Data: &TileData{}})
	assert.Error(t, err, "tile data needs a payload")

	b, err := MarshalTile(&Tile{Summary: wireSummary()})
	require.NoError(t, err)
	_, err = UnmarshalTile(b[:len(b)-3])
	assert.Error(t, err, "truncated message")

	// a summary field sent as a varint
	bad := protowire.AppendTag(nil, fieldTileSummary, protowire.VarintType)
	bad = protowire.AppendVarint(bad, 1)
	_, err = UnmarshalTile(bad)
	assert.True(t, errors.Is(err, ErrWireType))

	// an empty tile data message carries no payload
	empty := protowire.AppendTag(nil, fieldTileData, protowire.BytesType)
	empty = protowire.AppendBytes(empty, nil)
	_, err = UnmarshalTile(empty)
	assert.Error(t, err)
}

func TestWireSkipsUnknownFields(t *testing.T) {
	tile := &Tile{Summary: wireSummary()}
	b, err := MarshalTile(tile)
	require.NoError(t, err)
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "from a newer writer")
	b = protowire.AppendTag(b, 100, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)

	got, err := UnmarshalTile(b)
	require.NoError(t, err)
	assert.Equal(t, tile.Summary, got.Summary)
}

func TestDelimited(t *testing.T) {
	tiles := []*Tile{
		{Summary: wireSummary()},
		{Summary: &Summary{Granule: "file:/b.nc"}, Data: &TileData{Payload: &GridTile{
			VariableData: encoded(t, []int{1}, []float32{1}),
		}}},
	}
	buf := &bytes.Buffer{}
	for _, tile := range tiles {
		require.NoError(t, WriteDelimited(buf, tile))
	}
	raw := append([]byte{}, buf.Bytes()...)

	for _, want := range tiles {
		got, err := ReadDelimited(buf)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	}
	_, err := ReadDelimited(buf)
	assert.Equal(t, io.EOF, err)

	_, err = ReadDelimited(bytes.NewReader(raw[:len(raw)-1]))
	require.NoError(t, err, "first tile is intact")
	r := bytes.NewReader(raw[:len(raw)-1])
	_, _ = ReadDelimited(r)
	_, err = ReadDelimited(r)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	_, err = ReadDelimited(bytes.NewReader([]byte{0, 0}))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}
