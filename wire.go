package tilereader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/qri-io/tilereader/shaped"
)

// Tiles are encoded in protobuf wire format with this layout:
//
//	message Tile         { Summary summary = 1; TileData data = 2; }
//	message Summary      { string tile_id = 1; string granule = 2; string section_spec = 3;
//	                       BBox bbox = 4; DataStats stats = 5; repeated Attribute attributes = 6;
//	                       string dataset_name = 7; }
//	message Attribute    { string name = 1; repeated string values = 2; }
//	message BBox         { double lat_min = 1; double lat_max = 2; double lon_min = 3; double lon_max = 4; }
//	message DataStats    { double min = 1; double max = 2; double mean = 3; int64 count = 4;
//	                       sint64 min_time = 5; sint64 max_time = 6; }
//	message TileData     { string tile_id = 1;
//	                       oneof payload { GridTile grid = 2; SwathTile swath = 3; TimeSeriesTile time_series = 4; } }
//	message GridTile     { ShapedArray latitude = 1; ShapedArray longitude = 2; optional sint64 time = 3;
//	                       ShapedArray variable_data = 4; repeated MetaData meta_data = 5; }
//	message SwathTile    { ShapedArray latitude = 1; ShapedArray longitude = 2; ShapedArray time = 3;
//	                       ShapedArray variable_data = 4; repeated MetaData meta_data = 5; }
//	message TimeSeriesTile (same layout as GridTile)
//	message MetaData     { string name = 1; ShapedArray data = 2; }
//	message ShapedArray  { repeated int64 shape = 1 [packed]; string dtype = 2; bytes data = 3; }
const (
	fieldTileSummary protowire.Number = 1
	fieldTileData    protowire.Number = 2

	fieldSummaryTileID      protowire.Number = 1
	fieldSummaryGranule     protowire.Number = 2
	fieldSummarySectionSpec protowire.Number = 3
	fieldSummaryBBox        protowire.Number = 4
	fieldSummaryStats       protowire.Number = 5
	fieldSummaryAttributes  protowire.Number = 6
	fieldSummaryDatasetName protowire.Number = 7

	fieldAttributeName   protowire.Number = 1
	fieldAttributeValues protowire.Number = 2

	fieldStatsMin     protowire.Number = 1
	fieldStatsMax     protowire.Number = 2
	fieldStatsMean    protowire.Number = 3
	fieldStatsCount   protowire.Number = 4
	fieldStatsMinTime protowire.Number = 5
	fieldStatsMaxTime protowire.Number = 6

	fieldDataTileID     protowire.Number = 1
	fieldDataGrid       protowire.Number = 2
	fieldDataSwath      protowire.Number = 3
	fieldDataTimeSeries protowire.Number = 4

	fieldPayloadLatitude  protowire.Number = 1
	fieldPayloadLongitude protowire.Number = 2
	fieldPayloadTime      protowire.Number = 3
	fieldPayloadData      protowire.Number = 4
	fieldPayloadMeta      protowire.Number = 5

	fieldMetaName protowire.Number = 1
	fieldMetaData protowire.Number = 2

	fieldArrayShape protowire.Number = 1
	fieldArrayDtype protowire.Number = 2
	fieldArrayData  protowire.Number = 3
)

// MaxMessageSize bounds the length prefix ReadDelimited accepts
const MaxMessageSize = 1 << 30

// ErrWireType is returned when a known field arrives with an unexpected wire
// type
var ErrWireType = errors.New("unexpected wire type")

// MarshalTile encodes a tile
func MarshalTile(t *Tile) ([]byte, error) {
	var b []byte
	if t.Summary != nil {
		b = appendMessage(b, fieldTileSummary, marshalSummary(t.Summary))
	}
	if t.Data != nil {
		data, err := marshalTileData(t.Data)
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, fieldTileData, data)
	}
	return b, nil
}

// UnmarshalTile decodes a tile encoded by MarshalTile. Unknown fields are
// skipped.
func UnmarshalTile(b []byte) (*Tile, error) {
	t := &Tile{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldTileSummary:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			t.Summary, err = unmarshalSummary(v)
			return n, err
		case fieldTileData:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			t.Data, err = unmarshalTileData(v)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("decoding tile: %w", err)
	}
	return t, nil
}

// WriteDelimited writes t prefixed by its encoded length as a 4 byte big
// endian integer
func WriteDelimited(w io.Writer, t *Tile) error {
	b, err := MarshalTile(t)
	if err != nil {
		return err
	}
	if len(b) > MaxMessageSize {
		return fmt.Errorf("tile of %d bytes exceeds the %d byte limit", len(b), MaxMessageSize)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(b)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadDelimited reads one tile written by WriteDelimited. It returns io.EOF
// when r is exhausted between tiles.
func ReadDelimited(r io.Reader) (*Tile, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("reading length prefix: %w", err)
		}
		return nil, err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxMessageSize {
		return nil, fmt.Errorf("tile of %d bytes exceeds the %d byte limit", size, MaxMessageSize)
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading tile: %w", err)
	}
	return UnmarshalTile(b)
}

func marshalSummary(s *Summary) []byte {
	var b []byte
	b = appendString(b, fieldSummaryTileID, s.TileID)
	b = appendString(b, fieldSummaryGranule, s.Granule)
	b = appendString(b, fieldSummarySectionSpec, s.SectionSpec)
	if s.BBox != nil {
		var m []byte
		m = appendDouble(m, 1, s.BBox.LatMin)
		m = appendDouble(m, 2, s.BBox.LatMax)
		m = appendDouble(m, 3, s.BBox.LonMin)
		m = appendDouble(m, 4, s.BBox.LonMax)
		b = appendMessage(b, fieldSummaryBBox, m)
	}
	if s.Stats != nil {
		var m []byte
		m = appendDouble(m, fieldStatsMin, s.Stats.Min)
		m = appendDouble(m, fieldStatsMax, s.Stats.Max)
		m = appendDouble(m, fieldStatsMean, s.Stats.Mean)
		m = protowire.AppendTag(m, fieldStatsCount, protowire.VarintType)
		m = protowire.AppendVarint(m, uint64(s.Stats.Count))
		m = appendSint64(m, fieldStatsMinTime, s.Stats.MinTime)
		m = appendSint64(m, fieldStatsMaxTime, s.Stats.MaxTime)
		b = appendMessage(b, fieldSummaryStats, m)
	}
	for _, a := range s.Attributes {
		var m []byte
		m = appendString(m, fieldAttributeName, a.Name)
		for _, v := range a.Values {
			m = protowire.AppendTag(m, fieldAttributeValues, protowire.BytesType)
			m = protowire.AppendString(m, v)
		}
		b = appendMessage(b, fieldSummaryAttributes, m)
	}
	b = appendString(b, fieldSummaryDatasetName, s.DatasetName)
	return b
}

func unmarshalSummary(b []byte) (*Summary, error) {
	s := &Summary{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldSummaryTileID:
			return consumeString(typ, b, &s.TileID)
		case fieldSummaryGranule:
			return consumeString(typ, b, &s.Granule)
		case fieldSummarySectionSpec:
			return consumeString(typ, b, &s.SectionSpec)
		case fieldSummaryDatasetName:
			return consumeString(typ, b, &s.DatasetName)
		case fieldSummaryBBox:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			s.BBox = &BBox{}
			return n, consumeFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case 1:
					return consumeDouble(typ, b, &s.BBox.LatMin)
				case 2:
					return consumeDouble(typ, b, &s.BBox.LatMax)
				case 3:
					return consumeDouble(typ, b, &s.BBox.LonMin)
				case 4:
					return consumeDouble(typ, b, &s.BBox.LonMax)
				}
				return 0, nil
			})
		case fieldSummaryStats:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			s.Stats = &DataStats{}
			return n, consumeFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case fieldStatsMin:
					return consumeDouble(typ, b, &s.Stats.Min)
				case fieldStatsMax:
					return consumeDouble(typ, b, &s.Stats.Max)
				case fieldStatsMean:
					return consumeDouble(typ, b, &s.Stats.Mean)
				case fieldStatsCount:
					var u uint64
					n, err := consumeVarint(typ, b, &u)
					s.Stats.Count = int64(u)
					return n, err
				case fieldStatsMinTime:
					return consumeSint64(typ, b, &s.Stats.MinTime)
				case fieldStatsMaxTime:
					return consumeSint64(typ, b, &s.Stats.MaxTime)
				}
				return 0, nil
			})
		case fieldSummaryAttributes:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			a := Attribute{}
			err = consumeFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case fieldAttributeName:
					return consumeString(typ, b, &a.Name)
				case fieldAttributeValues:
					var val string
					n, err := consumeString(typ, b, &val)
					a.Values = append(a.Values, val)
					return n, err
				}
				return 0, nil
			})
			s.Attributes = append(s.Attributes, a)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	return s, nil
}

func marshalTileData(d *TileData) ([]byte, error) {
	var b []byte
	b = appendString(b, fieldDataTileID, d.TileID)

	var (
		num  protowire.Number
		time []byte
	)
	switch p := d.Payload.(type) {
	case *GridTile:
		num = fieldDataGrid
		if p.Time != nil {
			time = appendSint64(nil, fieldPayloadTime, *p.Time)
		}
	case *TimeSeriesTile:
		num = fieldDataTimeSeries
		if p.Time != nil {
			time = appendSint64(nil, fieldPayloadTime, *p.Time)
		}
	case *SwathTile:
		num = fieldDataSwath
		if p.Time != nil {
			time = appendMessage(nil, fieldPayloadTime, marshalShapedArray(p.Time))
		}
	case nil:
		return nil, errors.New("tile data has no payload")
	default:
		return nil, fmt.Errorf("unknown payload type %T", p)
	}

	lat, lon, data := d.Payload.Coordinates()
	var m []byte
	if lat != nil {
		m = appendMessage(m, fieldPayloadLatitude, marshalShapedArray(lat))
	}
	if lon != nil {
		m = appendMessage(m, fieldPayloadLongitude, marshalShapedArray(lon))
	}
	m = append(m, time...)
	if data != nil {
		m = appendMessage(m, fieldPayloadData, marshalShapedArray(data))
	}
	for _, md := range d.Payload.Meta() {
		var mm []byte
		mm = appendString(mm, fieldMetaName, md.Name)
		if md.Data != nil {
			mm = appendMessage(mm, fieldMetaData, marshalShapedArray(md.Data))
		}
		m = appendMessage(m, fieldPayloadMeta, mm)
	}
	return appendMessage(b, num, m), nil
}

func unmarshalTileData(b []byte) (*TileData, error) {
	d := &TileData{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldDataTileID:
			return consumeString(typ, b, &d.TileID)
		case fieldDataGrid, fieldDataSwath, fieldDataTimeSeries:
			if d.Payload != nil {
				return 0, errors.New("more than one payload")
			}
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			d.Payload, err = unmarshalPayload(num, v)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("tile data: %w", err)
	}
	if d.Payload == nil {
		return nil, errors.New("tile data: no payload")
	}
	return d, nil
}

type payloadFields struct {
	lat, lon, data *shaped.ShapedArray
	time           *int64
	swathTime      *shaped.ShapedArray
	meta           []MetaData
}

func unmarshalPayload(kind protowire.Number, b []byte) (Payload, error) {
	f := payloadFields{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldPayloadLatitude:
			return consumeShapedArray(typ, b, &f.lat)
		case fieldPayloadLongitude:
			return consumeShapedArray(typ, b, &f.lon)
		case fieldPayloadData:
			return consumeShapedArray(typ, b, &f.data)
		case fieldPayloadTime:
			if kind == fieldDataSwath {
				return consumeShapedArray(typ, b, &f.swathTime)
			}
			var t int64
			n, err := consumeSint64(typ, b, &t)
			f.time = &t
			return n, err
		case fieldPayloadMeta:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			md := MetaData{}
			err = consumeFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case fieldMetaName:
					return consumeString(typ, b, &md.Name)
				case fieldMetaData:
					return consumeShapedArray(typ, b, &md.Data)
				}
				return 0, nil
			})
			f.meta = append(f.meta, md)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}

	switch kind {
	case fieldDataGrid:
		return &GridTile{Latitude: f.lat, Longitude: f.lon, VariableData: f.data, Time: f.time, MetaData: f.meta}, nil
	case fieldDataSwath:
		return &SwathTile{Latitude: f.lat, Longitude: f.lon, VariableData: f.data, Time: f.swathTime, MetaData: f.meta}, nil
	default:
		return &TimeSeriesTile{Latitude: f.lat, Longitude: f.lon, VariableData: f.data, Time: f.time, MetaData: f.meta}, nil
	}
}

func marshalShapedArray(s *shaped.ShapedArray) []byte {
	var b []byte
	if len(s.Shape) > 0 {
		var packed []byte
		for _, d := range s.Shape {
			packed = protowire.AppendVarint(packed, uint64(d))
		}
		b = appendMessage(b, fieldArrayShape, packed)
	}
	b = appendString(b, fieldArrayDtype, s.Dtype.String())
	b = protowire.AppendTag(b, fieldArrayData, protowire.BytesType)
	return protowire.AppendBytes(b, s.Data)
}

func consumeShapedArray(typ protowire.Type, b []byte, dst **shaped.ShapedArray) (int, error) {
	v, n, err := consumeBytes(typ, b)
	if err != nil {
		return 0, err
	}
	s := &shaped.ShapedArray{}
	err = consumeFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldArrayShape:
			if typ == protowire.VarintType {
				var d uint64
				n, err := consumeVarint(typ, b, &d)
				s.Shape = append(s.Shape, int(d))
				return n, err
			}
			packed, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			for len(packed) > 0 {
				d, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return 0, protowire.ParseError(m)
				}
				s.Shape = append(s.Shape, int(d))
				packed = packed[m:]
			}
			return n, nil
		case fieldArrayDtype:
			var dt string
			n, err := consumeString(typ, b, &dt)
			if err != nil {
				return 0, err
			}
			s.Dtype, err = shaped.ParseDtype(dt)
			return n, err
		case fieldArrayData:
			v, n, err := consumeBytes(typ, b)
			s.Data = append([]byte{}, v...)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return 0, fmt.Errorf("shaped array: %w", err)
	}
	*dst = s
	return n, nil
}

// consumeFields calls fn for every field of a message. fn returns the length
// of the value it consumed, or 0 to skip the field.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendSint64(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, ErrWireType
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	v, n, err := consumeBytes(typ, b)
	if err != nil {
		return 0, err
	}
	*dst = string(v)
	return n, nil
}

func consumeVarint(typ protowire.Type, b []byte, dst *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, ErrWireType
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func consumeSint64(typ protowire.Type, b []byte, dst *int64) (int, error) {
	var u uint64
	n, err := consumeVarint(typ, b, &u)
	if err != nil {
		return 0, err
	}
	*dst = protowire.DecodeZigZag(u)
	return n, nil
}

func consumeDouble(typ protowire.Type, b []byte, dst *float64) (int, error) {
	if typ != protowire.Fixed64Type {
		return 0, ErrWireType
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = math.Float64frombits(v)
	return n, nil
}
