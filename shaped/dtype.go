package shaped

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Dtype describes the element type of a shaped array as a NumPy array
// protocol type string (typestr). The format consists of 3 parts:
//  * One character describing the byteorder of the data:
//    "<": little-endian; ">": big-endian; "|": not-relevant)
//  * One character code giving the basic type of the array:
//    * "b": Boolean (integer type where all values are only True or False)
//    * "i": integer;
//    * "u": unsigned integer
//    * "f": floating point
//    * "c": complex floating point
//    * "m": timedelta;
//    * "M": datetime
//    * "S": string (fixed-length sequence of char)
//    * "U": unicode (fixed-length sequence of Py_UNICODE)
//    * "V": other (void * – each item is a fixed-size chunk of memory))
//  * An integer specifying the number of bytes the type uses.
//
// Shaped arrays only carry the numeric subset (i, u, f); the remaining basic
// types parse so that store metadata can be read and rejected with a clear
// error.
type Dtype struct {
	ByteOrder ByteOrder
	BasicType BasicType
	ByteSize  int
	Units     string
}

var (
	_ json.Unmarshaler = (*Dtype)(nil)
	_ json.Marshaler   = (*Dtype)(nil)
)

// Common numeric dtypes in little-endian order, the order shaped arrays are
// encoded with.
var (
	Int8    = Dtype{ByteOrder: BONotRelevant, BasicType: BTInteger, ByteSize: 1}
	Uint8   = Dtype{ByteOrder: BONotRelevant, BasicType: BTUnsigned, ByteSize: 1}
	Int16   = Dtype{ByteOrder: BOLittleEndian, BasicType: BTInteger, ByteSize: 2}
	Uint16  = Dtype{ByteOrder: BOLittleEndian, BasicType: BTUnsigned, ByteSize: 2}
	Int32   = Dtype{ByteOrder: BOLittleEndian, BasicType: BTInteger, ByteSize: 4}
	Uint32  = Dtype{ByteOrder: BOLittleEndian, BasicType: BTUnsigned, ByteSize: 4}
	Int64   = Dtype{ByteOrder: BOLittleEndian, BasicType: BTInteger, ByteSize: 8}
	Uint64  = Dtype{ByteOrder: BOLittleEndian, BasicType: BTUnsigned, ByteSize: 8}
	Float32 = Dtype{ByteOrder: BOLittleEndian, BasicType: BTFloatingPoint, ByteSize: 4}
	Float64 = Dtype{ByteOrder: BOLittleEndian, BasicType: BTFloatingPoint, ByteSize: 8}
)

func ParseDtype(s string) (dt Dtype, err error) {
	// bug in python implementation uses HTML escape sequences when serializaing JSON
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)

	if len(s) < 3 {
		return dt, fmt.Errorf("invalid Dtype string. %q is too short", s)
	}

	boByte, s := s[0], s[1:]
	dt.ByteOrder, err = ParseByteOrder(rune(boByte))
	if err != nil {
		return dt, err
	}

	typeByte, s := s[0], s[1:]
	dt.BasicType, err = ParseBasicType(rune(typeByte))
	if err != nil {
		return dt, err
	}

	var sizeStr, unitStr string
	for i, b := range s {
		if b == '[' {
			unitStr = s[i:]
			break
		}
		sizeStr += string(b)
	}

	size, err := strconv.ParseInt(sizeStr, 10, 0)
	if err != nil {
		return dt, err
	}
	dt.ByteSize = int(size)
	dt.Units = unitStr

	return dt, nil
}

// DtypeOf reports the little-endian dtype of a flat typed slice
func DtypeOf(data interface{}) (Dtype, error) {
	switch data.(type) {
	case []int8:
		return Int8, nil
	case []uint8:
		return Uint8, nil
	case []int16:
		return Int16, nil
	case []uint16:
		return Uint16, nil
	case []int32:
		return Int32, nil
	case []uint32:
		return Uint32, nil
	case []int64:
		return Int64, nil
	case []uint64:
		return Uint64, nil
	case []float32:
		return Float32, nil
	case []float64:
		return Float64, nil
	default:
		return Dtype{}, fmt.Errorf("unsupported element type %T", data)
	}
}

func (dt Dtype) String() string {
	s := fmt.Sprintf("%s%s%d", string(dt.ByteOrder), string(dt.BasicType), dt.ByteSize)
	if dt.Units != "" {
		s += dt.Units
	}
	return s
}

// Numeric is true for the integer, unsigned and floating point basic types
func (dt Dtype) Numeric() bool {
	switch dt.BasicType {
	case BTInteger, BTUnsigned, BTFloatingPoint:
		return true
	}
	return false
}

// Floating is true for floating point dtypes
func (dt Dtype) Floating() bool {
	return dt.BasicType == BTFloatingPoint
}

// Equivalent compares dtypes ignoring byte order, which only matters on the
// wire
func (dt Dtype) Equivalent(o Dtype) bool {
	return dt.BasicType == o.BasicType && dt.ByteSize == o.ByteSize
}

// Order returns the binary byte order values of this dtype are stored in
func (dt Dtype) Order() binary.ByteOrder {
	switch dt.ByteOrder {
	case BOBigEndian:
		return binary.BigEndian
	default:
		return binary.LittleEndian
	}
}

// MakeSlice allocates a flat slice of n elements of this dtype
func (dt Dtype) MakeSlice(n int) (interface{}, error) {
	switch dt.BasicType {
	case BTInteger:
		switch dt.ByteSize {
		case 1:
			return make([]int8, n), nil
		case 2:
			return make([]int16, n), nil
		case 4:
			return make([]int32, n), nil
		case 8:
			return make([]int64, n), nil
		}
	case BTUnsigned:
		switch dt.ByteSize {
		case 1:
			return make([]uint8, n), nil
		case 2:
			return make([]uint16, n), nil
		case 4:
			return make([]uint32, n), nil
		case 8:
			return make([]uint64, n), nil
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4:
			return make([]float32, n), nil
		case 8:
			return make([]float64, n), nil
		}
	}
	return nil, fmt.Errorf("unsupported dtype %q", dt.String())
}

func (dt Dtype) MarshalJSON() ([]byte, error) {
	return []byte(`"` + dt.String() + `"`), nil
}

func (dt *Dtype) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return err
	}
	t, err := ParseDtype(s)
	if err != nil {
		return err
	}

	*dt = t
	return nil
}

type ByteOrder rune

func ParseByteOrder(r rune) (ByteOrder, error) {
	o := ByteOrder(r)
	if _, ok := byteOrders[o]; !ok {
		return o, fmt.Errorf("unsupported byte order format: %q", r)
	}
	return o, nil
}

const (
	BONotRelevant  ByteOrder = '|'
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
)

var byteOrders = map[ByteOrder]struct{}{
	BONotRelevant:  {},
	BOLittleEndian: {},
	BOBigEndian:    {},
}

type BasicType rune

func ParseBasicType(r rune) (BasicType, error) {
	t := BasicType(r)
	if _, ok := supportedBasicTypes[t]; !ok {
		return t, fmt.Errorf("unsupported basic type: %q", r)
	}
	return t, nil
}

const (
	BTBoolean       BasicType = 'b'
	BTInteger       BasicType = 'i'
	BTUnsigned      BasicType = 'u'
	BTFloatingPoint BasicType = 'f'
	BTComplex       BasicType = 'c'
	BTTimedelta     BasicType = 'm'
	BTDatetime      BasicType = 'M'
	BTString        BasicType = 'S'
	BTUnicode       BasicType = 'U'
	BTOther         BasicType = 'V'
)

var supportedBasicTypes = map[BasicType]struct{}{
	BTBoolean:       {},
	BTInteger:       {},
	BTUnsigned:      {},
	BTFloatingPoint: {},
	BTComplex:       {},
	BTTimedelta:     {},
	BTDatetime:      {},
	BTString:        {},
	BTUnicode:       {},
	BTOther:         {},
}
