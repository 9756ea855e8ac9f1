package codec

import (
	"fmt"
	"math"
	"net/netip"
)

// DataType is a CIP elementary or composite data type tag.
type DataType uint8

const (
	TypeBool        DataType = 0xC1
	TypeSint        DataType = 0xC2
	TypeInt         DataType = 0xC3
	TypeDint        DataType = 0xC4
	TypeLint        DataType = 0xC5
	TypeUsint       DataType = 0xC6
	TypeUint        DataType = 0xC7
	TypeUdint       DataType = 0xC8
	TypeUlint       DataType = 0xC9
	TypeReal        DataType = 0xCA
	TypeLreal       DataType = 0xCB
	TypeString      DataType = 0xD0
	TypeByte        DataType = 0xD1
	TypeWord        DataType = 0xD2
	TypeDword       DataType = 0xD3
	TypeLword       DataType = 0xD4
	TypeShortString DataType = 0xDA
	TypeEPath       DataType = 0xDC

	// Composite types used by the standard objects.
	TypeRevision        DataType = 0xA0 // USINT major, USINT minor
	TypeInterfaceConfig DataType = 0xA1 // 5 x UDINT + STRING
	TypeMAC             DataType = 0xA2 // 6 x USINT
	TypeByteArray       DataType = 0xA4
)

var typeNames = map[DataType]string{
	TypeBool:            "BOOL",
	TypeSint:            "SINT",
	TypeInt:             "INT",
	TypeDint:            "DINT",
	TypeLint:            "LINT",
	TypeUsint:           "USINT",
	TypeUint:            "UINT",
	TypeUdint:           "UDINT",
	TypeUlint:           "ULINT",
	TypeReal:            "REAL",
	TypeLreal:           "LREAL",
	TypeString:          "STRING",
	TypeByte:            "BYTE",
	TypeWord:            "WORD",
	TypeDword:           "DWORD",
	TypeLword:           "LWORD",
	TypeShortString:     "SHORT_STRING",
	TypeEPath:           "EPATH",
	TypeRevision:        "USINT_USINT",
	TypeInterfaceConfig: "INTERFACE_CONFIG",
	TypeMAC:             "6USINT",
	TypeByteArray:       "BYTE_ARRAY",
}

func (t DataType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TYPE(0x%02X)", uint8(t))
}

// Is64Bit reports whether t needs 64-bit integer support.
func (t DataType) Is64Bit() bool {
	switch t {
	case TypeLint, TypeUlint, TypeLreal, TypeLword:
		return true
	}
	return false
}

// Revision is the two-field major/minor revision.
type Revision struct {
	Major uint8
	Minor uint8
}

func (r Revision) String() string {
	return fmt.Sprintf("%d.%03d", r.Major, r.Minor)
}

// InterfaceConfig is the TCP/IP Interface configuration attribute.
// Addresses hold the IPv4 address as a host-order integer.
type InterfaceConfig struct {
	IPAddress   uint32
	NetworkMask uint32
	Gateway     uint32
	NameServer  uint32
	NameServer2 uint32
	DomainName  string
}

// IPv4ToUint32 converts an IPv4 address to the integer form used on the wire.
func IPv4ToUint32(addr netip.Addr) uint32 {
	if !addr.Is4() {
		return 0
	}
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Uint32ToIPv4 is the inverse of IPv4ToUint32.
func Uint32ToIPv4(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// Codec encodes and decodes attribute values. Values are always passed as
// pointers so the same location can be read by Encode and written by Decode.
type Codec struct {
	Allow64Bit bool
}

// Default supports every data type.
var Default = Codec{Allow64Bit: true}

// Encode writes v with Default.
func Encode(w *Writer, t DataType, v any) (int, error) {
	return Default.Encode(w, t, v)
}

// Decode reads into dst with Default.
func Decode(c *Cursor, t DataType, dst any) (int, error) {
	return Default.Decode(c, t, dst)
}

func as[T any](v any, t DataType) (*T, error) {
	p, ok := v.(*T)
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: %s cannot use %T", ErrTypeMismatch, t, v)
	}
	return p, nil
}

// Encode appends the encoded form of the value v points to and returns the
// number of bytes written.
func (cd Codec) Encode(w *Writer, t DataType, v any) (int, error) {
	if t.Is64Bit() && !cd.Allow64Bit {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	start := w.Len()
	switch t {
	case TypeBool:
		p, err := as[bool](v, t)
		if err != nil {
			return 0, err
		}
		var b uint8
		if *p {
			b = 1
		}
		w.PutUint8(b)
	case TypeSint:
		p, err := as[int8](v, t)
		if err != nil {
			return 0, err
		}
		w.PutUint8(uint8(*p))
	case TypeUsint, TypeByte:
		p, err := as[uint8](v, t)
		if err != nil {
			return 0, err
		}
		w.PutUint8(*p)
	case TypeInt:
		p, err := as[int16](v, t)
		if err != nil {
			return 0, err
		}
		w.PutUint16(uint16(*p))
	case TypeUint, TypeWord:
		p, err := as[uint16](v, t)
		if err != nil {
			return 0, err
		}
		w.PutUint16(*p)
	case TypeDint:
		p, err := as[int32](v, t)
		if err != nil {
			return 0, err
		}
		w.PutUint32(uint32(*p))
	case TypeUdint, TypeDword:
		p, err := as[uint32](v, t)
		if err != nil {
			return 0, err
		}
		w.PutUint32(*p)
	case TypeLint:
		p, err := as[int64](v, t)
		if err != nil {
			return 0, err
		}
		w.PutUint64(uint64(*p))
	case TypeUlint, TypeLword:
		p, err := as[uint64](v, t)
		if err != nil {
			return 0, err
		}
		w.PutUint64(*p)
	case TypeReal:
		p, err := as[float32](v, t)
		if err != nil {
			return 0, err
		}
		w.PutUint32(math.Float32bits(*p))
	case TypeLreal:
		p, err := as[float64](v, t)
		if err != nil {
			return 0, err
		}
		w.PutUint64(math.Float64bits(*p))
	case TypeString:
		p, err := as[string](v, t)
		if err != nil {
			return 0, err
		}
		if err := EncodeString(w, *p); err != nil {
			return 0, err
		}
	case TypeShortString:
		p, err := as[string](v, t)
		if err != nil {
			return 0, err
		}
		if err := EncodeShortString(w, *p); err != nil {
			return 0, err
		}
	case TypeEPath:
		p, err := as[EPath](v, t)
		if err != nil {
			return 0, err
		}
		if _, err := EncodeEPath(w, *p); err != nil {
			return 0, err
		}
	case TypeRevision:
		p, err := as[Revision](v, t)
		if err != nil {
			return 0, err
		}
		w.PutUint8(p.Major)
		w.PutUint8(p.Minor)
	case TypeInterfaceConfig:
		p, err := as[InterfaceConfig](v, t)
		if err != nil {
			return 0, err
		}
		w.PutUint32(p.IPAddress)
		w.PutUint32(p.NetworkMask)
		w.PutUint32(p.Gateway)
		w.PutUint32(p.NameServer)
		w.PutUint32(p.NameServer2)
		if err := EncodeString(w, p.DomainName); err != nil {
			return 0, err
		}
	case TypeMAC:
		p, err := as[[6]byte](v, t)
		if err != nil {
			return 0, err
		}
		w.PutBytes(p[:])
	case TypeByteArray:
		p, err := as[[]byte](v, t)
		if err != nil {
			return 0, err
		}
		w.PutBytes(*p)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	return w.Len() - start, nil
}

// Decode reads a value of type t into dst and returns the number of bytes
// consumed. dst is only modified when the whole value decoded successfully.
// Byte arrays read exactly len(*dst) bytes.
func (cd Codec) Decode(c *Cursor, t DataType, dst any) (int, error) {
	if t.Is64Bit() && !cd.Allow64Bit {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	start := c.Offset()
	switch t {
	case TypeBool:
		p, err := as[bool](dst, t)
		if err != nil {
			return 0, err
		}
		b, err := c.Uint8()
		if err != nil {
			return 0, err
		}
		*p = b != 0
	case TypeSint:
		p, err := as[int8](dst, t)
		if err != nil {
			return 0, err
		}
		b, err := c.Uint8()
		if err != nil {
			return 0, err
		}
		*p = int8(b)
	case TypeUsint, TypeByte:
		p, err := as[uint8](dst, t)
		if err != nil {
			return 0, err
		}
		b, err := c.Uint8()
		if err != nil {
			return 0, err
		}
		*p = b
	case TypeInt:
		p, err := as[int16](dst, t)
		if err != nil {
			return 0, err
		}
		v, err := c.Uint16()
		if err != nil {
			return 0, err
		}
		*p = int16(v)
	case TypeUint, TypeWord:
		p, err := as[uint16](dst, t)
		if err != nil {
			return 0, err
		}
		v, err := c.Uint16()
		if err != nil {
			return 0, err
		}
		*p = v
	case TypeDint:
		p, err := as[int32](dst, t)
		if err != nil {
			return 0, err
		}
		v, err := c.Uint32()
		if err != nil {
			return 0, err
		}
		*p = int32(v)
	case TypeUdint, TypeDword:
		p, err := as[uint32](dst, t)
		if err != nil {
			return 0, err
		}
		v, err := c.Uint32()
		if err != nil {
			return 0, err
		}
		*p = v
	case TypeLint:
		p, err := as[int64](dst, t)
		if err != nil {
			return 0, err
		}
		v, err := c.Uint64()
		if err != nil {
			return 0, err
		}
		*p = int64(v)
	case TypeUlint, TypeLword:
		p, err := as[uint64](dst, t)
		if err != nil {
			return 0, err
		}
		v, err := c.Uint64()
		if err != nil {
			return 0, err
		}
		*p = v
	case TypeReal:
		p, err := as[float32](dst, t)
		if err != nil {
			return 0, err
		}
		v, err := c.Uint32()
		if err != nil {
			return 0, err
		}
		*p = math.Float32frombits(v)
	case TypeLreal:
		p, err := as[float64](dst, t)
		if err != nil {
			return 0, err
		}
		v, err := c.Uint64()
		if err != nil {
			return 0, err
		}
		*p = math.Float64frombits(v)
	case TypeString:
		p, err := as[string](dst, t)
		if err != nil {
			return 0, err
		}
		s, err := DecodeString(c)
		if err != nil {
			return 0, err
		}
		*p = s
	case TypeShortString:
		p, err := as[string](dst, t)
		if err != nil {
			return 0, err
		}
		s, err := DecodeShortString(c)
		if err != nil {
			return 0, err
		}
		*p = s
	case TypeEPath:
		p, err := as[EPath](dst, t)
		if err != nil {
			return 0, err
		}
		path, _, err := DecodeEPath(c)
		if err != nil {
			return 0, err
		}
		*p = path
	case TypeRevision:
		p, err := as[Revision](dst, t)
		if err != nil {
			return 0, err
		}
		b, err := c.Bytes(2)
		if err != nil {
			return 0, err
		}
		*p = Revision{Major: b[0], Minor: b[1]}
	case TypeInterfaceConfig:
		p, err := as[InterfaceConfig](dst, t)
		if err != nil {
			return 0, err
		}
		var cfg InterfaceConfig
		for _, f := range []*uint32{&cfg.IPAddress, &cfg.NetworkMask, &cfg.Gateway, &cfg.NameServer, &cfg.NameServer2} {
			v, err := c.Uint32()
			if err != nil {
				return 0, err
			}
			*f = v
		}
		name, err := DecodeString(c)
		if err != nil {
			return 0, err
		}
		cfg.DomainName = name
		*p = cfg
	case TypeMAC:
		p, err := as[[6]byte](dst, t)
		if err != nil {
			return 0, err
		}
		b, err := c.Bytes(6)
		if err != nil {
			return 0, err
		}
		copy(p[:], b)
	case TypeByteArray:
		p, err := as[[]byte](dst, t)
		if err != nil {
			return 0, err
		}
		b, err := c.Bytes(len(*p))
		if err != nil {
			return 0, err
		}
		copy(*p, b)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	return c.Offset() - start, nil
}

// EncodeString writes a STRING: 2-byte length, the bytes, and a pad byte
// when the length is odd.
func EncodeString(w *Writer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("%w: %d bytes", ErrValueTooLong, len(s))
	}
	w.PutUint16(uint16(len(s)))
	w.PutBytes([]byte(s))
	if len(s)%2 != 0 {
		w.PutUint8(0)
	}
	return nil
}

// DecodeString reads a STRING written by EncodeString.
func DecodeString(c *Cursor) (string, error) {
	n, err := c.Uint16()
	if err != nil {
		return "", err
	}
	b, err := c.Bytes(int(n))
	if err != nil {
		return "", err
	}
	if n%2 != 0 {
		if err := c.Skip(1); err != nil {
			return "", err
		}
	}
	return string(b), nil
}

// EncodeShortString writes a SHORT_STRING: 1-byte length and the bytes.
func EncodeShortString(w *Writer, s string) error {
	if len(s) > math.MaxUint8 {
		return fmt.Errorf("%w: %d bytes", ErrValueTooLong, len(s))
	}
	w.PutUint8(uint8(len(s)))
	w.PutBytes([]byte(s))
	return nil
}

// DecodeShortString reads a SHORT_STRING.
func DecodeShortString(c *Cursor) (string, error) {
	n, err := c.Uint8()
	if err != nil {
		return "", err
	}
	b, err := c.Bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
