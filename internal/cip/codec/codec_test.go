package codec

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"
)

func TestCursorReads(t *testing.T) {
	c := NewCursor([]byte{0x01, 0x02, 0x01, 0x04, 0x03, 0x02, 0x01, 0xAA})
	u8, err := c.Uint8()
	if err != nil || u8 != 0x01 {
		t.Fatalf("Uint8() = 0x%02X, %v", u8, err)
	}
	u16, err := c.Uint16()
	if err != nil || u16 != 0x0102 {
		t.Fatalf("Uint16() = 0x%04X, %v", u16, err)
	}
	u32, err := c.Uint32()
	if err != nil || u32 != 0x01020304 {
		t.Fatalf("Uint32() = 0x%08X, %v", u32, err)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	if got := c.Rest(); !bytes.Equal(got, []byte{0xAA}) {
		t.Errorf("Rest() = %X", got)
	}
}

func TestCursorOverrun(t *testing.T) {
	c := NewCursor([]byte{0x01, 0x02, 0x03})
	if _, err := c.Uint32(); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("Uint32() error = %v, want ErrShortBuffer", err)
	}
	if c.Offset() != 0 {
		t.Errorf("failed read advanced cursor to %d", c.Offset())
	}
	if _, err := c.Bytes(4); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("Bytes(4) error = %v, want ErrShortBuffer", err)
	}
	if _, err := c.Bytes(-1); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("Bytes(-1) error = %v, want ErrShortBuffer", err)
	}
}

func TestWriterBackpatch(t *testing.T) {
	w := NewWriter(8)
	w.PutUint16(0)
	w.PutUint32(0xDEADBEEF)
	w.SetUint16At(0, 4)
	want := []byte{0x04, 0x00, 0xEF, 0xBE, 0xAD, 0xDE}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("Bytes() = %X, want %X", w.Bytes(), want)
	}
}

func TestEPathRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		path      EPath
		wantWords int
	}{
		{"8-bit class instance", EPath{Class: 0x01, Instance: 1}, 2},
		{"8-bit with attribute", EPath{Class: 0x04, Instance: 100, Attribute: 3}, 3},
		{"16-bit class", EPath{Class: 0x300, Instance: 1, Attribute: 1}, 4},
		{"16-bit everything", EPath{Class: 0x100, Instance: 0x1234, Attribute: 0x0200}, 6},
		{"boundary 255", EPath{Class: 0xFF, Instance: 0xFF, Attribute: 0xFF}, 3},
		{"boundary 256", EPath{Class: 0x100, Instance: 0x100, Attribute: 0x100}, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWriter(16)
			written, err := EncodeEPath(w, tt.path)
			if err != nil {
				t.Fatalf("EncodeEPath() error = %v", err)
			}
			if written != 2+tt.wantWords*2 {
				t.Errorf("written = %d, want %d", written, 2+tt.wantWords*2)
			}
			got, consumed, err := DecodeEPath(NewCursor(w.Bytes()))
			if err != nil {
				t.Fatalf("DecodeEPath() error = %v", err)
			}
			if got != tt.path {
				t.Errorf("DecodeEPath() = %+v, want %+v", got, tt.path)
			}
			if consumed != written {
				t.Errorf("consumed = %d, written = %d", consumed, written)
			}
		})
	}
}

func TestEPathSixteenBitLayout(t *testing.T) {
	w := NewWriter(16)
	AppendSegments(w, EPath{Class: 0x0102, Instance: 5})
	want := []byte{0x21, 0x00, 0x02, 0x01, 0x24, 0x05}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("segments = % X, want % X", w.Bytes(), want)
	}
}

func TestDecodeEPathErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"reserved segment type", []byte{0x01, 0x00, 0xE0, 0x01}, ErrMalformedPath},
		{"reserved high tag", []byte{0x01, 0x00, 0xFF, 0x01}, ErrMalformedPath},
		{"declared size past buffer", []byte{0x03, 0x00, 0x20, 0x01}, ErrShortBuffer},
		{"instance before class", []byte{0x02, 0x00, 0x24, 0x01, 0x20, 0x01}, ErrMalformedPath},
		{"16-bit crosses size", []byte{0x01, 0x00, 0x21, 0x00, 0x01, 0x01}, ErrMalformedPath},
		{"port segment", []byte{0x01, 0x00, 0x01, 0x00}, ErrUnsupportedSegment},
		{"empty path", []byte{0x00, 0x00}, ErrMalformedPath},
		{"missing size", []byte{0x01}, ErrShortBuffer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeEPath(NewCursor(tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodeEPath() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStringPadding(t *testing.T) {
	tests := []struct {
		value string
		want  []byte
	}{
		{"", []byte{0x00, 0x00}},
		{"ab", []byte{0x02, 0x00, 'a', 'b'}},
		{"abc", []byte{0x03, 0x00, 'a', 'b', 'c', 0x00}},
	}
	for _, tt := range tests {
		w := NewWriter(8)
		v := tt.value
		n, err := Encode(w, TypeString, &v)
		if err != nil {
			t.Fatalf("Encode(%q) error = %v", tt.value, err)
		}
		if !bytes.Equal(w.Bytes(), tt.want) || n != len(tt.want) {
			t.Errorf("Encode(%q) = % X (%d), want % X", tt.value, w.Bytes(), n, tt.want)
		}
		var got string
		consumed, err := Decode(NewCursor(w.Bytes()), TypeString, &got)
		if err != nil || got != tt.value || consumed != n {
			t.Errorf("Decode() = %q, %d, %v", got, consumed, err)
		}
	}
}

func TestShortString(t *testing.T) {
	w := NewWriter(8)
	name := "OpENer"
	if _, err := Encode(w, TypeShortString, &name); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := append([]byte{6}, "OpENer"...)
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("Encode() = % X, want % X", w.Bytes(), want)
	}

	long := string(make([]byte, 256))
	if _, err := Encode(NewWriter(0), TypeShortString, &long); !errors.Is(err, ErrValueTooLong) {
		t.Errorf("Encode(256 bytes) error = %v, want ErrValueTooLong", err)
	}

	var got string
	if _, err := Decode(NewCursor([]byte{5, 'a'}), TypeShortString, &got); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("Decode(truncated) error = %v, want ErrShortBuffer", err)
	}
}

func TestCompositeTypes(t *testing.T) {
	cfg := InterfaceConfig{
		IPAddress:   IPv4ToUint32(netip.MustParseAddr("192.168.1.10")),
		NetworkMask: IPv4ToUint32(netip.MustParseAddr("255.255.255.0")),
		Gateway:     IPv4ToUint32(netip.MustParseAddr("192.168.1.1")),
		DomainName:  "plant",
	}
	w := NewWriter(32)
	n, err := Encode(w, TypeInterfaceConfig, &cfg)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if n != 20+2+5+1 {
		t.Errorf("Encode() wrote %d bytes, want 28", n)
	}
	var got InterfaceConfig
	if _, err := Decode(NewCursor(w.Bytes()), TypeInterfaceConfig, &got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got != cfg {
		t.Errorf("Decode() = %+v, want %+v", got, cfg)
	}
	if Uint32ToIPv4(got.IPAddress).String() != "192.168.1.10" {
		t.Errorf("IP = %s", Uint32ToIPv4(got.IPAddress))
	}

	rev := Revision{Major: 2, Minor: 7}
	w = NewWriter(2)
	if _, err := Encode(w, TypeRevision, &rev); err != nil || !bytes.Equal(w.Bytes(), []byte{2, 7}) {
		t.Errorf("Encode(revision) = % X, %v", w.Bytes(), err)
	}

	mac := [6]byte{0x00, 0x1D, 0x9C, 0x01, 0x02, 0x03}
	w = NewWriter(6)
	if _, err := Encode(w, TypeMAC, &mac); err != nil || !bytes.Equal(w.Bytes(), mac[:]) {
		t.Errorf("Encode(mac) = % X, %v", w.Bytes(), err)
	}
}

func TestByteArrayDecodeLength(t *testing.T) {
	buf := make([]byte, 4)
	c := NewCursor([]byte{1, 2, 3, 4, 5})
	n, err := Decode(c, TypeByteArray, &buf)
	if err != nil || n != 4 {
		t.Fatalf("Decode() = %d, %v", n, err)
	}
	if !bytes.Equal(buf, []byte{1, 2, 3, 4}) || c.Len() != 1 {
		t.Errorf("buf = % X, remaining = %d", buf, c.Len())
	}

	short := make([]byte, 4)
	if _, err := Decode(NewCursor([]byte{9, 9}), TypeByteArray, &short); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("Decode(short) error = %v", err)
	}
	if !bytes.Equal(short, make([]byte, 4)) {
		t.Errorf("failed decode modified destination: % X", short)
	}
}

func TestSixtyFourBitGate(t *testing.T) {
	v := uint64(0x0102030405060708)
	narrow := Codec{Allow64Bit: false}
	if _, err := narrow.Encode(NewWriter(8), TypeUlint, &v); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("Encode(ULINT) with 64-bit disabled error = %v", err)
	}
	w := NewWriter(8)
	if n, err := Default.Encode(w, TypeUlint, &v); err != nil || n != 8 {
		t.Fatalf("Encode(ULINT) = %d, %v", n, err)
	}
	var got uint64
	if _, err := Default.Decode(NewCursor(w.Bytes()), TypeUlint, &got); err != nil || got != v {
		t.Errorf("Decode(ULINT) = 0x%X, %v", got, err)
	}
}

func TestTypeMismatch(t *testing.T) {
	v := uint32(1)
	if _, err := Encode(NewWriter(4), TypeUint, &v); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Encode(UINT, *uint32) error = %v", err)
	}
	if _, err := Encode(NewWriter(4), TypeUint, nil); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Encode(UINT, nil) error = %v", err)
	}
	if _, err := Encode(NewWriter(4), DataType(0x01), &v); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("Encode(unknown) error = %v", err)
	}
}
