package codec

import "fmt"

// Logical segment tags.
const (
	SegmentClass8            = 0x20
	SegmentClass16           = 0x21
	SegmentInstance8         = 0x24
	SegmentInstance16        = 0x25
	SegmentConnectionPoint8  = 0x2C
	SegmentConnectionPoint16 = 0x2D
	SegmentAttribute8        = 0x30
	SegmentAttribute16       = 0x31
	SegmentElectronicKey     = 0x34
)

const (
	segmentTypeMask     = 0xE0
	segmentTypeLogical  = 0x20
	segmentTypeReserved = 0xE0
	logicalTypeMask     = 0x1C
	logicalFormatMask   = 0x03
)

// LogicalType identifies what a logical segment addresses.
type LogicalType uint8

const (
	LogicalClass           LogicalType = 0x00
	LogicalInstance        LogicalType = 0x04
	LogicalMember          LogicalType = 0x08
	LogicalConnectionPoint LogicalType = 0x0C
	LogicalAttribute       LogicalType = 0x10
	LogicalSpecial         LogicalType = 0x14
)

// EPath addresses a class, instance and optionally an attribute.
// Attribute 0 means the path stops at the instance.
type EPath struct {
	Class     uint16
	Instance  uint16
	Attribute uint16
}

func (p EPath) String() string {
	if p.Attribute == 0 {
		return fmt.Sprintf("0x%02X/%d", p.Class, p.Instance)
	}
	return fmt.Sprintf("0x%02X/%d/%d", p.Class, p.Instance, p.Attribute)
}

// IsReservedSegment reports whether tag has the reserved segment type.
func IsReservedSegment(tag uint8) bool {
	return tag&segmentTypeMask == segmentTypeReserved
}

// IsLogicalSegment reports whether tag is a logical segment.
func IsLogicalSegment(tag uint8) bool {
	return tag&segmentTypeMask == segmentTypeLogical
}

// PutLogical appends one logical segment, choosing the 8-bit form below 256
// and the padded 16-bit form otherwise.
func PutLogical(w *Writer, kind LogicalType, value uint16) {
	tag := segmentTypeLogical | uint8(kind)
	if value < 0x100 {
		w.PutUint8(tag)
		w.PutUint8(uint8(value))
		return
	}
	w.PutUint8(tag | 0x01)
	w.PutUint8(0)
	w.PutUint16(value)
}

// ReadLogical decodes the value of a logical segment whose tag byte has
// already been consumed.
func ReadLogical(c *Cursor, tag uint8) (LogicalType, uint16, error) {
	if IsReservedSegment(tag) {
		return 0, 0, fmt.Errorf("%w: reserved segment 0x%02X", ErrMalformedPath, tag)
	}
	if !IsLogicalSegment(tag) {
		return 0, 0, fmt.Errorf("%w: segment 0x%02X", ErrUnsupportedSegment, tag)
	}
	kind := LogicalType(tag & logicalTypeMask)
	switch tag & logicalFormatMask {
	case 0:
		v, err := c.Uint8()
		if err != nil {
			return 0, 0, err
		}
		return kind, uint16(v), nil
	case 1:
		if err := c.Skip(1); err != nil {
			return 0, 0, err
		}
		v, err := c.Uint16()
		if err != nil {
			return 0, 0, err
		}
		return kind, v, nil
	default:
		return 0, 0, fmt.Errorf("%w: logical format in 0x%02X", ErrUnsupportedSegment, tag)
	}
}

// AppendSegments writes the class, instance and attribute segments of p
// without a size prefix.
func AppendSegments(w *Writer, p EPath) {
	PutLogical(w, LogicalClass, p.Class)
	PutLogical(w, LogicalInstance, p.Instance)
	if p.Attribute != 0 {
		PutLogical(w, LogicalAttribute, p.Attribute)
	}
}

// SizeWords returns the encoded segment length of p in 16-bit words.
func (p EPath) SizeWords() int {
	size := 0
	for _, v := range []uint16{p.Class, p.Instance, p.Attribute} {
		if v < 0x100 {
			size += 2
		} else {
			size += 4
		}
	}
	if p.Attribute == 0 {
		size -= 2
	}
	return size / 2
}

// EncodeEPath writes a 16-bit word count followed by the segments of p and
// returns the bytes written.
func EncodeEPath(w *Writer, p EPath) (int, error) {
	start := w.Len()
	w.PutUint16(uint16(p.SizeWords()))
	AppendSegments(w, p)
	return w.Len() - start, nil
}

// DecodeEPath reads a 16-bit word count and the segments that follow.
func DecodeEPath(c *Cursor) (EPath, int, error) {
	start := c.Offset()
	words, err := c.Uint16()
	if err != nil {
		return EPath{}, 0, err
	}
	p, err := DecodeSegments(c, int(words))
	if err != nil {
		return EPath{}, 0, err
	}
	return p, c.Offset() - start, nil
}

// DecodeSegments reads exactly words*2 bytes of class/instance/attribute
// segments. Segments must appear in class, instance, attribute order.
func DecodeSegments(c *Cursor, words int) (EPath, error) {
	if err := c.need(words * 2); err != nil {
		return EPath{}, err
	}
	end := c.Offset() + words*2
	var p EPath
	stage := 0
	for c.Offset() < end {
		tag, err := c.Uint8()
		if err != nil {
			return EPath{}, err
		}
		kind, value, err := ReadLogical(c, tag)
		if err != nil {
			return EPath{}, err
		}
		if c.Offset() > end {
			return EPath{}, fmt.Errorf("%w: segment crosses declared path size", ErrMalformedPath)
		}
		switch {
		case kind == LogicalClass && stage == 0:
			p.Class = value
			stage = 1
		case (kind == LogicalInstance || kind == LogicalConnectionPoint) && stage == 1:
			p.Instance = value
			stage = 2
		case kind == LogicalAttribute && stage == 2:
			p.Attribute = value
			stage = 3
		case kind == LogicalClass || kind == LogicalInstance || kind == LogicalAttribute || kind == LogicalConnectionPoint:
			return EPath{}, fmt.Errorf("%w: segment 0x%02X out of order", ErrMalformedPath, tag)
		default:
			return EPath{}, fmt.Errorf("%w: logical segment 0x%02X", ErrUnsupportedSegment, tag)
		}
	}
	if stage == 0 {
		return EPath{}, fmt.Errorf("%w: no class segment", ErrMalformedPath)
	}
	return p, nil
}
