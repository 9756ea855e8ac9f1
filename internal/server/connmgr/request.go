package connmgr

import (
	"fmt"
	"time"

	"github.com/tturner/cipadapter/internal/cip/codec"
	"github.com/tturner/cipadapter/internal/cip/spec"
)

// Connection path segment tags beyond the logical ones in codec.
const (
	segmentProductionInhibit = 0x43
	segmentSimpleData        = 0x80
	segmentPort              = 0x01
)

// ForwardOpenRequest is a decoded Forward Open or Large Forward Open.
type ForwardOpenRequest struct {
	Large        bool
	PriorityTick uint8
	TimeoutTicks uint8
	OToTID       uint32
	TToOID       uint32
	Triad        Triad
	Multiplier   uint8
	OToTRPI      uint32 // microseconds
	OToTParams   NetworkParams
	TToORPI      uint32
	TToOParams   NetworkParams
	Transport    TransportTrigger
	PathWords    uint8
	RawPath      []byte
}

// DecodeForwardOpen parses the request data of a Forward Open.
func DecodeForwardOpen(data []byte, large bool) (ForwardOpenRequest, error) {
	c := codec.NewCursor(data)
	var r ForwardOpenRequest
	r.Large = large
	fixed := 35
	if large {
		fixed = 39
	}
	hdr, err := c.Bytes(fixed)
	if err != nil {
		return r, fmt.Errorf("forward open header: %w", err)
	}
	h := codec.NewCursor(hdr)
	r.PriorityTick, _ = h.Uint8()
	r.TimeoutTicks, _ = h.Uint8()
	r.OToTID, _ = h.Uint32()
	r.TToOID, _ = h.Uint32()
	r.Triad.ConnectionSerial, _ = h.Uint16()
	r.Triad.OriginatorVendor, _ = h.Uint16()
	r.Triad.OriginatorSerial, _ = h.Uint32()
	r.Multiplier, _ = h.Uint8()
	_ = h.Skip(3)
	r.OToTRPI, _ = h.Uint32()
	if large {
		v, _ := h.Uint32()
		r.OToTParams = ParseNetworkParams32(v)
	} else {
		v, _ := h.Uint16()
		r.OToTParams = ParseNetworkParams16(v)
	}
	r.TToORPI, _ = h.Uint32()
	if large {
		v, _ := h.Uint32()
		r.TToOParams = ParseNetworkParams32(v)
	} else {
		v, _ := h.Uint16()
		r.TToOParams = ParseNetworkParams16(v)
	}
	t, _ := h.Uint8()
	r.Transport = TransportTrigger(t)

	r.PathWords, err = c.Uint8()
	if err != nil {
		return r, fmt.Errorf("forward open path size: %w", err)
	}
	r.RawPath, err = c.Bytes(int(r.PathWords) * 2)
	if err != nil {
		return r, fmt.Errorf("forward open path: %w", err)
	}
	return r, nil
}

// Encode returns the request data of r, the inverse of DecodeForwardOpen.
func (r ForwardOpenRequest) Encode() []byte {
	w := codec.NewWriter(48 + len(r.RawPath))
	w.PutUint8(r.PriorityTick)
	w.PutUint8(r.TimeoutTicks)
	w.PutUint32(r.OToTID)
	w.PutUint32(r.TToOID)
	w.PutUint16(r.Triad.ConnectionSerial)
	w.PutUint16(r.Triad.OriginatorVendor)
	w.PutUint32(r.Triad.OriginatorSerial)
	w.PutUint8(r.Multiplier)
	w.PutZeros(3)
	w.PutUint32(r.OToTRPI)
	if r.Large {
		w.PutUint32(r.OToTParams.Encode32())
	} else {
		w.PutUint16(r.OToTParams.Encode16())
	}
	w.PutUint32(r.TToORPI)
	if r.Large {
		w.PutUint32(r.TToOParams.Encode32())
	} else {
		w.PutUint16(r.TToOParams.Encode16())
	}
	w.PutUint8(uint8(r.Transport))
	w.PutUint8(uint8(len(r.RawPath) / 2))
	w.PutBytes(r.RawPath)
	return w.Bytes()
}

// ConnectionPath is a decoded Forward Open connection path.
type ConnectionPath struct {
	Key        *ElectronicKey
	Class      uint16
	Instance   uint16 // configuration instance, or the target of an explicit connection
	HasClass   bool
	Points     []uint16
	Inhibit    time.Duration
	HasInhibit bool
	ConfigData []byte
}

// DecodeConnectionPath parses path segments. Errors are *OpenError values
// carrying the status to report.
func DecodeConnectionPath(raw []byte) (ConnectionPath, error) {
	var p ConnectionPath
	c := codec.NewCursor(raw)
	instances := 0
	for c.Len() > 0 {
		tag, _ := c.Uint8()
		switch {
		case tag == codec.SegmentElectronicKey:
			if p.HasClass || p.Key != nil {
				return p, reject(spec.ExtInvalidSegmentTypeInPath)
			}
			format, err := c.Uint8()
			if err != nil || format != 0x04 {
				return p, reject(spec.ExtInvalidSegmentTypeInPath)
			}
			body, err := c.Bytes(8)
			if err != nil {
				return p, reject(spec.ExtInvalidSegmentTypeInPath)
			}
			b := codec.NewCursor(body)
			var k ElectronicKey
			k.VendorID, _ = b.Uint16()
			k.DeviceType, _ = b.Uint16()
			k.ProductCode, _ = b.Uint16()
			major, _ := b.Uint8()
			k.MinorRevision, _ = b.Uint8()
			k.Compatibility = major&0x80 != 0
			k.MajorRevision = major & 0x7F
			p.Key = &k
		case tag == segmentProductionInhibit:
			ms, err := c.Uint8()
			if err != nil {
				return p, reject(spec.ExtInvalidSegmentTypeInPath)
			}
			p.Inhibit = time.Duration(ms) * time.Millisecond
			p.HasInhibit = true
		case tag == segmentSimpleData:
			words, err := c.Uint8()
			if err != nil {
				return p, reject(spec.ExtInvalidSegmentTypeInPath)
			}
			data, err := c.Bytes(int(words) * 2)
			if err != nil {
				return p, reject(spec.ExtInvalidSegmentTypeInPath)
			}
			p.ConfigData = data
		case codec.IsLogicalSegment(tag):
			kind, value, err := codec.ReadLogical(c, tag)
			if err != nil {
				return p, reject(spec.ExtInvalidSegmentTypeInPath)
			}
			switch kind {
			case codec.LogicalClass:
				if p.HasClass {
					return p, reject(spec.ExtInvalidSegmentTypeInPath)
				}
				p.Class = value
				p.HasClass = true
			case codec.LogicalInstance:
				if !p.HasClass {
					return p, reject(spec.ExtInvalidSegmentTypeInPath)
				}
				if instances == 0 {
					p.Instance = value
				} else {
					p.Points = append(p.Points, value)
				}
				instances++
			case codec.LogicalConnectionPoint:
				if !p.HasClass {
					return p, reject(spec.ExtInvalidSegmentTypeInPath)
				}
				p.Points = append(p.Points, value)
			default:
				return p, reject(spec.ExtInvalidSegmentTypeInPath)
			}
		default:
			return p, reject(spec.ExtInvalidSegmentTypeInPath)
		}
		if len(p.Points) > 2 {
			return p, reject(spec.ExtInvalidSegmentTypeInPath)
		}
	}
	if !p.HasClass {
		return p, reject(spec.ExtInvalidSegmentTypeInPath)
	}
	return p, nil
}

// EncodeConnectionPath builds a connection path: optional key, class,
// configuration instance and connection points.
func EncodeConnectionPath(key *ElectronicKey, class, config uint16, points ...uint16) []byte {
	w := codec.NewWriter(24)
	if key != nil {
		w.PutUint8(codec.SegmentElectronicKey)
		w.PutUint8(0x04)
		w.PutUint16(key.VendorID)
		w.PutUint16(key.DeviceType)
		w.PutUint16(key.ProductCode)
		major := key.MajorRevision & 0x7F
		if key.Compatibility {
			major |= 0x80
		}
		w.PutUint8(major)
		w.PutUint8(key.MinorRevision)
	}
	codec.PutLogical(w, codec.LogicalClass, class)
	codec.PutLogical(w, codec.LogicalInstance, config)
	for _, pt := range points {
		codec.PutLogical(w, codec.LogicalConnectionPoint, pt)
	}
	return w.Bytes()
}

// ForwardCloseRequest is a decoded Forward Close.
type ForwardCloseRequest struct {
	PriorityTick uint8
	TimeoutTicks uint8
	Triad        Triad
	PathWords    uint8
	RawPath      []byte
}

// DecodeForwardClose parses the request data of a Forward Close.
func DecodeForwardClose(data []byte) (ForwardCloseRequest, error) {
	c := codec.NewCursor(data)
	var r ForwardCloseRequest
	hdr, err := c.Bytes(12)
	if err != nil {
		return r, fmt.Errorf("forward close header: %w", err)
	}
	h := codec.NewCursor(hdr)
	r.PriorityTick, _ = h.Uint8()
	r.TimeoutTicks, _ = h.Uint8()
	r.Triad.ConnectionSerial, _ = h.Uint16()
	r.Triad.OriginatorVendor, _ = h.Uint16()
	r.Triad.OriginatorSerial, _ = h.Uint32()
	r.PathWords, _ = h.Uint8()
	r.RawPath, err = c.Bytes(int(r.PathWords) * 2)
	if err != nil {
		return r, fmt.Errorf("forward close path: %w", err)
	}
	return r, nil
}

// Encode returns the request data of r.
func (r ForwardCloseRequest) Encode() []byte {
	w := codec.NewWriter(12 + len(r.RawPath))
	w.PutUint8(r.PriorityTick)
	w.PutUint8(r.TimeoutTicks)
	w.PutUint16(r.Triad.ConnectionSerial)
	w.PutUint16(r.Triad.OriginatorVendor)
	w.PutUint32(r.Triad.OriginatorSerial)
	w.PutUint8(uint8(len(r.RawPath) / 2))
	w.PutUint8(0)
	w.PutBytes(r.RawPath)
	return w.Bytes()
}

// ForwardOpenReply is the success reply of a Forward Open.
type ForwardOpenReply struct {
	OToTID  uint32
	TToOID  uint32
	Triad   Triad
	OToTAPI uint32
	TToOAPI uint32
}

// Encode returns the reply data.
func (r ForwardOpenReply) Encode() []byte {
	w := codec.NewWriter(26)
	w.PutUint32(r.OToTID)
	w.PutUint32(r.TToOID)
	w.PutUint16(r.Triad.ConnectionSerial)
	w.PutUint16(r.Triad.OriginatorVendor)
	w.PutUint32(r.Triad.OriginatorSerial)
	w.PutUint32(r.OToTAPI)
	w.PutUint32(r.TToOAPI)
	w.PutUint8(0) // application reply size
	w.PutUint8(0)
	return w.Bytes()
}

// DecodeForwardOpenReply parses a success reply.
func DecodeForwardOpenReply(data []byte) (ForwardOpenReply, error) {
	c := codec.NewCursor(data)
	var r ForwardOpenReply
	var err error
	if r.OToTID, err = c.Uint32(); err != nil {
		return r, err
	}
	r.TToOID, _ = c.Uint32()
	r.Triad.ConnectionSerial, _ = c.Uint16()
	r.Triad.OriginatorVendor, _ = c.Uint16()
	r.Triad.OriginatorSerial, _ = c.Uint32()
	r.OToTAPI, _ = c.Uint32()
	if r.TToOAPI, err = c.Uint32(); err != nil {
		return r, err
	}
	return r, nil
}

// encodeTriadReply writes serial, vendor and originator serial followed by a
// size byte and a reserved byte. Forward Open errors and every Forward Close
// reply share this layout.
func encodeTriadReply(t Triad, size uint8) []byte {
	w := codec.NewWriter(10)
	w.PutUint16(t.ConnectionSerial)
	w.PutUint16(t.OriginatorVendor)
	w.PutUint32(t.OriginatorSerial)
	w.PutUint8(size)
	w.PutUint8(0)
	return w.Bytes()
}

// decodeRoute parses an Unconnected Send route path and reports whether it
// addresses this device (backplane port 1, link 0).
func decodeRoute(raw []byte) (local bool, err error) {
	c := codec.NewCursor(raw)
	tag, err := c.Uint8()
	if err != nil {
		return false, err
	}
	if tag&0xE0 != 0x00 || tag&0x10 != 0 {
		// extended link addresses never name the local device
		return false, nil
	}
	link, err := c.Uint8()
	if err != nil {
		return false, err
	}
	return tag&0x0F == segmentPort && link == 0, nil
}
