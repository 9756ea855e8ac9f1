package protocol

// CIP (Common Industrial Protocol) Message Router encoding and decoding.

import (
	"fmt"
	"net/netip"

	"github.com/tturner/cipadapter/internal/cip/codec"
)

// ServiceCode represents a CIP service code.
type ServiceCode uint8

// ReplyBit is set in the service code of every reply.
const ReplyBit ServiceCode = 0x80

// Reply returns the reply service code for s.
func (s ServiceCode) Reply() ServiceCode {
	return s | ReplyBit
}

// IsReply reports whether s carries the reply bit.
func (s ServiceCode) IsReply() bool {
	return s&ReplyBit != 0
}

// Origin describes where a request came from.
type Origin struct {
	Addr    netip.AddrPort // originator socket address
	Session uint32         // encapsulation session handle, 0 for connected or UDP traffic
	// TToOSockAddr is the originator's requested T->O destination, taken from a
	// sockaddr info item in the same packet.
	TToOSockAddr netip.AddrPort
}

// Request represents a CIP service request.
type Request struct {
	Service ServiceCode
	Path    codec.EPath
	RawPath []byte
	Data    []byte // request body (no service/path)
	Origin  Origin
}

// Response represents a CIP service reply.
type Response struct {
	Service       ServiceCode // reply service code, request service | 0x80
	GeneralStatus uint8
	ExtStatus     []uint16
	Data          []byte
	// TToOSockAddr, when valid, is returned to the originator as a sockaddr
	// info item next to the reply.
	TToOSockAddr netip.AddrPort
}

// NewResponse returns a success reply shell for req.
func NewResponse(req Request) Response {
	return Response{Service: req.Service.Reply()}
}

// DecodeRequest decodes a Message Router request: service, path size in
// words, path segments and data. The returned request carries the service
// code even when path decoding fails so that an error reply can be built.
func DecodeRequest(data []byte) (Request, error) {
	c := codec.NewCursor(data)
	service, err := c.Uint8()
	if err != nil {
		return Request{}, fmt.Errorf("request service: %w", err)
	}
	req := Request{Service: ServiceCode(service)}
	words, err := c.Uint8()
	if err != nil {
		return req, fmt.Errorf("request path size: %w", err)
	}
	raw, err := c.Bytes(int(words) * 2)
	if err != nil {
		return req, fmt.Errorf("request path: %w", err)
	}
	req.RawPath = raw
	req.Data = c.Rest()
	path, err := codec.DecodeSegments(codec.NewCursor(raw), int(words))
	if err != nil {
		return req, fmt.Errorf("request path: %w", err)
	}
	req.Path = path
	return req, nil
}

// EncodeRequest encodes a Message Router request.
func EncodeRequest(req Request) []byte {
	w := codec.NewWriter(8 + len(req.Data))
	w.PutUint8(uint8(req.Service))
	if len(req.RawPath) > 0 {
		w.PutUint8(uint8(len(req.RawPath) / 2))
		w.PutBytes(req.RawPath)
	} else {
		w.PutUint8(uint8(req.Path.SizeWords()))
		codec.AppendSegments(w, req.Path)
	}
	w.PutBytes(req.Data)
	return w.Bytes()
}

// AppendTo writes the reply envelope: service, reserved byte, general status,
// extended status size in words, extended status words and data.
func (r Response) AppendTo(w *codec.Writer) {
	w.PutUint8(uint8(r.Service))
	w.PutUint8(0)
	w.PutUint8(r.GeneralStatus)
	w.PutUint8(uint8(len(r.ExtStatus)))
	for _, ext := range r.ExtStatus {
		w.PutUint16(ext)
	}
	w.PutBytes(r.Data)
}

// Encode returns the encoded reply envelope.
func (r Response) Encode() []byte {
	w := codec.NewWriter(4 + 2*len(r.ExtStatus) + len(r.Data))
	r.AppendTo(w)
	return w.Bytes()
}

// DecodeResponse decodes a reply envelope.
func DecodeResponse(data []byte) (Response, error) {
	c := codec.NewCursor(data)
	hdr, err := c.Bytes(4)
	if err != nil {
		return Response{}, fmt.Errorf("response header: %w", err)
	}
	resp := Response{
		Service:       ServiceCode(hdr[0]),
		GeneralStatus: hdr[2],
	}
	for i := 0; i < int(hdr[3]); i++ {
		ext, err := c.Uint16()
		if err != nil {
			return resp, fmt.Errorf("extended status: %w", err)
		}
		resp.ExtStatus = append(resp.ExtStatus, ext)
	}
	resp.Data = c.Rest()
	return resp, nil
}
