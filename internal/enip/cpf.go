package enip

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// Common Packet Format item types.
const (
	CPFItemNullAddress      uint16 = 0x0000
	CPFItemListIdentity     uint16 = 0x000C
	CPFItemConnectedAddress uint16 = 0x00A1
	CPFItemConnectedData    uint16 = 0x00B1
	CPFItemUnconnectedData  uint16 = 0x00B2
	CPFItemListServices     uint16 = 0x0100
	CPFItemSockaddrOToT     uint16 = 0x8000
	CPFItemSockaddrTToO     uint16 = 0x8001
	CPFItemSequencedAddress uint16 = 0x8002
)

// SockaddrSize is the length of a sockaddr info item body.
const SockaddrSize = 16

var ErrCPF = errors.New("malformed common packet format")

// CPFItem is one Common Packet Format item.
type CPFItem struct {
	TypeID uint16
	Data   []byte
}

// ParseCPFItems decodes an item count followed by that many items. Item data
// aliases data.
func ParseCPFItems(data []byte) ([]CPFItem, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: missing item count", ErrCPF)
	}
	count := int(binary.LittleEndian.Uint16(data[0:2]))
	off := 2
	items := make([]CPFItem, 0, count)
	for i := 0; i < count; i++ {
		if off+4 > len(data) {
			return nil, fmt.Errorf("%w: item %d header truncated", ErrCPF, i)
		}
		typeID := binary.LittleEndian.Uint16(data[off : off+2])
		length := int(binary.LittleEndian.Uint16(data[off+2 : off+4]))
		off += 4
		if off+length > len(data) {
			return nil, fmt.Errorf("%w: item 0x%04X length %d exceeds data", ErrCPF, typeID, length)
		}
		items = append(items, CPFItem{TypeID: typeID, Data: data[off : off+length]})
		off += length
	}
	return items, nil
}

// EncodeCPFItems encodes the item count and items.
func EncodeCPFItems(items []CPFItem) []byte {
	size := 2
	for _, item := range items {
		size += 4 + len(item.Data)
	}
	out := make([]byte, size)
	binary.LittleEndian.PutUint16(out[0:2], uint16(len(items)))
	off := 2
	for _, item := range items {
		binary.LittleEndian.PutUint16(out[off:off+2], item.TypeID)
		binary.LittleEndian.PutUint16(out[off+2:off+4], uint16(len(item.Data)))
		copy(out[off+4:], item.Data)
		off += 4 + len(item.Data)
	}
	return out
}

// FindItem returns the first item of typeID.
func FindItem(items []CPFItem, typeID uint16) (CPFItem, bool) {
	for _, item := range items {
		if item.TypeID == typeID {
			return item, true
		}
	}
	return CPFItem{}, false
}

// BuildSendRRDataPayload wraps an unconnected message: interface handle,
// timeout, then a null address item and an unconnected data item.
func BuildSendRRDataPayload(cipData []byte, extra ...CPFItem) []byte {
	items := append([]CPFItem{
		{TypeID: CPFItemNullAddress},
		{TypeID: CPFItemUnconnectedData, Data: cipData},
	}, extra...)
	return append(make([]byte, 6), EncodeCPFItems(items)...)
}

// BuildSendUnitDataPayload wraps a connected message: interface handle,
// timeout, a connected address item and a connected data item that starts
// with the sequence count.
func BuildSendUnitDataPayload(connectionID uint32, sequence uint16, cipData []byte) []byte {
	addr := make([]byte, 4)
	binary.LittleEndian.PutUint32(addr, connectionID)
	data := make([]byte, 2+len(cipData))
	binary.LittleEndian.PutUint16(data[0:2], sequence)
	copy(data[2:], cipData)
	items := []CPFItem{
		{TypeID: CPFItemConnectedAddress, Data: addr},
		{TypeID: CPFItemConnectedData, Data: data},
	}
	return append(make([]byte, 6), EncodeCPFItems(items)...)
}

// SendRRDataRequest is the CPF content of a SendRRData command.
type SendRRDataRequest struct {
	CIPData []byte
	// Sockaddr items supplied by the originator; invalid when absent.
	OToT netip.AddrPort
	TToO netip.AddrPort
}

// ParseSendRRDataRequest skips the interface handle and timeout and returns
// the unconnected data item together with any sockaddr items.
func ParseSendRRDataRequest(data []byte) (SendRRDataRequest, error) {
	var req SendRRDataRequest
	if len(data) < 6 {
		return req, fmt.Errorf("%w: SendRRData too short: %d bytes", ErrCPF, len(data))
	}
	items, err := ParseCPFItems(data[6:])
	if err != nil {
		return req, err
	}
	if len(items) < 2 {
		return req, fmt.Errorf("%w: %d items", ErrCPF, len(items))
	}
	if items[0].TypeID != CPFItemNullAddress || len(items[0].Data) != 0 {
		return req, fmt.Errorf("%w: expected null address item, got 0x%04X", ErrCPF, items[0].TypeID)
	}
	if items[1].TypeID != CPFItemUnconnectedData {
		return req, fmt.Errorf("%w: expected unconnected data item, got 0x%04X", ErrCPF, items[1].TypeID)
	}
	req.CIPData = items[1].Data
	for _, item := range items[2:] {
		switch item.TypeID {
		case CPFItemSockaddrOToT:
			req.OToT, _ = ParseSockaddr(item.Data)
		case CPFItemSockaddrTToO:
			req.TToO, _ = ParseSockaddr(item.Data)
		}
	}
	return req, nil
}

// ParseSendRRDataResponse returns the unconnected data of a SendRRData reply.
func ParseSendRRDataResponse(data []byte) ([]byte, error) {
	req, err := ParseSendRRDataRequest(data)
	if err != nil {
		return nil, err
	}
	return req.CIPData, nil
}

// ParseSendUnitDataRequest returns the connection id, sequence count and
// message of a SendUnitData command.
func ParseSendUnitDataRequest(data []byte) (uint32, uint16, []byte, error) {
	if len(data) < 6 {
		return 0, 0, nil, fmt.Errorf("%w: SendUnitData too short: %d bytes", ErrCPF, len(data))
	}
	items, err := ParseCPFItems(data[6:])
	if err != nil {
		return 0, 0, nil, err
	}
	if len(items) < 2 {
		return 0, 0, nil, fmt.Errorf("%w: %d items", ErrCPF, len(items))
	}
	if items[0].TypeID != CPFItemConnectedAddress || len(items[0].Data) != 4 {
		return 0, 0, nil, fmt.Errorf("%w: expected connected address item", ErrCPF)
	}
	if items[1].TypeID != CPFItemConnectedData || len(items[1].Data) < 2 {
		return 0, 0, nil, fmt.Errorf("%w: expected connected data item", ErrCPF)
	}
	connID := binary.LittleEndian.Uint32(items[0].Data)
	seq := binary.LittleEndian.Uint16(items[1].Data[0:2])
	return connID, seq, items[1].Data[2:], nil
}

// IOPacket is a decoded implicit I/O datagram.
type IOPacket struct {
	ConnectionID uint32
	Sequence     uint32
	Data         []byte
}

// ParseIOPacket decodes a sequenced address item followed by a connected
// data item.
func ParseIOPacket(data []byte) (IOPacket, error) {
	var p IOPacket
	items, err := ParseCPFItems(data)
	if err != nil {
		return p, err
	}
	if len(items) < 2 {
		return p, fmt.Errorf("%w: %d items", ErrCPF, len(items))
	}
	if items[0].TypeID != CPFItemSequencedAddress || len(items[0].Data) != 8 {
		return p, fmt.Errorf("%w: expected sequenced address item, got 0x%04X", ErrCPF, items[0].TypeID)
	}
	if items[1].TypeID != CPFItemConnectedData {
		return p, fmt.Errorf("%w: expected connected data item, got 0x%04X", ErrCPF, items[1].TypeID)
	}
	p.ConnectionID = binary.LittleEndian.Uint32(items[0].Data[0:4])
	p.Sequence = binary.LittleEndian.Uint32(items[0].Data[4:8])
	p.Data = items[1].Data
	return p, nil
}

// EncodeIOPacket encodes an implicit I/O datagram.
func EncodeIOPacket(p IOPacket) []byte {
	addr := make([]byte, 8)
	binary.LittleEndian.PutUint32(addr[0:4], p.ConnectionID)
	binary.LittleEndian.PutUint32(addr[4:8], p.Sequence)
	return EncodeCPFItems([]CPFItem{
		{TypeID: CPFItemSequencedAddress, Data: addr},
		{TypeID: CPFItemConnectedData, Data: p.Data},
	})
}

// EncodeSockaddr encodes a sockaddr info item body. Fields are big-endian.
func EncodeSockaddr(addr netip.AddrPort) []byte {
	out := make([]byte, SockaddrSize)
	binary.BigEndian.PutUint16(out[0:2], 2) // AF_INET
	binary.BigEndian.PutUint16(out[2:4], addr.Port())
	ip := addr.Addr().Unmap()
	if ip.Is4() {
		b := ip.As4()
		copy(out[4:8], b[:])
	}
	return out
}

// ParseSockaddr decodes a sockaddr info item body.
func ParseSockaddr(data []byte) (netip.AddrPort, error) {
	if len(data) != SockaddrSize {
		return netip.AddrPort{}, fmt.Errorf("%w: sockaddr length %d", ErrCPF, len(data))
	}
	var ip [4]byte
	copy(ip[:], data[4:8])
	return netip.AddrPortFrom(netip.AddrFrom4(ip), binary.BigEndian.Uint16(data[2:4])), nil
}
