package enip

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"
)

// ListServices capability flags.
const (
	ServiceFlagCIPOverTCP uint16 = 0x0020
	ServiceFlagClass01UDP uint16 = 0x0100
)

// Broadcast ListIdentity reply delay bounds.
const (
	DefaultListIdentityDelay = 2000 * time.Millisecond
	MinListIdentityDelay     = 500 * time.Millisecond
)

// IdentityInfo is the content of a ListIdentity reply item.
type IdentityInfo struct {
	Address     netip.AddrPort
	VendorID    uint16
	DeviceType  uint16
	ProductCode uint16
	Major       uint8
	Minor       uint8
	Status      uint16
	Serial      uint32
	ProductName string
	State       uint8
}

// BuildListIdentityItems encodes the CPF item list of a ListIdentity reply.
func BuildListIdentityItems(info IdentityInfo) []byte {
	name := info.ProductName
	if len(name) > 255 {
		name = name[:255]
	}
	body := make([]byte, 0, 34+len(name))
	body = binary.LittleEndian.AppendUint16(body, ProtocolVersion)
	body = append(body, EncodeSockaddr(info.Address)...)
	body = binary.LittleEndian.AppendUint16(body, info.VendorID)
	body = binary.LittleEndian.AppendUint16(body, info.DeviceType)
	body = binary.LittleEndian.AppendUint16(body, info.ProductCode)
	body = append(body, info.Major, info.Minor)
	body = binary.LittleEndian.AppendUint16(body, info.Status)
	body = binary.LittleEndian.AppendUint32(body, info.Serial)
	body = append(body, uint8(len(name)))
	body = append(body, name...)
	body = append(body, info.State)
	return EncodeCPFItems([]CPFItem{{TypeID: CPFItemListIdentity, Data: body}})
}

// ParseListIdentityItems decodes the first identity item of a ListIdentity
// reply.
func ParseListIdentityItems(data []byte) (IdentityInfo, error) {
	var info IdentityInfo
	items, err := ParseCPFItems(data)
	if err != nil {
		return info, err
	}
	item, ok := FindItem(items, CPFItemListIdentity)
	if !ok {
		return info, fmt.Errorf("%w: no identity item", ErrCPF)
	}
	b := item.Data
	if len(b) < 33 {
		return info, fmt.Errorf("%w: identity item %d bytes", ErrCPF, len(b))
	}
	info.Address, _ = ParseSockaddr(b[2:18])
	info.VendorID = binary.LittleEndian.Uint16(b[18:20])
	info.DeviceType = binary.LittleEndian.Uint16(b[20:22])
	info.ProductCode = binary.LittleEndian.Uint16(b[22:24])
	info.Major = b[24]
	info.Minor = b[25]
	info.Status = binary.LittleEndian.Uint16(b[26:28])
	info.Serial = binary.LittleEndian.Uint32(b[28:32])
	n := int(b[32])
	if len(b) < 33+n+1 {
		return info, fmt.Errorf("%w: identity product name truncated", ErrCPF)
	}
	info.ProductName = string(b[33 : 33+n])
	info.State = b[33+n]
	return info, nil
}

// BuildListServicesItems encodes the single communications service item.
func BuildListServicesItems() []byte {
	body := make([]byte, 20)
	binary.LittleEndian.PutUint16(body[0:2], ProtocolVersion)
	binary.LittleEndian.PutUint16(body[2:4], ServiceFlagCIPOverTCP|ServiceFlagClass01UDP)
	copy(body[4:], "Communications")
	return EncodeCPFItems([]CPFItem{{TypeID: CPFItemListServices, Data: body}})
}

// BuildListInterfacesItems encodes an empty interface list.
func BuildListInterfacesItems() []byte {
	return EncodeCPFItems(nil)
}

// ListIdentityDelay reads the broadcast reply delay from a sender context:
// zero selects the default and small values are raised to the floor.
func ListIdentityDelay(senderContext [8]byte) time.Duration {
	ms := binary.LittleEndian.Uint16(senderContext[0:2])
	if ms == 0 {
		return DefaultListIdentityDelay
	}
	d := time.Duration(ms) * time.Millisecond
	if d < MinListIdentityDelay {
		return MinListIdentityDelay
	}
	return d
}
