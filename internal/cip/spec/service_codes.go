package spec

import "github.com/tturner/cipadapter/internal/cip/protocol"

// CIP service codes handled by the adapter.
const (
	CIPServiceGetAttributeAll      protocol.ServiceCode = 0x01
	CIPServiceSetAttributeAll      protocol.ServiceCode = 0x02
	CIPServiceReset                protocol.ServiceCode = 0x05
	CIPServiceMultipleService      protocol.ServiceCode = 0x0A
	CIPServiceGetAttributeSingle   protocol.ServiceCode = 0x0E
	CIPServiceSetAttributeSingle   protocol.ServiceCode = 0x10
	CIPServiceForwardClose         protocol.ServiceCode = 0x4E
	CIPServiceUnconnectedSend      protocol.ServiceCode = 0x52
	CIPServiceForwardOpen          protocol.ServiceCode = 0x54
	CIPServiceGetConnectionData    protocol.ServiceCode = 0x56
	CIPServiceSearchConnectionData protocol.ServiceCode = 0x57
	CIPServiceGetConnectionOwner   protocol.ServiceCode = 0x5A
	CIPServiceLargeForwardOpen     protocol.ServiceCode = 0x5B
)

// CIP class codes of the objects the adapter hosts.
const (
	CIPClassIdentity          uint16 = 0x01
	CIPClassMessageRouter     uint16 = 0x02
	CIPClassAssembly          uint16 = 0x04
	CIPClassConnectionManager uint16 = 0x06
	CIPClassTCPIPInterface    uint16 = 0xF5
	CIPClassEthernetLink      uint16 = 0xF6
)
