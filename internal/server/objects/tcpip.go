package objects

import (
	"net/netip"
	"time"

	"github.com/tturner/cipadapter/internal/cip/codec"
	"github.com/tturner/cipadapter/internal/cip/object"
	"github.com/tturner/cipadapter/internal/cip/spec"
)

// TCPIPConfig holds the TCP/IP Interface attributes.
type TCPIPConfig struct {
	Address     netip.Addr
	NetworkMask netip.Addr
	Gateway     netip.Addr
	NameServer  netip.Addr
	NameServer2 netip.Addr
	DomainName  string
	HostName    string
	TTL         uint8
	// InactivityTimeout is the encapsulation inactivity timeout in seconds.
	InactivityTimeout uint16
}

// TCPIP is the TCP/IP Interface object (class 0xF5, instance 1).
type TCPIP struct {
	status       uint32
	capability   uint32
	control      uint32
	physicalLink codec.EPath
	config       codec.InterfaceConfig
	hostName     string
	ttl          uint8
	inactivity   uint16

	onInactivity func(time.Duration)
}

// Interface configuration status: configured from non-volatile storage.
const tcpipStatusConfigured uint32 = 0x00000001

// NewTCPIP returns the interface object for cfg.
func NewTCPIP(cfg TCPIPConfig) *TCPIP {
	if cfg.TTL == 0 {
		cfg.TTL = 1
	}
	return &TCPIP{
		status:       tcpipStatusConfigured,
		capability:   0x00000004, // DHCP client capable
		physicalLink: codec.EPath{Class: spec.CIPClassEthernetLink, Instance: 1},
		config: codec.InterfaceConfig{
			IPAddress:   codec.IPv4ToUint32(cfg.Address),
			NetworkMask: codec.IPv4ToUint32(cfg.NetworkMask),
			Gateway:     codec.IPv4ToUint32(cfg.Gateway),
			NameServer:  codec.IPv4ToUint32(cfg.NameServer),
			NameServer2: codec.IPv4ToUint32(cfg.NameServer2),
			DomainName:  cfg.DomainName,
		},
		hostName:   cfg.HostName,
		ttl:        cfg.TTL,
		inactivity: cfg.InactivityTimeout,
	}
}

// OnInactivityChange registers fn to receive a new inactivity timeout set
// through attribute 13.
func (t *TCPIP) OnInactivityChange(fn func(time.Duration)) {
	t.onInactivity = fn
}

// Address returns the configured interface address.
func (t *TCPIP) Address() netip.Addr {
	return codec.Uint32ToIPv4(t.config.IPAddress)
}

// InactivityTimeout returns attribute 13 as a duration.
func (t *TCPIP) InactivityTimeout() time.Duration {
	return time.Duration(t.inactivity) * time.Second
}

// Register adds the TCP/IP Interface class and instance to reg.
func (t *TCPIP) Register(reg *object.Registry) error {
	class, err := reg.RegisterClass(object.ClassConfig{
		ID:           spec.CIPClassTCPIPInterface,
		Name:         "TCP/IP Interface",
		Revision:     4,
		MaxInstances: 1,
		GetAllMask:   object.MaskOf(1, 2, 3, 4, 5, 6, 8, 13),
	})
	if err != nil {
		return err
	}
	inst, err := class.CreateInstance(1)
	if err != nil {
		return err
	}
	for _, a := range []object.Attribute{
		{Number: 1, Type: codec.TypeDword, Value: &t.status, Access: object.Gettable},
		{Number: 2, Type: codec.TypeDword, Value: &t.capability, Access: object.Gettable},
		{Number: 3, Type: codec.TypeDword, Value: &t.control, Access: object.Gettable},
		{Number: 4, Type: codec.TypeEPath, Value: &t.physicalLink, Access: object.Gettable},
		{Number: 5, Type: codec.TypeInterfaceConfig, Value: &t.config, Access: object.Gettable},
		{Number: 6, Type: codec.TypeString, Value: &t.hostName, Access: object.Gettable},
		{Number: 8, Type: codec.TypeUsint, Value: &t.ttl, Access: object.Gettable},
		{
			Number: 13,
			Type:   codec.TypeUint,
			Value:  &t.inactivity,
			Access: object.Gettable | object.SetSingle,
			AfterSet: func() {
				if t.onInactivity != nil {
					t.onInactivity(t.InactivityTimeout())
				}
			},
		},
	} {
		if err := inst.AddAttribute(a); err != nil {
			return err
		}
	}
	return nil
}
