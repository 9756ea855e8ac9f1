package objects

import (
	"github.com/tturner/cipadapter/internal/cip/codec"
	"github.com/tturner/cipadapter/internal/cip/object"
	"github.com/tturner/cipadapter/internal/cip/spec"
)

// EthernetLinkConfig holds the Ethernet Link attributes.
type EthernetLinkConfig struct {
	SpeedMbps uint32
	MAC       [6]byte
}

// Interface flags: link active, full duplex.
const linkFlagsActiveFullDuplex uint32 = 0x00000003

// EthernetLink is the Ethernet Link object (class 0xF6, instance 1).
type EthernetLink struct {
	speed uint32
	flags uint32
	mac   [6]byte
}

// NewEthernetLink returns the link object for cfg.
func NewEthernetLink(cfg EthernetLinkConfig) *EthernetLink {
	if cfg.SpeedMbps == 0 {
		cfg.SpeedMbps = 100
	}
	return &EthernetLink{speed: cfg.SpeedMbps, flags: linkFlagsActiveFullDuplex, mac: cfg.MAC}
}

// Register adds the Ethernet Link class and instance to reg.
func (l *EthernetLink) Register(reg *object.Registry) error {
	class, err := reg.RegisterClass(object.ClassConfig{
		ID:           spec.CIPClassEthernetLink,
		Name:         "Ethernet Link",
		Revision:     3,
		MaxInstances: 1,
		GetAllMask:   object.MaskOf(1, 2, 3),
	})
	if err != nil {
		return err
	}
	inst, err := class.CreateInstance(1)
	if err != nil {
		return err
	}
	for _, a := range []object.Attribute{
		{Number: 1, Type: codec.TypeUdint, Value: &l.speed, Access: object.Gettable},
		{Number: 2, Type: codec.TypeDword, Value: &l.flags, Access: object.Gettable},
		{Number: 3, Type: codec.TypeMAC, Value: &l.mac, Access: object.Gettable},
	} {
		if err := inst.AddAttribute(a); err != nil {
			return err
		}
	}
	return nil
}
