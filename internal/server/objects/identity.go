package objects

import (
	"net/netip"

	"github.com/tturner/cipadapter/internal/cip/codec"
	"github.com/tturner/cipadapter/internal/cip/object"
	"github.com/tturner/cipadapter/internal/cip/protocol"
	"github.com/tturner/cipadapter/internal/cip/spec"
	"github.com/tturner/cipadapter/internal/enip"
	"github.com/tturner/cipadapter/internal/server/connmgr"
)

// Identity status word bits.
const (
	StatusOwned      uint16 = 0x0001
	StatusConfigured uint16 = 0x0004
)

// IdentityConfig holds the identity attributes of the device.
type IdentityConfig struct {
	VendorID    uint16
	DeviceType  uint16
	ProductCode uint16
	Revision    codec.Revision
	Serial      uint32
	ProductName string
	// State is reported in ListIdentity replies.
	State uint8
}

// Identity is the Identity object (class 0x01, instance 1).
type Identity struct {
	vendorID    uint16
	deviceType  uint16
	productCode uint16
	revision    codec.Revision
	status      uint16
	serial      uint32
	productName string
	state       uint8

	onReset func(kind uint8) error
}

// NewIdentity returns an identity holding cfg.
func NewIdentity(cfg IdentityConfig) *Identity {
	if cfg.Revision.Major == 0 {
		cfg.Revision.Major = 1
	}
	return &Identity{
		vendorID:    cfg.VendorID,
		deviceType:  cfg.DeviceType,
		productCode: cfg.ProductCode,
		revision:    cfg.Revision,
		serial:      cfg.Serial,
		productName: cfg.ProductName,
		state:       cfg.State,
		status:      StatusConfigured,
	}
}

// Register adds the Identity class and its instance to reg.
func (id *Identity) Register(reg *object.Registry) error {
	class, err := reg.RegisterClass(object.ClassConfig{
		ID:              spec.CIPClassIdentity,
		Name:            "Identity",
		Revision:        1,
		GetAllMask:      object.MaskOf(1, 2, 3, 4, 5, 6, 7),
		ClassGetAllMask: object.MaskOf(1, 2, 6, 7),
	})
	if err != nil {
		return err
	}
	inst, err := class.CreateInstance(1)
	if err != nil {
		return err
	}
	for _, a := range []object.Attribute{
		{Number: 1, Type: codec.TypeUint, Value: &id.vendorID},
		{Number: 2, Type: codec.TypeUint, Value: &id.deviceType},
		{Number: 3, Type: codec.TypeUint, Value: &id.productCode},
		{Number: 4, Type: codec.TypeRevision, Value: &id.revision},
		{Number: 5, Type: codec.TypeWord, Value: &id.status},
		{Number: 6, Type: codec.TypeUdint, Value: &id.serial},
		{Number: 7, Type: codec.TypeShortString, Value: &id.productName},
	} {
		a.Access = object.Gettable
		if err := inst.AddAttribute(a); err != nil {
			return err
		}
	}
	class.AddService(object.Service{Code: spec.CIPServiceReset, Name: "Reset", Handler: id.serviceReset})
	return nil
}

// SetResetHandler installs the callback run by the Reset service. Type 0
// emulates a power cycle, type 1 returns to the initial configuration.
func (id *Identity) SetResetHandler(fn func(kind uint8) error) {
	id.onReset = fn
}

func (id *Identity) serviceReset(_ *object.Instance, req *protocol.Request, _ *protocol.Response) error {
	var kind uint8
	switch len(req.Data) {
	case 0:
	case 1:
		kind = req.Data[0]
	default:
		return object.Status(spec.StatusTooMuchData)
	}
	if kind > 1 {
		return object.Status(spec.StatusInvalidParameter)
	}
	if id.onReset == nil {
		return nil
	}
	if err := id.onReset(kind); err != nil {
		return object.Status(spec.StatusInvalidParameter)
	}
	return nil
}

// SetOwned sets or clears the owned bit of the status word.
func (id *Identity) SetOwned(owned bool) {
	if owned {
		id.status |= StatusOwned
	} else {
		id.status &^= StatusOwned
	}
}

// Status returns the status word.
func (id *Identity) Status() uint16 {
	return id.status
}

// ElectronicKey returns the key Forward Open requests are checked against.
func (id *Identity) ElectronicKey() connmgr.ElectronicKey {
	return connmgr.ElectronicKey{
		VendorID:      id.vendorID,
		DeviceType:    id.deviceType,
		ProductCode:   id.productCode,
		MajorRevision: id.revision.Major,
		MinorRevision: id.revision.Minor,
	}
}

// Info returns the ListIdentity content for a device reachable at addr.
func (id *Identity) Info(addr netip.AddrPort) enip.IdentityInfo {
	return enip.IdentityInfo{
		Address:     addr,
		VendorID:    id.vendorID,
		DeviceType:  id.deviceType,
		ProductCode: id.productCode,
		Major:       id.revision.Major,
		Minor:       id.revision.Minor,
		Status:      id.status,
		Serial:      id.serial,
		ProductName: id.productName,
		State:       id.state,
	}
}
