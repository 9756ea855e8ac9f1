package connmgr

import (
	"fmt"

	"github.com/tturner/cipadapter/internal/cip/spec"
)

// State is the lifecycle state of a connection.
type State uint8

const (
	StateNonExistent State = iota
	StateConfiguring
	StateWaitingForConnectionID
	StateEstablished
	StateTimedOut
	StateDeferredDelete
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateNonExistent:
		return "non-existent"
	case StateConfiguring:
		return "configuring"
	case StateWaitingForConnectionID:
		return "waiting-for-connection-id"
	case StateEstablished:
		return "established"
	case StateTimedOut:
		return "timed-out"
	case StateDeferredDelete:
		return "deferred-delete"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// InstanceType classifies a connection by what it consumes.
type InstanceType uint8

const (
	InstanceExplicit InstanceType = iota
	InstanceExclusiveOwner
	InstanceInputOnly
	InstanceListenOnly
)

func (t InstanceType) String() string {
	switch t {
	case InstanceExplicit:
		return "explicit"
	case InstanceExclusiveOwner:
		return "exclusive-owner"
	case InstanceInputOnly:
		return "input-only"
	case InstanceListenOnly:
		return "listen-only"
	}
	return fmt.Sprintf("instance(%d)", uint8(t))
}

// WatchdogAction is what happens when a connection's inactivity watchdog
// expires.
type WatchdogAction uint8

const (
	WatchdogTransitionToTimedOut WatchdogAction = iota
	WatchdogAutoDelete
	WatchdogAutoReset
	WatchdogDeferredDelete
)

// ConnectionType is the network connection type of one direction.
type ConnectionType uint8

const (
	ConnectionTypeNull ConnectionType = iota
	ConnectionTypeMulticast
	ConnectionTypePointToPoint
	ConnectionTypeReserved
)

func (t ConnectionType) String() string {
	switch t {
	case ConnectionTypeNull:
		return "null"
	case ConnectionTypeMulticast:
		return "multicast"
	case ConnectionTypePointToPoint:
		return "point-to-point"
	}
	return "reserved"
}

// NetworkParams is a decoded network connection parameter word.
type NetworkParams struct {
	RedundantOwner bool
	Type           ConnectionType
	Priority       uint8
	Variable       bool
	Size           uint16
}

// ParseNetworkParams16 decodes the 16-bit Forward Open form.
func ParseNetworkParams16(v uint16) NetworkParams {
	return NetworkParams{
		RedundantOwner: v&0x8000 != 0,
		Type:           ConnectionType((v >> 13) & 0x03),
		Priority:       uint8((v >> 10) & 0x03),
		Variable:       v&0x0200 != 0,
		Size:           v & 0x01FF,
	}
}

// ParseNetworkParams32 decodes the 32-bit Large Forward Open form.
func ParseNetworkParams32(v uint32) NetworkParams {
	return NetworkParams{
		RedundantOwner: v&0x80000000 != 0,
		Type:           ConnectionType((v >> 29) & 0x03),
		Priority:       uint8((v >> 26) & 0x03),
		Variable:       v&0x02000000 != 0,
		Size:           uint16(v & 0xFFFF),
	}
}

// Encode16 returns the 16-bit form of p.
func (p NetworkParams) Encode16() uint16 {
	v := uint16(p.Type&0x03)<<13 | uint16(p.Priority&0x03)<<10 | p.Size&0x01FF
	if p.RedundantOwner {
		v |= 0x8000
	}
	if p.Variable {
		v |= 0x0200
	}
	return v
}

// Encode32 returns the 32-bit form of p.
func (p NetworkParams) Encode32() uint32 {
	v := uint32(p.Type&0x03)<<29 | uint32(p.Priority&0x03)<<26 | uint32(p.Size)
	if p.RedundantOwner {
		v |= 0x80000000
	}
	if p.Variable {
		v |= 0x02000000
	}
	return v
}

// Trigger is the production trigger of a connection.
type Trigger uint8

const (
	TriggerCyclic        Trigger = 0x00
	TriggerChangeOfState Trigger = 0x10
	TriggerApplication   Trigger = 0x20
)

func (t Trigger) String() string {
	switch t {
	case TriggerCyclic:
		return "cyclic"
	case TriggerChangeOfState:
		return "change-of-state"
	case TriggerApplication:
		return "application"
	}
	return fmt.Sprintf("trigger(0x%02X)", uint8(t))
}

// TransportTrigger is the transport class and trigger byte of a Forward Open.
type TransportTrigger uint8

// Class returns the transport class (low four bits).
func (t TransportTrigger) Class() uint8 {
	return uint8(t) & 0x0F
}

// Trigger returns the production trigger.
func (t TransportTrigger) Trigger() Trigger {
	return Trigger(uint8(t) & 0x70)
}

// Server reports the direction bit.
func (t TransportTrigger) Server() bool {
	return uint8(t)&0x80 != 0
}

func (t TransportTrigger) valid() bool {
	switch t.Class() {
	case 0, 1, 3:
	default:
		return false
	}
	switch t.Trigger() {
	case TriggerCyclic, TriggerChangeOfState, TriggerApplication:
		return true
	}
	return false
}

// Triad identifies a connection across Forward Open and Forward Close.
type Triad struct {
	ConnectionSerial uint16
	OriginatorVendor uint16
	OriginatorSerial uint32
}

func (t Triad) String() string {
	return fmt.Sprintf("%04X/%04X/%08X", t.ConnectionSerial, t.OriginatorVendor, t.OriginatorSerial)
}

// ElectronicKey is a format-4 electronic key segment. Zero fields match
// anything.
type ElectronicKey struct {
	VendorID      uint16
	DeviceType    uint16
	ProductCode   uint16
	MajorRevision uint8
	MinorRevision uint8
	Compatibility bool
}

// KeySource supplies the local device key.
type KeySource interface {
	ElectronicKey() ElectronicKey
}

// Check compares a requested key against the device key and returns the
// extended status of the first mismatch, or 0.
func (k ElectronicKey) Check(device ElectronicKey) uint16 {
	if (k.VendorID != 0 && k.VendorID != device.VendorID) ||
		(k.ProductCode != 0 && k.ProductCode != device.ProductCode) {
		return spec.ExtVendorIDOrProductCodeMismatch
	}
	if k.DeviceType != 0 && k.DeviceType != device.DeviceType {
		return spec.ExtDeviceTypeMismatch
	}
	if k.MajorRevision == 0 && k.MinorRevision == 0 {
		return 0
	}
	if k.Compatibility {
		if k.MajorRevision != device.MajorRevision ||
			k.MinorRevision == 0 || k.MinorRevision > device.MinorRevision {
			return spec.ExtRevisionMismatch
		}
		return 0
	}
	if k.MajorRevision != 0 && k.MajorRevision != device.MajorRevision {
		return spec.ExtRevisionMismatch
	}
	if k.MinorRevision != 0 && k.MinorRevision != device.MinorRevision {
		return spec.ExtRevisionMismatch
	}
	return 0
}

// OpenError rejects a Forward Open. Additional carries extra status words,
// such as the expected size for size errors.
type OpenError struct {
	General    uint8
	Ext        uint16
	Additional []uint16
}

func reject(ext uint16, additional ...uint16) *OpenError {
	return &OpenError{General: spec.StatusConnectionFailure, Ext: ext, Additional: additional}
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("forward open rejected: status 0x%02X ext 0x%04X", e.General, e.Ext)
}

// Status returns the general status and extended status words.
func (e *OpenError) Status() (uint8, []uint16) {
	if e.General != spec.StatusConnectionFailure {
		return e.General, nil
	}
	return e.General, append([]uint16{e.Ext}, e.Additional...)
}

// SeqGT32 reports whether a follows b in 32-bit sequence space.
func SeqGT32(a, b uint32) bool {
	return int32(a-b) > 0
}

// SeqGT16 reports whether a follows b in 16-bit sequence space.
func SeqGT16(a, b uint16) bool {
	return int16(a-b) > 0
}
