package connmgr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"github.com/tturner/cipadapter/internal/cip/protocol"
	"github.com/tturner/cipadapter/internal/enip"
)

// Connection is one entry of the active connection table.
type Connection struct {
	Number         uint16 // 1-based table slot
	State          State
	Type           InstanceType
	WatchdogAction WatchdogAction
	Triad          Triad
	Transport      TransportTrigger
	Multiplier     uint8
	Large          bool

	ConsumedID       uint32 // O->T, chosen by this device
	ProducedID       uint32 // T->O
	OriginatorOToTID uint32
	OriginatorTToOID uint32

	OToT    NetworkParams
	TToO    NetworkParams
	OToTRPI uint32 // microseconds
	TToORPI uint32
	OToTAPI uint32
	TToOAPI uint32

	Path           ConnectionPath
	ConfigPoint    uint16
	ConsumingPoint uint16
	ProducingPoint uint16

	Session     uint32
	Originator  netip.AddrPort
	Destination netip.AddrPort
	Opened      time.Time

	consumer        Point
	producer        Point
	config          Point
	runIdle         bool
	producedRunIdle bool

	watchdog       time.Duration
	watchdogPeriod time.Duration
	inhibit        time.Duration
	inhibitPeriod  time.Duration
	trigger        time.Duration
	pending        bool
	producing      bool

	consumedAny  bool
	eipConsumed  uint32
	cipConsumed  uint16
	eipProduced  uint32
	cipProduced  uint16
	lastProduced []byte

	explicitSeq   uint16
	explicitReply []byte
	repliedAny    bool

	rxPackets uint64
	txPackets uint64
	lastRun   bool
}

// armWatchdog loads the watchdog with its period, raised to floor.
func (c *Connection) armWatchdog(floor time.Duration) {
	c.watchdog = c.watchdogPeriod
	if c.watchdog < floor {
		c.watchdog = floor
	}
}

// Watchdog returns the remaining inactivity time.
func (c *Connection) Watchdog() time.Duration {
	return c.watchdog
}

// Producing reports whether this connection transmits T->O data.
func (c *Connection) Producing() bool {
	return c.producer != nil && c.producing
}

func (c *Connection) String() string {
	return fmt.Sprintf("%s 0x%08X/0x%08X %s", c.Type, c.ConsumedID, c.ProducedID, c.Triad)
}

// ConnectionInfo is a read-only snapshot of a connection, safe to hand to
// other goroutines.
type ConnectionInfo struct {
	Number         uint16         `json:"number"`
	State          string         `json:"state"`
	Type           string         `json:"type"`
	TransportClass uint8          `json:"transport_class"`
	Trigger        string         `json:"trigger"`
	Triad          Triad          `json:"-"`
	TriadString    string         `json:"triad"`
	ConsumedID     uint32         `json:"consumed_id"`
	ProducedID     uint32         `json:"produced_id"`
	OToTRPI        uint32         `json:"o_to_t_rpi_us"`
	TToORPI        uint32         `json:"t_to_o_rpi_us"`
	OToTType       string         `json:"o_to_t_type"`
	TToOType       string         `json:"t_to_o_type"`
	ConfigPoint    uint16         `json:"config_point"`
	ConsumingPoint uint16         `json:"consuming_point"`
	ProducingPoint uint16         `json:"producing_point"`
	Session        uint32         `json:"session,omitempty"`
	Originator     netip.AddrPort `json:"originator"`
	Destination    netip.AddrPort `json:"destination"`
	Producing      bool           `json:"producing"`
	Run            bool           `json:"run"`
	RxPackets      uint64         `json:"rx_packets"`
	TxPackets      uint64         `json:"tx_packets"`
	Opened         time.Time      `json:"opened"`
}

// Info returns a snapshot of c.
func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		Number:         c.Number,
		State:          c.State.String(),
		Type:           c.Type.String(),
		TransportClass: c.Transport.Class(),
		Trigger:        c.Transport.Trigger().String(),
		Triad:          c.Triad,
		TriadString:    c.Triad.String(),
		ConsumedID:     c.ConsumedID,
		ProducedID:     c.ProducedID,
		OToTRPI:        c.OToTRPI,
		TToORPI:        c.TToORPI,
		OToTType:       c.OToT.Type.String(),
		TToOType:       c.TToO.Type.String(),
		ConfigPoint:    c.ConfigPoint,
		ConsumingPoint: c.ConsumingPoint,
		ProducingPoint: c.ProducingPoint,
		Session:        c.Session,
		Originator:     c.Originator,
		Destination:    c.Destination,
		Producing:      c.Producing(),
		Run:            c.lastRun,
		RxPackets:      c.rxPackets,
		TxPackets:      c.txPackets,
		Opened:         c.Opened,
	}
}

// produce sends the current producer data. The CIP sequence count of class 1
// connections advances only when the data changed; the encapsulation
// sequence advances on every transmission.
func (m *Manager) produce(c *Connection) {
	data := c.producer.Data()
	class1 := c.Transport.Class() == 1
	if class1 && (c.lastProduced == nil || !bytes.Equal(data, c.lastProduced)) {
		c.cipProduced++
	}
	c.lastProduced = append(c.lastProduced[:0], data...)
	c.eipProduced++

	payload := make([]byte, 0, 6+len(data))
	if class1 {
		payload = binary.LittleEndian.AppendUint16(payload, c.cipProduced)
	}
	if c.producedRunIdle {
		payload = binary.LittleEndian.AppendUint32(payload, 1)
	}
	payload = append(payload, data...)

	packet := enip.EncodeIOPacket(enip.IOPacket{
		ConnectionID: c.ProducedID,
		Sequence:     c.eipProduced,
		Data:         payload,
	})
	if m.tx != nil {
		if err := m.tx.SendIO(c.Destination, packet); err != nil {
			m.logger.Verbose("connection 0x%08X: send to %s: %v", c.ConsumedID, c.Destination, err)
			return
		}
	}
	c.txPackets++
	if c.OToT.Type == ConnectionTypeNull {
		// nothing is consumed, production keeps the connection alive
		c.armWatchdog(0)
	}
}

// HandleIOPacket consumes an implicit I/O datagram received from from. It
// reports whether the packet was accepted.
func (m *Manager) HandleIOPacket(packet []byte, from netip.AddrPort) bool {
	p, err := enip.ParseIOPacket(packet)
	if err != nil {
		m.logger.Debug("I/O packet from %s: %v", from, err)
		return false
	}
	c, ok := m.byConsumed[p.ConnectionID]
	if !ok || c.Type == InstanceExplicit || c.State != StateEstablished {
		m.logger.Debug("I/O packet from %s for unknown connection 0x%08X", from, p.ConnectionID)
		return false
	}
	if c.Originator.Addr().Unmap() != from.Addr().Unmap() {
		m.logger.Debug("I/O packet for 0x%08X from unexpected %s", c.ConsumedID, from)
		return false
	}
	if c.consumedAny && !SeqGT32(p.Sequence, c.eipConsumed) {
		return false
	}

	data := p.Data
	class1 := c.Transport.Class() == 1
	var seq uint16
	if class1 {
		if len(data) < 2 {
			return false
		}
		seq = binary.LittleEndian.Uint16(data[0:2])
		data = data[2:]
	}
	run := true
	if c.runIdle {
		if len(data) < 4 {
			return false
		}
		run = binary.LittleEndian.Uint32(data[0:4])&0x01 != 0
		data = data[4:]
	}
	if c.consumer != nil && len(data) != c.consumer.Size() {
		m.logger.Verbose("connection 0x%08X: %d bytes for point %d of %d bytes",
			c.ConsumedID, len(data), c.ConsumingPoint, c.consumer.Size())
		return false
	}

	fresh := !c.consumedAny || !class1 || SeqGT16(seq, c.cipConsumed)
	c.consumedAny = true
	c.eipConsumed = p.Sequence
	c.armWatchdog(0)
	c.rxPackets++
	if !fresh {
		// no new data since the last sequence count
		return true
	}
	if class1 {
		c.cipConsumed = seq
	}
	c.lastRun = run
	if c.consumer == nil {
		return true
	}
	if run {
		if err := c.consumer.Write(data); err != nil {
			m.logger.Verbose("connection 0x%08X: write point %d: %v", c.ConsumedID, c.ConsumingPoint, err)
			return false
		}
	}
	if m.hooks.OnData != nil {
		m.hooks.OnData(c.ConsumingPoint, data, run)
	}
	return true
}

// ExplicitReply is the connected reply to a SendUnitData request.
type ExplicitReply struct {
	ConnectionID uint32
	Sequence     uint16
	Data         []byte
}

// HandleExplicit processes a connected explicit request received on session.
// A repeated sequence count returns the cached reply without executing the
// request again.
func (m *Manager) HandleExplicit(connID uint32, seq uint16, data []byte, session uint32, from netip.AddrPort) (ExplicitReply, bool) {
	c, ok := m.byConsumed[connID]
	if !ok || c.Type != InstanceExplicit || c.Session != session {
		m.logger.Verbose("connected request for unknown connection 0x%08X on session %d", connID, session)
		return ExplicitReply{}, false
	}
	c.armWatchdog(0)
	c.rxPackets++
	reply := ExplicitReply{ConnectionID: c.ProducedID, Sequence: seq}
	if c.repliedAny && seq == c.explicitSeq {
		m.logger.Debug("connection 0x%08X: repeated sequence %d", c.ConsumedID, seq)
		reply.Data = c.explicitReply
		return reply, true
	}
	var resp protocol.Response
	if m.msg != nil {
		resp = m.msg.HandleRequest(data, protocol.Origin{Addr: from, Session: session})
	}
	c.explicitSeq = seq
	c.explicitReply = resp.Encode()
	c.repliedAny = true
	c.txPackets++
	reply.Data = c.explicitReply
	return reply, true
}
