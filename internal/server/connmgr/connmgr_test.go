package connmgr

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tturner/cipadapter/internal/cip/codec"
	"github.com/tturner/cipadapter/internal/cip/object"
	"github.com/tturner/cipadapter/internal/cip/protocol"
	"github.com/tturner/cipadapter/internal/cip/spec"
	"github.com/tturner/cipadapter/internal/enip"
)

const (
	pointInput      = 100
	pointOutput     = 150
	pointConfig     = 151
	pointInputOnly  = 152
	pointListenOnly = 153
)

type fakePoint struct {
	data   []byte
	writes int
	fail   error
}

func (p *fakePoint) Size() int    { return len(p.data) }
func (p *fakePoint) Data() []byte { return p.data }
func (p *fakePoint) Write(d []byte) error {
	if p.fail != nil {
		return p.fail
	}
	copy(p.data, d)
	p.writes++
	return nil
}

type fakePoints struct {
	consumers map[uint16]*fakePoint
	producers map[uint16]*fakePoint
	configs   map[uint16]*fakePoint
}

func lookup(m map[uint16]*fakePoint, id uint16) (Point, bool) {
	p, ok := m[id]
	if !ok {
		return nil, false
	}
	return p, true
}

func (f *fakePoints) Consumer(id uint16) (Point, bool) { return lookup(f.consumers, id) }
func (f *fakePoints) Producer(id uint16) (Point, bool) { return lookup(f.producers, id) }
func (f *fakePoints) Config(id uint16) (Point, bool)   { return lookup(f.configs, id) }

type sentPacket struct {
	dst    netip.AddrPort
	packet []byte
}

type fakeTx struct {
	sent []sentPacket
}

func (f *fakeTx) SendIO(dst netip.AddrPort, packet []byte) error {
	f.sent = append(f.sent, sentPacket{dst: dst, packet: packet})
	return nil
}

type fakeRouter struct {
	calls int
	resp  protocol.Response
}

func (f *fakeRouter) HandleRequest(_ []byte, _ protocol.Origin) protocol.Response {
	f.calls++
	return f.resp
}

type fakeKey ElectronicKey

func (k fakeKey) ElectronicKey() ElectronicKey { return ElectronicKey(k) }

type harness struct {
	m      *Manager
	points *fakePoints
	tx     *fakeTx
	router *fakeRouter
	events []Event
	data   []uint16
}

var (
	originator = protocol.Origin{Addr: netip.MustParseAddrPort("192.168.1.50:50000"), Session: 7}
	ioSource   = netip.MustParseAddrPort("192.168.1.50:2222")
	device     = fakeKey{VendorID: 1, DeviceType: 0x0C, ProductCode: 0x41, MajorRevision: 2, MinorRevision: 3}
)

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	cfg := Config{
		MaxConnections:      8,
		IncarnationID:       0x1234,
		ConsumedRunIdle:     true,
		HeartbeatInputOnly:  pointInputOnly,
		HeartbeatListenOnly: pointListenOnly,
		MulticastAddr:       netip.MustParseAddr("239.192.1.0"),
		TickInterval:        10 * time.Millisecond,
		MinRPI:              time.Millisecond,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	h := &harness{
		points: &fakePoints{
			consumers: map[uint16]*fakePoint{pointOutput: {data: make([]byte, 4)}},
			producers: map[uint16]*fakePoint{pointInput: {data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}},
			configs:   map[uint16]*fakePoint{pointConfig: {data: make([]byte, 4)}},
		},
		tx:     &fakeTx{},
		router: &fakeRouter{resp: protocol.Response{Service: 0x8E, Data: []byte{0xAA, 0xBB}}},
	}
	h.m = New(cfg, device, h.points, h.tx, h.router, nil)
	h.m.SetHooks(Hooks{
		OnEvent: func(e Event) { h.events = append(h.events, e) },
		OnData:  func(point uint16, _ []byte, _ bool) { h.data = append(h.data, point) },
	})
	return h
}

// ioRequest returns a class 1 cyclic request with multicast T->O sized for
// the harness points.
func ioRequest(serial uint16, points ...uint16) ForwardOpenRequest {
	oToTSize := uint16(2)
	if len(points) > 0 && points[0] == pointOutput {
		oToTSize = 2 + 4 + 4
	}
	return ForwardOpenRequest{
		OToTID:     0x80000001,
		TToOID:     0x80000100 + uint32(serial),
		Triad:      Triad{ConnectionSerial: serial, OriginatorVendor: 0x1234, OriginatorSerial: 0x00ABCDEF},
		OToTRPI:    10000,
		TToORPI:    10000,
		OToTParams: NetworkParams{Type: ConnectionTypePointToPoint, Size: oToTSize},
		TToOParams: NetworkParams{Type: ConnectionTypeMulticast, Size: 2 + 8},
		Transport:  0x01,
		RawPath:    EncodeConnectionPath(nil, spec.CIPClassAssembly, pointConfig, points...),
	}
}

func explicitRequest(serial uint16) ForwardOpenRequest {
	return ForwardOpenRequest{
		OToTID:     0x90000001,
		TToOID:     0x90000002,
		Triad:      Triad{ConnectionSerial: serial, OriginatorVendor: 0x1234, OriginatorSerial: 0x00ABCDEF},
		OToTRPI:    2000000,
		TToORPI:    2000000,
		OToTParams: NetworkParams{Type: ConnectionTypePointToPoint, Variable: true, Size: 500},
		TToOParams: NetworkParams{Type: ConnectionTypePointToPoint, Variable: true, Size: 500},
		Transport:  0xA3,
		RawPath:    EncodeConnectionPath(nil, spec.CIPClassMessageRouter, 1),
	}
}

func requireReject(t *testing.T, err error, ext uint16) *OpenError {
	t.Helper()
	var oe *OpenError
	require.True(t, errors.As(err, &oe), "expected *OpenError, got %v", err)
	assert.Equal(t, ext, oe.Ext, "ext status 0x%04X", oe.Ext)
	return oe
}

func TestSequenceComparison(t *testing.T) {
	assert.True(t, SeqGT32(0x00000005, 0xFFFFFFF0))
	assert.False(t, SeqGT32(0xFFFFFFF0, 0x00000005))
	assert.False(t, SeqGT32(7, 7))
	assert.True(t, SeqGT16(3, 0xFFF0))
	assert.False(t, SeqGT16(0xFFF0, 3))
}

func TestForwardOpenExclusiveOwner(t *testing.T) {
	h := newHarness(t)
	c, err := h.m.ForwardOpen(ioRequest(1, pointOutput, pointInput), originator)
	require.NoError(t, err)

	assert.Equal(t, StateEstablished, c.State)
	assert.Equal(t, InstanceExclusiveOwner, c.Type)
	assert.Equal(t, 1, h.m.Len())
	assert.Equal(t, uint32(0x1234), c.ConsumedID>>16)
	assert.Equal(t, uint32(0x1234), c.ProducedID>>16)
	assert.NotEqual(t, c.ConsumedID, c.ProducedID)
	assert.Equal(t, netip.MustParseAddrPort("239.192.1.0:2222"), c.Destination)
	assert.Equal(t, uint32(10000), c.OToTAPI)
	assert.Equal(t, 10*time.Second, c.Watchdog())
	assert.True(t, h.m.PointOwned(pointOutput))
	assert.True(t, h.m.HasIOConnections())

	require.Len(t, h.events, 1)
	assert.Equal(t, EventOpened, h.events[0].Kind)
	assert.Equal(t, uint16(1), h.m.Counters().OpenRequests)
}

func TestForwardOpenPointToPointDestination(t *testing.T) {
	h := newHarness(t)
	req := ioRequest(1, pointOutput, pointInput)
	req.TToOParams.Type = ConnectionTypePointToPoint
	c, err := h.m.ForwardOpen(req, originator)
	require.NoError(t, err)
	assert.Equal(t, req.TToOID, c.ProducedID)
	assert.Equal(t, netip.MustParseAddrPort("192.168.1.50:2222"), c.Destination)

	origin := originator
	origin.TToOSockAddr = netip.MustParseAddrPort("0.0.0.0:3000")
	req = ioRequest(2, pointInputOnly, pointInput)
	req.TToOParams.Type = ConnectionTypePointToPoint
	c, err = h.m.ForwardOpen(req, origin)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("192.168.1.50:3000"), c.Destination)
}

func TestForwardOpenKeyMismatchLeavesTable(t *testing.T) {
	tests := []struct {
		name string
		key  ElectronicKey
		ext  uint16
	}{
		{"vendor", ElectronicKey{VendorID: 99}, spec.ExtVendorIDOrProductCodeMismatch},
		{"product", ElectronicKey{VendorID: 1, ProductCode: 7}, spec.ExtVendorIDOrProductCodeMismatch},
		{"device type", ElectronicKey{DeviceType: 0x2B}, spec.ExtDeviceTypeMismatch},
		{"exact revision", ElectronicKey{MajorRevision: 2, MinorRevision: 4}, spec.ExtRevisionMismatch},
		{"compatible minor too new", ElectronicKey{MajorRevision: 2, MinorRevision: 4, Compatibility: true}, spec.ExtRevisionMismatch},
		{"compatible zero minor", ElectronicKey{MajorRevision: 2, Compatibility: true}, spec.ExtRevisionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			req := ioRequest(1, pointOutput, pointInput)
			key := tt.key
			req.RawPath = EncodeConnectionPath(&key, spec.CIPClassAssembly, pointConfig, pointOutput, pointInput)
			_, err := h.m.ForwardOpen(req, originator)
			requireReject(t, err, tt.ext)
			assert.Equal(t, 0, h.m.Len())
			assert.Empty(t, h.events)
			assert.Equal(t, uint16(1), h.m.Counters().OpenOtherRejects)
		})
	}

	t.Run("compatible older minor accepted", func(t *testing.T) {
		h := newHarness(t)
		req := ioRequest(1, pointOutput, pointInput)
		key := ElectronicKey{VendorID: 1, MajorRevision: 2, MinorRevision: 1, Compatibility: true}
		req.RawPath = EncodeConnectionPath(&key, spec.CIPClassAssembly, pointConfig, pointOutput, pointInput)
		_, err := h.m.ForwardOpen(req, originator)
		require.NoError(t, err)
	})
}

func TestForwardOpenDuplicateTriad(t *testing.T) {
	h := newHarness(t)
	first, err := h.m.ForwardOpen(ioRequest(1, pointOutput, pointInput), originator)
	require.NoError(t, err)

	_, err = h.m.ForwardOpen(ioRequest(1, pointInputOnly, pointInput), originator)
	requireReject(t, err, spec.ExtConnectionInUse)
	assert.Equal(t, StateEstablished, first.State)
	assert.Equal(t, 1, h.m.Len())
}

func TestForwardOpenRejections(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*ForwardOpenRequest)
		ext        uint16
		additional []uint16
	}{
		{"transport class", func(r *ForwardOpenRequest) { r.Transport = 0x02 }, spec.ExtTransportTriggerNotSupported, nil},
		{"trigger", func(r *ForwardOpenRequest) { r.Transport = 0x31 }, spec.ExtTransportTriggerNotSupported, nil},
		{"reserved o->t type", func(r *ForwardOpenRequest) { r.OToTParams.Type = ConnectionTypeReserved }, spec.ExtInvalidOToTConnectionType, nil},
		{"reserved t->o type", func(r *ForwardOpenRequest) { r.TToOParams.Type = ConnectionTypeReserved }, spec.ExtInvalidTToOConnectionType, nil},
		{"multicast o->t", func(r *ForwardOpenRequest) { r.OToTParams.Type = ConnectionTypeMulticast }, spec.ExtInvalidOToTConnectionType, nil},
		{"o->t size", func(r *ForwardOpenRequest) { r.OToTParams.Size = 8 }, spec.ExtInvalidOToTSize, []uint16{10}},
		{"t->o size", func(r *ForwardOpenRequest) { r.TToOParams.Size = 12 }, spec.ExtInvalidTToOSize, []uint16{10}},
		{"variable o->t too large", func(r *ForwardOpenRequest) {
			r.OToTParams.Variable = true
			r.OToTParams.Size = 11
		}, spec.ExtInvalidOToTSize, []uint16{10}},
		{"rpi below minimum", func(r *ForwardOpenRequest) { r.OToTRPI = 500 }, spec.ExtRPINotSupported, nil},
		{"unknown consumer", func(r *ForwardOpenRequest) {
			r.RawPath = EncodeConnectionPath(nil, spec.CIPClassAssembly, pointConfig, 160, pointInput)
		}, spec.ExtInvalidConsumingApplicationPath, nil},
		{"unknown producer", func(r *ForwardOpenRequest) {
			r.RawPath = EncodeConnectionPath(nil, spec.CIPClassAssembly, pointConfig, pointOutput, 101)
		}, spec.ExtInvalidProducingApplicationPath, nil},
		{"wrong class", func(r *ForwardOpenRequest) {
			r.RawPath = EncodeConnectionPath(nil, 0x64, pointConfig, pointOutput, pointInput)
		}, spec.ExtInvalidSegmentTypeInPath, nil},
		{"bad segment", func(r *ForwardOpenRequest) { r.RawPath = []byte{0x99, 0x00} }, spec.ExtInvalidSegmentTypeInPath, nil},
		{"both null", func(r *ForwardOpenRequest) {
			r.OToTParams.Type = ConnectionTypeNull
			r.TToOParams.Type = ConnectionTypeNull
		}, spec.ExtInconsistentApplicationPathCombo, nil},
		{"input-only without t->o", func(r *ForwardOpenRequest) {
			r.RawPath = EncodeConnectionPath(nil, spec.CIPClassAssembly, pointConfig, pointInputOnly, pointInput)
			r.OToTParams.Size = 2
			r.TToOParams.Type = ConnectionTypeNull
		}, spec.ExtInvalidTToOConnectionType, nil},
		{"config data size", func(r *ForwardOpenRequest) {
			r.RawPath = append(r.RawPath, segmentSimpleData, 1, 0x01, 0x02)
		}, spec.ExtInvalidConfigurationApplicationPath, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			req := ioRequest(1, pointOutput, pointInput)
			tt.mutate(&req)
			_, err := h.m.ForwardOpen(req, originator)
			oe := requireReject(t, err, tt.ext)
			assert.Equal(t, tt.additional, oe.Additional)
			assert.Equal(t, 0, h.m.Len())
		})
	}
}

func TestForwardOpenFormatRejectCounted(t *testing.T) {
	h := newHarness(t)
	req := ioRequest(1, pointOutput, pointInput)
	req.RawPath = []byte{0x99, 0x00}
	_, err := h.m.ForwardOpen(req, originator)
	require.Error(t, err)
	assert.Equal(t, uint16(1), h.m.Counters().OpenFormatRejects)
}

func TestForwardOpenConfigData(t *testing.T) {
	h := newHarness(t)
	req := ioRequest(1, pointOutput, pointInput)
	req.RawPath = append(req.RawPath, segmentSimpleData, 2, 0xDE, 0xAD, 0xBE, 0xEF)
	_, err := h.m.ForwardOpen(req, originator)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, h.points.configs[pointConfig].data)

	h = newHarness(t)
	h.points.configs[pointConfig].fail = errors.New("locked")
	req.Triad.ConnectionSerial = 2
	_, err = h.m.ForwardOpen(req, originator)
	requireReject(t, err, spec.ExtInvalidConfigurationApplicationPath)
	assert.Equal(t, 0, h.m.Len())
}

func TestForwardOpenOwnershipAndCapacity(t *testing.T) {
	t.Run("exclusive owner conflict", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.m.ForwardOpen(ioRequest(1, pointOutput, pointInput), originator)
		require.NoError(t, err)
		_, err = h.m.ForwardOpen(ioRequest(2, pointOutput, pointInput), originator)
		requireReject(t, err, spec.ExtOwnershipConflict)
	})

	t.Run("table full", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.MaxConnections = 1 })
		_, err := h.m.ForwardOpen(ioRequest(1, pointOutput, pointInput), originator)
		require.NoError(t, err)
		_, err = h.m.ForwardOpen(ioRequest(2, pointInputOnly, pointInput), originator)
		requireReject(t, err, spec.ExtNoMoreConnectionsAvailable)
		assert.Equal(t, uint16(1), h.m.Counters().OpenResourceRejects)
		assert.Equal(t, 1, h.m.Len())
	})

	t.Run("point full", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.MaxConnectionsPerPoint = 2 })
		_, err := h.m.ForwardOpen(ioRequest(1, pointInputOnly, pointInput), originator)
		require.NoError(t, err)
		_, err = h.m.ForwardOpen(ioRequest(2, pointInputOnly, pointInput), originator)
		require.NoError(t, err)
		_, err = h.m.ForwardOpen(ioRequest(3, pointInputOnly, pointInput), originator)
		requireReject(t, err, spec.ExtTargetObjectOutOfConnections)
	})
}

func TestListenOnlyRules(t *testing.T) {
	t.Run("needs an owner", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.m.ForwardOpen(ioRequest(1, pointListenOnly, pointInput), originator)
		requireReject(t, err, spec.ExtNonListenOnlyConnectionNotOpened)
	})

	t.Run("point to point rejected", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.m.ForwardOpen(ioRequest(1, pointOutput, pointInput), originator)
		require.NoError(t, err)
		req := ioRequest(2, pointListenOnly, pointInput)
		req.TToOParams.Type = ConnectionTypePointToPoint
		_, err = h.m.ForwardOpen(req, originator)
		requireReject(t, err, spec.ExtInvalidTToOConnectionType)
	})
}

func TestMulticastSharingAndHandOver(t *testing.T) {
	h := newHarness(t)
	owner, err := h.m.ForwardOpen(ioRequest(1, pointOutput, pointInput), originator)
	require.NoError(t, err)
	input, err := h.m.ForwardOpen(ioRequest(2, pointInputOnly, pointInput), originator)
	require.NoError(t, err)
	listen, err := h.m.ForwardOpen(ioRequest(3, pointListenOnly, pointInput), originator)
	require.NoError(t, err)

	assert.Equal(t, InstanceInputOnly, input.Type)
	assert.Equal(t, InstanceListenOnly, listen.Type)
	assert.Equal(t, owner.ProducedID, input.ProducedID)
	assert.Equal(t, owner.ProducedID, listen.ProducedID)
	assert.True(t, owner.Producing())
	assert.False(t, input.Producing())
	assert.False(t, listen.Producing())

	h.m.ManageConnections(10 * time.Millisecond)
	require.Len(t, h.tx.sent, 1)

	require.NoError(t, h.m.ForwardClose(ForwardCloseRequest{Triad: owner.Triad}, originator))
	assert.Equal(t, StateNonExistent, owner.State)
	assert.Equal(t, 2, h.m.Len())
	assert.True(t, input.Producing())

	h.m.ManageConnections(10 * time.Millisecond)
	require.Len(t, h.tx.sent, 2)
	p, err := enip.ParseIOPacket(h.tx.sent[1].packet)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), p.Sequence, "sequence continues across hand-over")

	require.NoError(t, h.m.ForwardClose(ForwardCloseRequest{Triad: input.Triad}, originator))
	assert.Equal(t, 0, h.m.Len(), "listen-only closes with the last owner")
	assert.Equal(t, StateNonExistent, listen.State)
}

func TestForwardCloseUnknown(t *testing.T) {
	h := newHarness(t)
	err := h.m.ForwardClose(ForwardCloseRequest{Triad: Triad{ConnectionSerial: 9}}, originator)
	requireReject(t, err, spec.ExtConnectionNotFoundAtTargetApplication)
	assert.Equal(t, uint16(1), h.m.Counters().CloseRequests)
	assert.Equal(t, uint16(1), h.m.Counters().CloseOtherRequests)
}

func TestWatchdogTimeout(t *testing.T) {
	h := newHarness(t)
	reg := object.NewRegistry(object.RegistryConfig{Codec: codec.Default})
	require.NoError(t, h.m.Register(reg))

	c, err := h.m.ForwardOpen(ioRequest(1, pointOutput, pointInput), originator)
	require.NoError(t, err)

	owner := func() protocol.Response {
		path := EncodeConnectionPath(nil, spec.CIPClassAssembly, pointOutput)
		data := append([]byte{0, uint8(len(path) / 2)}, path...)
		return invokeCM(t, reg, spec.CIPServiceGetConnectionOwner, data)
	}
	resp := owner()
	require.Equal(t, uint8(spec.StatusSuccess), resp.GeneralStatus)
	assert.Equal(t, []byte{1, 1, 0, 0}, resp.Data[:4])
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(resp.Data[4:6]))

	h.m.ManageConnections(9 * time.Second)
	assert.Equal(t, StateEstablished, c.State)

	h.m.ManageConnections(2 * time.Second)
	assert.Equal(t, StateTimedOut, c.State)
	assert.Equal(t, 0, h.m.Len())
	assert.Equal(t, uint16(1), h.m.Counters().ConnectionTimeouts)
	assert.Equal(t, EventTimedOut, h.events[len(h.events)-1].Kind)

	resp = owner()
	assert.Equal(t, uint8(spec.StatusConnectionFailure), resp.GeneralStatus)
	assert.Equal(t, []uint16{spec.ExtConnectionNotFoundAtTargetApplication}, resp.ExtStatus)
}

func TestWatchdogFollowsTraffic(t *testing.T) {
	h := newHarness(t)
	c, err := h.m.ForwardOpen(ioRequest(1, pointOutput, pointInput), originator)
	require.NoError(t, err)
	require.True(t, h.m.HandleIOPacket(ioPacket(c.ConsumedID, 1, 1, 1, []byte{9, 9, 9, 9}), ioSource))
	assert.Equal(t, 40*time.Millisecond, c.Watchdog())

	h.m.ManageConnections(50 * time.Millisecond)
	assert.Equal(t, StateTimedOut, c.State)
}

func TestWatchdogUsesGrantedInterval(t *testing.T) {
	h := newHarness(t)
	req := ioRequest(1, pointOutput, pointInput)
	req.OToTRPI = 2000
	req.TToORPI = 2000
	c, err := h.m.ForwardOpen(req, originator)
	require.NoError(t, err)
	assert.Equal(t, uint32(10000), c.OToTAPI)
	assert.Equal(t, uint32(10000), c.TToOAPI)

	require.True(t, h.m.HandleIOPacket(ioPacket(c.ConsumedID, 1, 1, 1, []byte{9, 9, 9, 9}), ioSource))
	assert.Equal(t, 40*time.Millisecond, c.Watchdog())

	for i := uint32(2); i < 6; i++ {
		h.m.ManageConnections(10 * time.Millisecond)
		require.Equal(t, StateEstablished, c.State, "packet %d", i)
		require.True(t, h.m.HandleIOPacket(ioPacket(c.ConsumedID, i, uint16(i), 1, []byte{9, 9, 9, 9}), ioSource))
	}
}

func TestWatchdogNeverBelowTick(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 10*time.Millisecond, h.m.watchdog(500, 0))
	assert.Equal(t, 10*time.Millisecond, h.m.watchdog(2000, 0))
	assert.Equal(t, 40*time.Millisecond, h.m.watchdog(10000, 0))
}

func TestWatchdogPeriod(t *testing.T) {
	assert.Equal(t, 40*time.Millisecond, watchdogPeriod(10000, 0))
	assert.Equal(t, 160*time.Millisecond, watchdogPeriod(10000, 2))
	assert.Equal(t, 512*time.Second, watchdogPeriod(1000000, 7))
}

func TestCyclicProduction(t *testing.T) {
	h := newHarness(t)
	c, err := h.m.ForwardOpen(ioRequest(1, pointOutput, pointInput), originator)
	require.NoError(t, err)

	producer := h.points.producers[pointInput]
	h.m.ManageConnections(10 * time.Millisecond)
	h.m.ManageConnections(10 * time.Millisecond)
	producer.data[0] = 0x55
	h.m.ManageConnections(10 * time.Millisecond)
	require.Len(t, h.tx.sent, 3)

	var cipSeqs []uint16
	for i, s := range h.tx.sent {
		assert.Equal(t, c.Destination, s.dst)
		p, err := enip.ParseIOPacket(s.packet)
		require.NoError(t, err)
		assert.Equal(t, c.ProducedID, p.ConnectionID)
		assert.Equal(t, uint32(i+1), p.Sequence)
		require.Len(t, p.Data, 10)
		cipSeqs = append(cipSeqs, binary.LittleEndian.Uint16(p.Data[0:2]))
	}
	assert.Equal(t, []uint16{1, 1, 2}, cipSeqs, "class 1 sequence advances only on new data")
}

func TestChangeOfStateHonorsInhibit(t *testing.T) {
	h := newHarness(t)
	req := ioRequest(1, pointOutput, pointInput)
	req.Transport = 0x11
	req.TToORPI = 100000
	req.RawPath = append(req.RawPath, segmentProductionInhibit, 50)
	_, err := h.m.ForwardOpen(req, originator)
	require.NoError(t, err)

	h.m.ManageConnections(10 * time.Millisecond)
	require.Len(t, h.tx.sent, 1)

	h.m.TriggerProduction(pointInput)
	for i := 0; i < 3; i++ {
		h.m.ManageConnections(10 * time.Millisecond)
	}
	assert.Len(t, h.tx.sent, 1, "inhibit time not yet elapsed")

	h.m.ManageConnections(10 * time.Millisecond)
	h.m.ManageConnections(10 * time.Millisecond)
	assert.Len(t, h.tx.sent, 2)

	for i := 0; i < 5; i++ {
		h.m.ManageConnections(10 * time.Millisecond)
	}
	assert.Len(t, h.tx.sent, 2, "no pending change")
}

func TestChangeOfStateInhibitAboveRPI(t *testing.T) {
	h := newHarness(t)
	req := ioRequest(1, pointOutput, pointInput)
	req.Transport = 0x11
	req.RawPath = append(req.RawPath, segmentProductionInhibit, 50)
	_, err := h.m.ForwardOpen(req, originator)
	requireReject(t, err, spec.ExtRPINotSupported)
}

func ioPacket(connID, eipSeq uint32, cipSeq uint16, header uint32, data []byte) []byte {
	payload := binary.LittleEndian.AppendUint16(nil, cipSeq)
	payload = binary.LittleEndian.AppendUint32(payload, header)
	payload = append(payload, data...)
	return enip.EncodeIOPacket(enip.IOPacket{ConnectionID: connID, Sequence: eipSeq, Data: payload})
}

func TestHandleIOPacket(t *testing.T) {
	h := newHarness(t)
	c, err := h.m.ForwardOpen(ioRequest(1, pointOutput, pointInput), originator)
	require.NoError(t, err)
	out := h.points.consumers[pointOutput]

	assert.True(t, h.m.HandleIOPacket(ioPacket(c.ConsumedID, 1, 1, 1, []byte{1, 2, 3, 4}), ioSource))
	assert.Equal(t, []byte{1, 2, 3, 4}, out.data)
	assert.Equal(t, []uint16{pointOutput}, h.data)

	assert.False(t, h.m.HandleIOPacket(ioPacket(c.ConsumedID, 1, 2, 1, []byte{5, 5, 5, 5}), ioSource), "stale sequence")
	assert.False(t, h.m.HandleIOPacket(ioPacket(c.ConsumedID, 2, 2, 1, []byte{5, 5, 5, 5}), netip.MustParseAddrPort("10.0.0.9:2222")))
	assert.False(t, h.m.HandleIOPacket(ioPacket(0xDEAD, 2, 2, 1, []byte{5, 5, 5, 5}), ioSource))
	assert.False(t, h.m.HandleIOPacket(ioPacket(c.ConsumedID, 3, 2, 1, []byte{5, 5}), ioSource), "short data")

	assert.True(t, h.m.HandleIOPacket(ioPacket(c.ConsumedID, 4, 3, 0, []byte{6, 6, 6, 6}), ioSource))
	assert.Equal(t, []byte{1, 2, 3, 4}, out.data, "idle data is not applied")
	assert.False(t, c.Info().Run)

	assert.True(t, h.m.HandleIOPacket(ioPacket(c.ConsumedID, 5, 3, 1, []byte{7, 7, 7, 7}), ioSource))
	assert.Equal(t, 1, out.writes, "repeated class 1 sequence skips the write")

	assert.False(t, h.m.HandleIOPacket(ioPacket(c.ConsumedID, 0xFFFFFFF0, 4, 1, []byte{7, 7, 7, 7}), ioSource))
	assert.True(t, h.m.HandleIOPacket(ioPacket(c.ConsumedID, 6, 4, 1, []byte{7, 7, 7, 7}), ioSource))
	assert.Equal(t, []byte{7, 7, 7, 7}, out.data)
	assert.True(t, c.Info().Run)
}

func TestMalformedIOPacketDoesNotFeedWatchdog(t *testing.T) {
	h := newHarness(t)
	c, err := h.m.ForwardOpen(ioRequest(1, pointOutput, pointInput), originator)
	require.NoError(t, err)
	require.True(t, h.m.HandleIOPacket(ioPacket(c.ConsumedID, 1, 1, 1, []byte{1, 1, 1, 1}), ioSource))

	h.m.ManageConnections(30 * time.Millisecond)
	assert.False(t, h.m.HandleIOPacket(ioPacket(c.ConsumedID, 2, 2, 1, []byte{2, 2}), ioSource))
	short := enip.EncodeIOPacket(enip.IOPacket{ConnectionID: c.ConsumedID, Sequence: 3, Data: []byte{3, 0, 1}})
	assert.False(t, h.m.HandleIOPacket(short, ioSource))
	assert.Equal(t, 10*time.Millisecond, c.Watchdog())
	assert.Equal(t, uint64(1), c.Info().RxPackets)

	require.True(t, h.m.HandleIOPacket(ioPacket(c.ConsumedID, 2, 2, 1, []byte{2, 2, 2, 2}), ioSource),
		"rejected packets do not advance the sequence")
	assert.Equal(t, []byte{2, 2, 2, 2}, h.points.consumers[pointOutput].data)
}

func TestOlderClass1SequenceIsNotApplied(t *testing.T) {
	h := newHarness(t)
	c, err := h.m.ForwardOpen(ioRequest(1, pointOutput, pointInput), originator)
	require.NoError(t, err)
	out := h.points.consumers[pointOutput]

	require.True(t, h.m.HandleIOPacket(ioPacket(c.ConsumedID, 1, 5, 1, []byte{1, 1, 1, 1}), ioSource))
	h.m.ManageConnections(30 * time.Millisecond)
	assert.True(t, h.m.HandleIOPacket(ioPacket(c.ConsumedID, 2, 4, 1, []byte{2, 2, 2, 2}), ioSource))
	assert.Equal(t, []byte{1, 1, 1, 1}, out.data)
	assert.Equal(t, 1, out.writes)
	assert.Equal(t, 40*time.Millisecond, c.Watchdog(), "well-formed traffic still feeds the watchdog")

	assert.True(t, h.m.HandleIOPacket(ioPacket(c.ConsumedID, 3, 0xFFFF, 1, []byte{3, 3, 3, 3}), ioSource))
	assert.Equal(t, 1, out.writes)
	assert.True(t, h.m.HandleIOPacket(ioPacket(c.ConsumedID, 4, 6, 1, []byte{4, 4, 4, 4}), ioSource))
	assert.Equal(t, []byte{4, 4, 4, 4}, out.data)
}

func TestExplicitConnection(t *testing.T) {
	h := newHarness(t)
	c, err := h.m.ForwardOpen(explicitRequest(1), originator)
	require.NoError(t, err)
	assert.Equal(t, InstanceExplicit, c.Type)
	assert.Equal(t, uint32(0x90000002), c.ProducedID)
	assert.True(t, h.m.SessionReferenced(originator.Session))
	assert.False(t, h.m.HasIOConnections())

	reply, ok := h.m.HandleExplicit(c.ConsumedID, 1, []byte{0x0E, 0x02, 0x20, 0x01, 0x24, 0x01}, originator.Session, originator.Addr)
	require.True(t, ok)
	assert.Equal(t, c.ProducedID, reply.ConnectionID)
	assert.Equal(t, uint16(1), reply.Sequence)
	assert.Equal(t, []byte{0x8E, 0, 0, 0, 0xAA, 0xBB}, reply.Data)
	assert.Equal(t, 1, h.router.calls)

	again, ok := h.m.HandleExplicit(c.ConsumedID, 1, nil, originator.Session, originator.Addr)
	require.True(t, ok)
	assert.Equal(t, reply.Data, again.Data)
	assert.Equal(t, 1, h.router.calls, "repeated sequence is not executed again")

	_, ok = h.m.HandleExplicit(c.ConsumedID, 2, nil, originator.Session, originator.Addr)
	require.True(t, ok)
	assert.Equal(t, 2, h.router.calls)

	_, ok = h.m.HandleExplicit(c.ConsumedID, 3, nil, 99, originator.Addr)
	assert.False(t, ok, "other session")

	h.m.CloseSession(originator.Session)
	assert.Equal(t, 0, h.m.Len())
	assert.Equal(t, StateNonExistent, c.State)
}

func TestExplicitConnectionRejections(t *testing.T) {
	h := newHarness(t)
	req := explicitRequest(1)
	req.RawPath = EncodeConnectionPath(nil, spec.CIPClassAssembly, 1)
	_, err := h.m.ForwardOpen(req, originator)
	requireReject(t, err, spec.ExtInvalidSegmentTypeInPath)

	req = explicitRequest(2)
	req.TToOParams.Size = 600
	_, err = h.m.ForwardOpen(req, originator)
	requireReject(t, err, spec.ExtInvalidTToOSize)
}

func TestExplicitTimeoutDeletes(t *testing.T) {
	h := newHarness(t)
	c, err := h.m.ForwardOpen(explicitRequest(1), originator)
	require.NoError(t, err)
	h.m.ManageConnections(c.Watchdog())
	assert.Equal(t, StateNonExistent, c.State)
	assert.False(t, h.m.SessionReferenced(originator.Session))
}

func TestNextIDSkipsInUse(t *testing.T) {
	h := newHarness(t)
	c, err := h.m.ForwardOpen(explicitRequest(1), originator)
	require.NoError(t, err)

	h.m.counter = uint16(c.ConsumedID) - 1
	id := h.m.nextID(0)
	assert.NotEqual(t, c.ConsumedID, id)
	assert.Equal(t, uint16(c.ConsumedID)+1, uint16(id))
}

func invokeCM(t *testing.T, reg *object.Registry, service protocol.ServiceCode, data []byte) protocol.Response {
	t.Helper()
	class, ok := reg.Class(spec.CIPClassConnectionManager)
	require.True(t, ok)
	inst, ok := class.Instance(1)
	require.True(t, ok)
	req := &protocol.Request{
		Service: service,
		Path:    codec.EPath{Class: spec.CIPClassConnectionManager, Instance: 1, Attribute: 1},
		Data:    data,
		Origin:  originator,
	}
	return class.InvokeService(inst, req)
}

func TestConnectionManagerObject(t *testing.T) {
	h := newHarness(t)
	reg := object.NewRegistry(object.RegistryConfig{Codec: codec.Default})
	require.NoError(t, h.m.Register(reg))

	t.Run("forward open", func(t *testing.T) {
		req := ioRequest(1, pointOutput, pointInput)
		resp := invokeCM(t, reg, spec.CIPServiceForwardOpen, req.Encode())
		require.Equal(t, uint8(spec.StatusSuccess), resp.GeneralStatus)
		reply, err := DecodeForwardOpenReply(resp.Data)
		require.NoError(t, err)
		c, ok := h.m.Lookup(reply.OToTID)
		require.True(t, ok)
		assert.Equal(t, c.ProducedID, reply.TToOID)
		assert.Equal(t, req.Triad, reply.Triad)
		assert.Equal(t, c.Destination, resp.TToOSockAddr)
	})

	t.Run("large forward open rejected", func(t *testing.T) {
		req := ioRequest(2, pointOutput, pointInput)
		req.Large = true
		resp := invokeCM(t, reg, spec.CIPServiceLargeForwardOpen, req.Encode())
		assert.Equal(t, uint8(spec.StatusConnectionFailure), resp.GeneralStatus)
		assert.Equal(t, []uint16{spec.ExtOwnershipConflict}, resp.ExtStatus)
		assert.Len(t, resp.Data, 10)
	})

	t.Run("truncated forward open", func(t *testing.T) {
		resp := invokeCM(t, reg, spec.CIPServiceForwardOpen, []byte{1, 2, 3})
		assert.Equal(t, uint8(spec.StatusNotEnoughData), resp.GeneralStatus)
	})

	t.Run("counters", func(t *testing.T) {
		resp := invokeCM(t, reg, spec.CIPServiceGetAttributeSingle, nil)
		require.Equal(t, uint8(spec.StatusSuccess), resp.GeneralStatus)
		assert.Equal(t, []byte{3, 0}, resp.Data)
	})

	t.Run("connection data", func(t *testing.T) {
		resp := invokeCM(t, reg, spec.CIPServiceGetConnectionData, []byte{1, 0})
		require.Equal(t, uint8(spec.StatusSuccess), resp.GeneralStatus)
		require.Len(t, resp.Data, 56)
		assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(resp.Data[0:2]))

		triad := ioRequest(1).Triad
		search := binary.LittleEndian.AppendUint16(nil, triad.ConnectionSerial)
		search = binary.LittleEndian.AppendUint16(search, triad.OriginatorVendor)
		search = binary.LittleEndian.AppendUint32(search, triad.OriginatorSerial)
		found := invokeCM(t, reg, spec.CIPServiceSearchConnectionData, search)
		assert.Equal(t, resp.Data, found.Data)

		missing := invokeCM(t, reg, spec.CIPServiceGetConnectionData, []byte{5, 0})
		assert.Equal(t, []uint16{spec.ExtConnectionNotFoundAtTargetApplication}, missing.ExtStatus)
	})

	t.Run("forward close", func(t *testing.T) {
		fc := ForwardCloseRequest{Triad: ioRequest(1).Triad}
		resp := invokeCM(t, reg, spec.CIPServiceForwardClose, fc.Encode())
		require.Equal(t, uint8(spec.StatusSuccess), resp.GeneralStatus)
		assert.Len(t, resp.Data, 10)
		assert.Equal(t, 0, h.m.Len())

		resp = invokeCM(t, reg, spec.CIPServiceForwardClose, fc.Encode())
		assert.Equal(t, uint8(spec.StatusConnectionFailure), resp.GeneralStatus)
		assert.Equal(t, []uint16{spec.ExtConnectionNotFoundAtTargetApplication}, resp.ExtStatus)
	})
}

func unconnectedSend(msg, route []byte) []byte {
	out := []byte{0x0A, 0x05}
	out = binary.LittleEndian.AppendUint16(out, uint16(len(msg)))
	out = append(out, msg...)
	if len(msg)%2 == 1 {
		out = append(out, 0)
	}
	out = append(out, uint8(len(route)/2), 0)
	return append(out, route...)
}

func TestUnconnectedSend(t *testing.T) {
	h := newHarness(t)
	reg := object.NewRegistry(object.RegistryConfig{Codec: codec.Default})
	require.NoError(t, h.m.Register(reg))
	embedded := []byte{0x0E, 0x03, 0x20, 0x01, 0x24, 0x01, 0x30, 0x01, 0x00}

	resp := invokeCM(t, reg, spec.CIPServiceUnconnectedSend, unconnectedSend(embedded, []byte{0x01, 0x00}))
	assert.Equal(t, protocol.ServiceCode(0x8E), resp.Service)
	assert.Equal(t, []byte{0xAA, 0xBB}, resp.Data)
	assert.Equal(t, 1, h.router.calls)

	resp = invokeCM(t, reg, spec.CIPServiceUnconnectedSend, unconnectedSend(embedded, []byte{0x02, 0x00}))
	assert.Equal(t, uint8(spec.StatusConnectionFailure), resp.GeneralStatus)
	assert.Equal(t, []uint16{spec.ExtPortNotAvailable}, resp.ExtStatus)

	resp = invokeCM(t, reg, spec.CIPServiceUnconnectedSend, []byte{0x0A, 0x05, 0x20, 0x00})
	assert.Equal(t, uint8(spec.StatusConnectionFailure), resp.GeneralStatus)
	assert.Equal(t, []uint16{spec.ExtParameterErrorInUnconnectedSend}, resp.ExtStatus)
	assert.Equal(t, 1, h.router.calls)
}
