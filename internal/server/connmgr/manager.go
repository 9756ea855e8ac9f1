package connmgr

// Connection Manager: Forward Open / Forward Close, the active connection
// table and its timers. The manager is owned by the adapter loop and is not
// safe for concurrent use.

import (
	"math/rand/v2"
	"net/netip"
	"time"

	"github.com/tturner/cipadapter/internal/cip/protocol"
	"github.com/tturner/cipadapter/internal/cip/spec"
	"github.com/tturner/cipadapter/internal/logging"
)

// Point is application data bound to a connection, normally an Assembly
// instance.
type Point interface {
	Size() int
	Data() []byte
	Write(data []byte) error
}

// Points resolves connection points by the role they play.
type Points interface {
	// Consumer returns a point that O->T data is written to.
	Consumer(instance uint16) (Point, bool)
	// Producer returns a point that T->O data is read from.
	Producer(instance uint16) (Point, bool)
	// Config returns a point that Forward Open configuration data is written to.
	Config(instance uint16) (Point, bool)
}

// Transmitter sends produced I/O datagrams.
type Transmitter interface {
	SendIO(dst netip.AddrPort, packet []byte) error
}

// Dispatcher handles explicit requests, normally the message router.
type Dispatcher interface {
	HandleRequest(data []byte, origin protocol.Origin) protocol.Response
}

// EventKind says what happened to a connection.
type EventKind uint8

const (
	EventOpened EventKind = iota
	EventClosed
	EventTimedOut
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	}
	return "timed-out"
}

// Event reports a connection lifecycle change.
type Event struct {
	Kind       EventKind
	Connection ConnectionInfo
}

// Hooks are optional callbacks invoked from the loop goroutine.
type Hooks struct {
	// OnData runs after consumed data was written to a point.
	OnData func(point uint16, data []byte, run bool)
	// OnEvent runs after a connection opened, closed or timed out.
	OnEvent func(Event)
}

// Config bounds and parameterizes the manager.
type Config struct {
	MaxConnections         int
	MaxConnectionsPerPoint int
	// IncarnationID forms the high 16 bits of every connection id; 0 picks a
	// random value.
	IncarnationID       uint16
	ConsumedRunIdle     bool
	ProducedRunIdle     bool
	HeartbeatInputOnly  uint16
	HeartbeatListenOnly uint16
	MulticastAddr       netip.Addr
	IOPort              uint16
	TickInterval        time.Duration
	MinRPI              time.Duration
	// InitialWatchdog is the floor applied to the watchdog until the first
	// packet of a connection is consumed.
	InitialWatchdog time.Duration
	MaxExplicitSize uint16
}

// Counters are the Connection Manager object attributes 1-8.
type Counters struct {
	OpenRequests        uint16 `json:"open_requests"`
	OpenFormatRejects   uint16 `json:"open_format_rejects"`
	OpenResourceRejects uint16 `json:"open_resource_rejects"`
	OpenOtherRejects    uint16 `json:"open_other_rejects"`
	CloseRequests       uint16 `json:"close_requests"`
	CloseFormatRequests uint16 `json:"close_format_requests"`
	CloseOtherRequests  uint16 `json:"close_other_requests"`
	ConnectionTimeouts  uint16 `json:"connection_timeouts"`
}

// Manager owns the active connection table.
type Manager struct {
	cfg    Config
	key    KeySource
	points Points
	tx     Transmitter
	msg    Dispatcher
	hooks  Hooks
	logger *logging.Logger

	slots       []*Connection
	byConsumed  map[uint32]*Connection
	incarnation uint16
	counter     uint16
	counters    Counters
}

// New returns a manager with an empty connection table.
func New(cfg Config, key KeySource, points Points, tx Transmitter, msg Dispatcher, logger *logging.Logger) *Manager {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 16
	}
	if cfg.MaxConnectionsPerPoint <= 0 {
		cfg.MaxConnectionsPerPoint = 3
	}
	if cfg.IOPort == 0 {
		cfg.IOPort = 2222
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}
	if cfg.InitialWatchdog <= 0 {
		cfg.InitialWatchdog = 10 * time.Second
	}
	if cfg.MaxExplicitSize == 0 {
		cfg.MaxExplicitSize = 504
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:         cfg,
		key:         key,
		points:      points,
		tx:          tx,
		msg:         msg,
		logger:      logger,
		slots:       make([]*Connection, cfg.MaxConnections),
		byConsumed:  make(map[uint32]*Connection),
		incarnation: cfg.IncarnationID,
	}
	if m.incarnation == 0 {
		m.incarnation = uint16(rand.N(0xFFFF)) + 1
	}
	m.counter = uint16(rand.N(0x10000))
	return m
}

// SetHooks installs lifecycle callbacks.
func (m *Manager) SetHooks(h Hooks) {
	m.hooks = h
}

// SetDispatcher sets the explicit message handler used by class 3
// connections and Unconnected Send.
func (m *Manager) SetDispatcher(d Dispatcher) {
	m.msg = d
}

// IncarnationID returns the high 16 bits used for connection ids.
func (m *Manager) IncarnationID() uint16 {
	return m.incarnation
}

// Counters returns the CM object counters.
func (m *Manager) Counters() Counters {
	return m.counters
}

// Len returns the number of active connections.
func (m *Manager) Len() int {
	return len(m.byConsumed)
}

// Lookup returns the active connection consuming id.
func (m *Manager) Lookup(consumedID uint32) (*Connection, bool) {
	c, ok := m.byConsumed[consumedID]
	return c, ok
}

// LookupTriad returns the active connection with triad t.
func (m *Manager) LookupTriad(t Triad) (*Connection, bool) {
	for _, c := range m.slots {
		if c != nil && c.Triad == t {
			return c, true
		}
	}
	return nil, false
}

// LookupNumber returns the active connection in slot n (1-based).
func (m *Manager) LookupNumber(n uint16) (*Connection, bool) {
	if n == 0 || int(n) > len(m.slots) || m.slots[n-1] == nil {
		return nil, false
	}
	return m.slots[n-1], true
}

// active returns the live connections in slot order. The slice is a copy so
// callers may close connections while iterating.
func (m *Manager) active() []*Connection {
	out := make([]*Connection, 0, len(m.byConsumed))
	for _, c := range m.slots {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Connections returns a snapshot of every active connection.
func (m *Manager) Connections() []ConnectionInfo {
	out := make([]ConnectionInfo, 0, len(m.byConsumed))
	for _, c := range m.active() {
		out = append(out, c.Info())
	}
	return out
}

// HasIOConnections reports whether any I/O connection is established.
func (m *Manager) HasIOConnections() bool {
	for _, c := range m.slots {
		if c != nil && c.Type != InstanceExplicit && c.State == StateEstablished {
			return true
		}
	}
	return false
}

// PointOwned reports whether an established exclusive-owner connection
// consumes point.
func (m *Manager) PointOwned(point uint16) bool {
	for _, c := range m.slots {
		if c != nil && c.Type == InstanceExclusiveOwner && c.consumer != nil && c.ConsumingPoint == point {
			return true
		}
	}
	return false
}

// SessionReferenced reports whether an explicit connection is bound to
// session.
func (m *Manager) SessionReferenced(session uint32) bool {
	for _, c := range m.slots {
		if c != nil && c.Type == InstanceExplicit && c.Session == session {
			return true
		}
	}
	return false
}

// CloseSession closes every explicit connection bound to session.
func (m *Manager) CloseSession(session uint32) {
	for _, c := range m.active() {
		if c.Type == InstanceExplicit && c.Session == session {
			m.logger.Verbose("closing explicit connection 0x%08X with session %d", c.ConsumedID, session)
			m.close(c, EventClosed)
		}
	}
}

// CloseAll closes every connection.
func (m *Manager) CloseAll() {
	for _, c := range m.active() {
		m.close(c, EventClosed)
	}
}

// ForwardOpen validates req and, when every check passes, establishes the
// connection. Rejections are *OpenError values and leave the table as it was.
func (m *Manager) ForwardOpen(req ForwardOpenRequest, origin protocol.Origin) (*Connection, error) {
	m.counters.OpenRequests++
	c, err := m.open(req, origin)
	if err == nil && c.config != nil && len(c.Path.ConfigData) > 0 {
		if werr := c.config.Write(c.Path.ConfigData); werr != nil {
			m.logger.Verbose("config point %d rejected data: %v", c.ConfigPoint, werr)
			err = reject(spec.ExtInvalidConfigurationApplicationPath)
		}
	}
	if err != nil {
		oe, ok := err.(*OpenError)
		if !ok {
			oe = &OpenError{General: spec.StatusNotEnoughData}
		}
		switch oe.Ext {
		case spec.ExtNoMoreConnectionsAvailable, spec.ExtTargetObjectOutOfConnections:
			m.counters.OpenResourceRejects++
		case spec.ExtInvalidSegmentTypeInPath:
			m.counters.OpenFormatRejects++
		default:
			m.counters.OpenOtherRejects++
		}
		m.logger.Info("forward open %s from %s rejected: ext 0x%04X (%s)",
			req.Triad, origin.Addr, oe.Ext, spec.StatusName(oe.General))
		return nil, oe
	}

	m.insert(c)
	m.logger.Info("connection 0x%08X/0x%08X %s opened for %s (triad %s)",
		c.ConsumedID, c.ProducedID, c.Type, origin.Addr, c.Triad)
	m.emit(EventOpened, c)
	return c, nil
}

func (m *Manager) open(req ForwardOpenRequest, origin protocol.Origin) (*Connection, error) {
	if _, dup := m.LookupTriad(req.Triad); dup {
		return nil, reject(spec.ExtConnectionInUse)
	}
	path, err := DecodeConnectionPath(req.RawPath)
	if err != nil {
		return nil, err
	}
	if path.Key != nil && m.key != nil {
		if ext := path.Key.Check(m.key.ElectronicKey()); ext != 0 {
			return nil, reject(ext)
		}
	}
	if !req.Transport.valid() {
		return nil, reject(spec.ExtTransportTriggerNotSupported)
	}
	if req.OToTParams.Type == ConnectionTypeReserved {
		return nil, reject(spec.ExtInvalidOToTConnectionType)
	}
	if req.TToOParams.Type == ConnectionTypeReserved {
		return nil, reject(spec.ExtInvalidTToOConnectionType)
	}
	if m.freeSlot() < 0 {
		return nil, reject(spec.ExtNoMoreConnectionsAvailable)
	}

	c := &Connection{
		State:            StateConfiguring,
		Triad:            req.Triad,
		Transport:        req.Transport,
		Multiplier:       req.Multiplier,
		OriginatorOToTID: req.OToTID,
		OriginatorTToOID: req.TToOID,
		OToT:             req.OToTParams,
		TToO:             req.TToOParams,
		OToTRPI:          req.OToTRPI,
		TToORPI:          req.TToORPI,
		Path:             path,
		Session:          origin.Session,
		Originator:       origin.Addr,
		Large:            req.Large,
	}
	c.OToTAPI = m.api(c.OToTRPI)
	c.TToOAPI = m.api(c.TToORPI)

	if req.Transport.Class() == 3 {
		err = m.validateExplicit(c)
	} else {
		err = m.validateIO(c, origin)
	}
	if err != nil {
		return nil, err
	}

	c.armWatchdog(m.cfg.InitialWatchdog)
	return c, nil
}

func (m *Manager) validateExplicit(c *Connection) error {
	p := c.Path
	if p.Class != spec.CIPClassMessageRouter || p.Instance != 1 || len(p.Points) != 0 {
		return reject(spec.ExtInvalidSegmentTypeInPath)
	}
	if c.OToT.Type != ConnectionTypePointToPoint {
		return reject(spec.ExtInvalidOToTConnectionType)
	}
	if c.TToO.Type != ConnectionTypePointToPoint {
		return reject(spec.ExtInvalidTToOConnectionType)
	}
	if c.OToT.Size > m.cfg.MaxExplicitSize {
		return reject(spec.ExtInvalidOToTSize, m.cfg.MaxExplicitSize)
	}
	if c.TToO.Size > m.cfg.MaxExplicitSize {
		return reject(spec.ExtInvalidTToOSize, m.cfg.MaxExplicitSize)
	}
	if err := m.checkRPI(c.OToTRPI); err != nil {
		return err
	}
	c.Type = InstanceExplicit
	c.WatchdogAction = WatchdogAutoDelete
	c.ConsumedID = m.nextID(0)
	c.ProducedID = c.OriginatorTToOID
	c.watchdogPeriod = m.watchdog(c.OToTAPI, c.Multiplier)
	return nil
}

func (m *Manager) validateIO(c *Connection, origin protocol.Origin) error {
	p := c.Path
	if p.Class != spec.CIPClassAssembly {
		return reject(spec.ExtInvalidSegmentTypeInPath)
	}
	oNull := c.OToT.Type == ConnectionTypeNull
	tNull := c.TToO.Type == ConnectionTypeNull
	if oNull && tNull {
		return reject(spec.ExtInconsistentApplicationPathCombo)
	}

	var hasC, hasP bool
	switch len(p.Points) {
	case 2:
		c.ConsumingPoint, c.ProducingPoint = p.Points[0], p.Points[1]
		hasC, hasP = !oNull, !tNull
	case 1:
		switch {
		case !oNull && tNull:
			c.ConsumingPoint, hasC = p.Points[0], true
		case oNull && !tNull:
			c.ProducingPoint, hasP = p.Points[0], true
		default:
			return reject(spec.ExtInconsistentApplicationPathCombo)
		}
	default:
		return reject(spec.ExtInconsistentApplicationPathCombo)
	}
	c.ConfigPoint = p.Instance

	switch {
	case hasC && c.ConsumingPoint == m.cfg.HeartbeatListenOnly && m.cfg.HeartbeatListenOnly != 0:
		c.Type = InstanceListenOnly
	case hasC && c.ConsumingPoint == m.cfg.HeartbeatInputOnly && m.cfg.HeartbeatInputOnly != 0:
		c.Type = InstanceInputOnly
	case !hasC:
		c.Type = InstanceInputOnly
	default:
		c.Type = InstanceExclusiveOwner
	}
	c.WatchdogAction = WatchdogTransitionToTimedOut

	class1 := c.Transport.Class() == 1
	if hasC {
		if c.OToT.Type != ConnectionTypePointToPoint {
			return reject(spec.ExtInvalidOToTConnectionType)
		}
		dataSize := 0
		if c.Type == InstanceExclusiveOwner {
			pt, ok := m.points.Consumer(c.ConsumingPoint)
			if !ok {
				return reject(spec.ExtInvalidConsumingApplicationPath)
			}
			c.consumer = pt
			dataSize = pt.Size()
		}
		expected := dataSize
		if class1 {
			expected += 2
		}
		if m.cfg.ConsumedRunIdle && dataSize > 0 {
			expected += 4
			c.runIdle = true
		}
		if !sizeOK(c.OToT, expected) {
			return reject(spec.ExtInvalidOToTSize, uint16(expected))
		}
		if err := m.checkRPI(c.OToTRPI); err != nil {
			return err
		}
	}

	if c.Type != InstanceExclusiveOwner && tNull {
		return reject(spec.ExtInvalidTToOConnectionType)
	}
	if hasP {
		pt, ok := m.points.Producer(c.ProducingPoint)
		if !ok {
			return reject(spec.ExtInvalidProducingApplicationPath)
		}
		c.producer = pt
		expected := pt.Size()
		if class1 {
			expected += 2
		}
		if m.cfg.ProducedRunIdle {
			expected += 4
			c.producedRunIdle = true
		}
		if !sizeOK(c.TToO, expected) {
			return reject(spec.ExtInvalidTToOSize, uint16(expected))
		}
		if err := m.checkRPI(c.TToORPI); err != nil {
			return err
		}
		if c.Transport.Trigger() != TriggerCyclic && p.HasInhibit {
			if p.Inhibit > time.Duration(c.TToORPI)*time.Microsecond {
				return reject(spec.ExtRPINotSupported)
			}
			c.inhibitPeriod = p.Inhibit
		}
	}

	if c.ConfigPoint != 0 {
		cfgPt, ok := m.points.Config(c.ConfigPoint)
		if !ok && len(p.ConfigData) > 0 {
			return reject(spec.ExtInvalidConfigurationApplicationPath)
		}
		if ok && len(p.ConfigData) > 0 && len(p.ConfigData) != cfgPt.Size() {
			return reject(spec.ExtInvalidConfigurationApplicationPath)
		}
		c.config = cfgPt
	}

	if err := m.checkOwnership(c); err != nil {
		return err
	}

	// ids
	c.ConsumedID = m.nextID(0)
	if hasP {
		if c.TToO.Type == ConnectionTypeMulticast {
			if master := m.multicastProducer(c.ProducingPoint, nil); master != nil {
				c.ProducedID = master.ProducedID
				c.Destination = master.Destination
			} else {
				c.ProducedID = m.nextID(c.ConsumedID)
				c.Destination = netip.AddrPortFrom(m.cfg.MulticastAddr, m.cfg.IOPort)
				c.producing = true
			}
		} else {
			c.ProducedID = c.OriginatorTToOID
			c.Destination = m.pointToPointDestination(origin)
			c.producing = true
		}
	}

	api := c.OToTAPI
	if !hasC {
		api = c.TToOAPI
	}
	c.watchdogPeriod = m.watchdog(api, c.Multiplier)
	return nil
}

// checkOwnership applies the per-point connection rules.
func (m *Manager) checkOwnership(c *Connection) error {
	switch c.Type {
	case InstanceExclusiveOwner:
		if c.consumer != nil && m.PointOwned(c.ConsumingPoint) {
			return reject(spec.ExtOwnershipConflict)
		}
	case InstanceListenOnly:
		if c.TToO.Type != ConnectionTypeMulticast {
			return reject(spec.ExtInvalidTToOConnectionType)
		}
		if m.multicastProducer(c.ProducingPoint, nil) == nil {
			return reject(spec.ExtNonListenOnlyConnectionNotOpened)
		}
	}
	if c.producer != nil {
		n := 0
		for _, other := range m.slots {
			if other != nil && other.producer != nil && other.ProducingPoint == c.ProducingPoint {
				n++
			}
		}
		if n >= m.cfg.MaxConnectionsPerPoint {
			return reject(spec.ExtTargetObjectOutOfConnections)
		}
	}
	return nil
}

// multicastProducer returns an established non-listen-only connection
// producing point over multicast, ignoring skip.
func (m *Manager) multicastProducer(point uint16, skip *Connection) *Connection {
	for _, c := range m.slots {
		if c == nil || c == skip || c.producer == nil || c.Type == InstanceListenOnly {
			continue
		}
		if c.ProducingPoint == point && c.TToO.Type == ConnectionTypeMulticast && c.State == StateEstablished {
			return c
		}
	}
	return nil
}

func (m *Manager) pointToPointDestination(origin protocol.Origin) netip.AddrPort {
	ip := origin.Addr.Addr()
	port := m.cfg.IOPort
	if origin.TToOSockAddr.IsValid() {
		if a := origin.TToOSockAddr.Addr(); a.IsValid() && !a.IsUnspecified() {
			ip = a
		}
		if origin.TToOSockAddr.Port() != 0 {
			port = origin.TToOSockAddr.Port()
		}
	}
	return netip.AddrPortFrom(ip, port)
}

func (m *Manager) checkRPI(rpi uint32) error {
	if rpi == 0 || time.Duration(rpi)*time.Microsecond < m.cfg.MinRPI {
		return reject(spec.ExtRPINotSupported)
	}
	return nil
}

// api rounds an RPI up to the tick granularity the loop can honor.
func (m *Manager) api(rpi uint32) uint32 {
	tick := uint32(m.cfg.TickInterval / time.Microsecond)
	if tick == 0 || rpi == 0 {
		return rpi
	}
	return (rpi + tick - 1) / tick * tick
}

func sizeOK(p NetworkParams, expected int) bool {
	if p.Variable {
		return int(p.Size) <= expected
	}
	return int(p.Size) == expected
}

// watchdogPeriod is (API in ms) << (2 + multiplier).
func watchdogPeriod(apiUs uint32, multiplier uint8) time.Duration {
	ms := uint64(apiUs/1000) << (2 + uint(multiplier&0x07))
	return time.Duration(ms) * time.Millisecond
}

// watchdog is the timeout for a connection consuming at apiUs, never less
// than one tick.
func (m *Manager) watchdog(apiUs uint32, multiplier uint8) time.Duration {
	d := watchdogPeriod(apiUs, multiplier)
	if d < m.cfg.TickInterval {
		d = m.cfg.TickInterval
	}
	return d
}

func (m *Manager) freeSlot() int {
	for i, c := range m.slots {
		if c == nil {
			return i
		}
	}
	return -1
}

// nextID returns a connection id not used by any active connection or by
// reserved. The counter skips ids still in use after wrapping.
func (m *Manager) nextID(reserved uint32) uint32 {
	for {
		m.counter++
		id := uint32(m.incarnation)<<16 | uint32(m.counter)
		if id == reserved || id == 0 {
			continue
		}
		if !m.idInUse(id) {
			return id
		}
	}
}

func (m *Manager) idInUse(id uint32) bool {
	if _, ok := m.byConsumed[id]; ok {
		return true
	}
	for _, c := range m.slots {
		if c != nil && c.ProducedID == id {
			return true
		}
	}
	return false
}

func (m *Manager) insert(c *Connection) {
	slot := m.freeSlot()
	c.Number = uint16(slot + 1)
	c.State = StateEstablished
	c.Opened = time.Now()
	m.slots[slot] = c
	m.byConsumed[c.ConsumedID] = c
}

// ForwardClose closes the connection matching req's triad.
func (m *Manager) ForwardClose(req ForwardCloseRequest, origin protocol.Origin) error {
	m.counters.CloseRequests++
	c, ok := m.LookupTriad(req.Triad)
	if !ok {
		m.counters.CloseOtherRequests++
		m.logger.Verbose("forward close %s from %s: no such connection", req.Triad, origin.Addr)
		return reject(spec.ExtConnectionNotFoundAtTargetApplication)
	}
	m.logger.Info("connection 0x%08X closed by %s", c.ConsumedID, origin.Addr)
	m.close(c, EventClosed)
	return nil
}

// close removes c from the table, hands over shared multicast production
// and closes listen-only connections left without a producer.
func (m *Manager) close(c *Connection, kind EventKind) {
	if m.slots[c.Number-1] != c {
		return
	}
	m.slots[c.Number-1] = nil
	delete(m.byConsumed, c.ConsumedID)
	if kind == EventTimedOut && c.WatchdogAction == WatchdogTransitionToTimedOut {
		c.State = StateTimedOut
	} else {
		c.State = StateNonExistent
	}
	m.emit(kind, c)

	if c.producer == nil || c.TToO.Type != ConnectionTypeMulticast {
		return
	}
	if c.producing {
		if heir := m.sharedProducer(c); heir != nil {
			heir.producing = true
			heir.eipProduced = c.eipProduced
			heir.cipProduced = c.cipProduced
			heir.lastProduced = c.lastProduced
			heir.trigger = c.trigger
			m.logger.Verbose("connection 0x%08X takes over production of 0x%08X", heir.ConsumedID, heir.ProducedID)
		}
	}
	if c.Type != InstanceListenOnly && m.multicastProducer(c.ProducingPoint, nil) == nil {
		for _, other := range m.active() {
			if other.Type == InstanceListenOnly && other.ProducingPoint == c.ProducingPoint {
				m.logger.Verbose("closing listen-only connection 0x%08X: no owner left", other.ConsumedID)
				m.close(other, EventClosed)
			}
		}
	}
}

// sharedProducer picks the connection that continues a shared multicast
// production, preferring non-listen-only connections.
func (m *Manager) sharedProducer(c *Connection) *Connection {
	var fallback *Connection
	for _, other := range m.slots {
		if other == nil || other.ProducedID != c.ProducedID || other.producer == nil {
			continue
		}
		if other.Type != InstanceListenOnly {
			return other
		}
		if fallback == nil {
			fallback = other
		}
	}
	return fallback
}

func (m *Manager) emit(kind EventKind, c *Connection) {
	if m.hooks.OnEvent != nil {
		m.hooks.OnEvent(Event{Kind: kind, Connection: c.Info()})
	}
}

// ManageConnections advances every connection timer by elapsed, expiring
// watchdogs and running due productions.
func (m *Manager) ManageConnections(elapsed time.Duration) {
	for _, c := range m.active() {
		if c.State != StateEstablished {
			continue
		}
		c.watchdog -= elapsed
		if c.watchdog <= 0 {
			m.counters.ConnectionTimeouts++
			m.logger.Info("connection 0x%08X (%s, %s) timed out", c.ConsumedID, c.Type, c.Originator)
			m.close(c, EventTimedOut)
			continue
		}
		if c.producer != nil && c.producing {
			m.tickProduction(c, elapsed)
		}
	}
}

func (m *Manager) tickProduction(c *Connection, elapsed time.Duration) {
	if c.inhibit > 0 {
		c.inhibit -= elapsed
	}
	c.trigger -= elapsed
	cyclic := c.Transport.Trigger() == TriggerCyclic
	due := c.trigger <= 0 || (!cyclic && c.pending)
	if !due || c.inhibit > 0 {
		return
	}
	m.produce(c)
	c.pending = false
	c.inhibit = c.inhibitPeriod
	period := time.Duration(c.TToOAPI) * time.Microsecond
	if cyclic {
		c.trigger += period
		if c.trigger <= 0 {
			c.trigger = period
		}
	} else {
		c.trigger = period
	}
}

// TriggerProduction requests a production for every change-of-state or
// application triggered connection producing point. Cyclic connections pick
// up the new data at their next interval.
func (m *Manager) TriggerProduction(point uint16) {
	for _, c := range m.slots {
		if c != nil && c.producer != nil && c.ProducingPoint == point && c.Transport.Trigger() != TriggerCyclic {
			c.pending = true
		}
	}
}
