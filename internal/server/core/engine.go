package core

import (
	"net/netip"
	"time"

	"github.com/tturner/cipadapter/internal/enip"
	"github.com/tturner/cipadapter/internal/logging"
	"github.com/tturner/cipadapter/internal/metrics"
)

// Engine is the encapsulation session layer. It owns the session table and
// the delayed reply queue and is driven from a single goroutine: every
// method must be called from the protocol loop.
type Engine struct {
	cfg      Config
	router   Dispatcher
	conns    Connections
	identity IdentitySource
	logger   *logging.Logger
	metrics  *metrics.Registry

	sessions []*Stream // slot i holds session handle i+1
	streams  map[*Stream]struct{}
	delayed  []delayedMessage
	now      func() time.Time
}

// NewEngine returns an engine dispatching unconnected requests to router and
// connected traffic to conns. Either may be nil in tests.
func NewEngine(cfg Config, router Dispatcher, conns Connections, identity IdentitySource, logger *logging.Logger, reg *metrics.Registry) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		router:   router,
		conns:    conns,
		identity: identity,
		logger:   logger.With("component", "encap"),
		metrics:  reg,
		sessions: make([]*Stream, cfg.MaxSessions),
		streams:  make(map[*Stream]struct{}),
		now:      time.Now,
	}
}

// OpenStream registers an accepted TCP socket.
func (e *Engine) OpenStream(conn StreamConn, remote netip.AddrPort) *Stream {
	s := &Stream{conn: conn, remote: remote, opened: e.now()}
	e.streams[s] = struct{}{}
	e.metrics.Set(metrics.GaugeStreams, int64(len(e.streams)))
	e.logger.Verbose("accepted %s", remote)
	return s
}

// StreamData feeds bytes read from s. Complete frames are executed in order
// and their replies written back; a partial frame waits for more data.
func (e *Engine) StreamData(s *Stream, data []byte) {
	if s.closed {
		return
	}
	s.idle = 0
	s.buf = append(s.buf, data...)
	frames, rest := parseENIPStream(s.buf, e.logger)
	s.buf = rest
	if len(s.buf) > maxStreamBuffer {
		e.logger.Verbose("closing %s: %d bytes without a complete frame", s.remote, len(s.buf))
		e.CloseStream(s)
		return
	}
	for _, encap := range frames {
		e.metrics.Inc(metrics.EncapFramesIn)
		reply := e.handleStreamCommand(s, encap)
		if reply == nil {
			continue
		}
		if _, err := s.conn.Write(reply); err != nil {
			e.logger.Verbose("write to %s: %v", s.remote, err)
			e.CloseStream(s)
			return
		}
		e.metrics.Inc(metrics.EncapFramesOut)
		if s.closed {
			return
		}
	}
}

// CloseStream closes s and frees its session. Explicit connections bound to
// the session are closed with it.
func (e *Engine) CloseStream(s *Stream) {
	if s.closed {
		return
	}
	s.closed = true
	e.releaseSession(s)
	delete(e.streams, s)
	e.metrics.Set(metrics.GaugeStreams, int64(len(e.streams)))
	if err := s.conn.Close(); err != nil {
		e.logger.Debug("close %s: %v", s.remote, err)
	}
	e.logger.Verbose("closed %s", s.remote)
}

// Datagram handles an encapsulation frame received on the UDP port. Replies
// go back through out.
func (e *Engine) Datagram(data []byte, from netip.AddrPort, broadcast bool, out PacketWriter) {
	encap, err := enip.DecodeENIP(data)
	if err != nil || encap.Options != 0 {
		e.metrics.Inc(metrics.EncapFramesDropped)
		return
	}
	e.metrics.Inc(metrics.EncapFramesIn)
	reply := e.handleDatagramCommand(encap, from, broadcast, out)
	if reply == nil {
		return
	}
	if err := out.WriteTo(reply, from); err != nil {
		e.logger.Verbose("reply to %s: %v", from, err)
		return
	}
	e.metrics.Inc(metrics.EncapFramesOut)
}

// IOPacket hands an implicit I/O datagram to the connection manager.
func (e *Engine) IOPacket(data []byte, from netip.AddrPort) {
	if e.conns == nil {
		return
	}
	if e.conns.HandleIOPacket(data, from) {
		e.metrics.Inc(metrics.IOPacketsIn)
	} else {
		e.metrics.Inc(metrics.IOPacketsRejected)
	}
}

// Tick advances time: connection watchdogs and production, delayed replies
// and the socket inactivity timeout.
func (e *Engine) Tick(elapsed time.Duration) {
	if e.conns != nil {
		e.conns.ManageConnections(elapsed)
	}
	e.drainDelayed(elapsed)
	if e.cfg.InactivityTimeout <= 0 {
		return
	}
	for s := range e.streams {
		s.idle += elapsed
		if s.idle < e.cfg.InactivityTimeout {
			continue
		}
		if s.session != 0 && e.conns != nil && e.conns.SessionReferenced(s.session) {
			continue
		}
		e.logger.Info("closing %s after %s of inactivity", s.remote, s.idle)
		e.metrics.Inc(metrics.SessionsTimedOut)
		e.CloseStream(s)
	}
}

// Close closes every open socket.
func (e *Engine) Close() {
	for s := range e.streams {
		e.CloseStream(s)
	}
}

// Sessions lists registered sessions ordered by handle.
func (e *Engine) Sessions() []SessionInfo {
	out := make([]SessionInfo, 0, len(e.sessions))
	for _, s := range e.sessions {
		if s == nil {
			continue
		}
		out = append(out, SessionInfo{Handle: s.session, Remote: s.remote, Opened: s.opened, IdleFor: s.idle})
	}
	return out
}

// SessionCount returns the number of registered sessions.
func (e *Engine) SessionCount() int {
	n := 0
	for _, s := range e.sessions {
		if s != nil {
			n++
		}
	}
	return n
}

// SetInactivityTimeout changes the socket inactivity timeout; 0 disables it.
func (e *Engine) SetInactivityTimeout(d time.Duration) {
	e.cfg.InactivityTimeout = d
	e.logger.Debug("inactivity timeout now %s", d)
}

// PendingDelayed returns the number of queued delayed replies.
func (e *Engine) PendingDelayed() int {
	return len(e.delayed)
}

func (e *Engine) ownsSession(s *Stream, handle uint32) bool {
	if handle == 0 || int(handle) > len(e.sessions) {
		return false
	}
	return e.sessions[handle-1] == s
}

func (e *Engine) releaseSession(s *Stream) {
	if s.session == 0 {
		return
	}
	handle := s.session
	e.sessions[handle-1] = nil
	s.session = 0
	e.metrics.Inc(metrics.SessionsClosed)
	e.metrics.Set(metrics.GaugeSessions, int64(e.SessionCount()))
	if e.conns != nil {
		e.conns.CloseSession(handle)
	}
}

// enqueueDelayed holds a reply for delay. A full queue drops the reply.
func (e *Engine) enqueueDelayed(out PacketWriter, dst netip.AddrPort, packet []byte, delay time.Duration) {
	if len(e.delayed) >= e.cfg.MaxDelayedMessages {
		e.logger.Verbose("delayed reply queue full, dropping reply to %s", dst)
		e.metrics.Inc(metrics.DelayedQueueFull)
		return
	}
	e.delayed = append(e.delayed, delayedMessage{out: out, dst: dst, packet: packet, remaining: delay})
	e.metrics.Inc(metrics.ListIdentityDelayed)
}

func (e *Engine) drainDelayed(elapsed time.Duration) {
	kept := e.delayed[:0]
	for _, m := range e.delayed {
		m.remaining -= elapsed
		if m.remaining > 0 {
			kept = append(kept, m)
			continue
		}
		if err := m.out.WriteTo(m.packet, m.dst); err != nil {
			e.logger.Verbose("delayed reply to %s: %v", m.dst, err)
			continue
		}
		e.metrics.Inc(metrics.EncapFramesOut)
	}
	for i := len(kept); i < len(e.delayed); i++ {
		e.delayed[i] = delayedMessage{}
	}
	e.delayed = kept
}
