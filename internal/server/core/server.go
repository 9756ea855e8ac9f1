package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/tturner/cipadapter/internal/logging"
)

// ErrNotListening is returned by operations that need bound sockets.
var ErrNotListening = errors.New("server is not listening")

// ServerConfig selects the sockets the adapter binds.
type ServerConfig struct {
	ListenIP           string
	EncapPort          int // TCP and UDP encapsulation port
	IOPort             int // implicit I/O port
	TickInterval       time.Duration
	MulticastTTL       int
	MulticastInterface string
}

// Tap observes raw traffic, for example to write a capture file. It is
// called from several goroutines.
type Tap interface {
	Stream(src, dst netip.AddrPort, payload []byte)
	Datagram(src, dst netip.AddrPort, payload []byte)
}

// Server owns the sockets and the protocol loop. All protocol state is
// touched only by the goroutine running Run; socket readers hand their data
// to it over a channel.
type Server struct {
	cfg    ServerConfig
	logger *logging.Logger
	engine *Engine
	tap    Tap

	tcpListener *net.TCPListener
	udpConn     *net.UDPConn
	udpPacket   *ipv4.PacketConn
	ioConn      *net.UDPConn
	broadcasts  map[netip.Addr]struct{}

	events chan event
	calls  chan call
	done   chan struct{}
	wg     sync.WaitGroup

	// accepted sockets, including ones the loop has not adopted yet
	connMu  sync.Mutex
	conns   map[*tcpStream]struct{}
	closing bool

	onTick         func(elapsed time.Duration)
	afterIteration func()
}

type eventKind uint8

const (
	eventStreamOpen eventKind = iota
	eventStreamData
	eventStreamClosed
	eventDatagram
	eventIOPacket
)

type event struct {
	kind      eventKind
	conn      *tcpStream
	data      []byte
	from      netip.AddrPort
	broadcast bool
}

type call struct {
	fn   func()
	done chan struct{}
}

// tcpStream is the reader side of one accepted socket; the loop maps it to
// the engine's Stream.
type tcpStream struct {
	conn   *net.TCPConn
	local  netip.AddrPort
	remote netip.AddrPort
	tap    Tap
}

func (t *tcpStream) Write(b []byte) (int, error) {
	if err := t.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return 0, err
	}
	n, err := t.conn.Write(b)
	if err == nil && t.tap != nil {
		t.tap.Stream(t.local, t.remote, b)
	}
	return n, err
}

func (t *tcpStream) Close() error { return t.conn.Close() }

// udpWriter sends replies from the UDP encapsulation socket.
type udpWriter struct {
	conn  *net.UDPConn
	local netip.AddrPort
	tap   Tap
}

func (w udpWriter) WriteTo(b []byte, dst netip.AddrPort) error {
	if _, err := w.conn.WriteToUDPAddrPort(b, dst); err != nil {
		return err
	}
	if w.tap != nil {
		w.tap.Datagram(w.local, dst, b)
	}
	return nil
}

// NewServer creates a server. Listen binds its sockets and Attach supplies
// the engine before Run.
func NewServer(cfg ServerConfig, logger *logging.Logger) *Server {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}
	if cfg.MulticastTTL <= 0 {
		cfg.MulticastTTL = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		cfg:        cfg,
		logger:     logger.With("component", "server"),
		events:     make(chan event, 256),
		calls:      make(chan call),
		done:       make(chan struct{}),
		broadcasts: make(map[netip.Addr]struct{}),
		conns:      make(map[*tcpStream]struct{}),
	}
}

// Attach sets the engine driven by Run.
func (s *Server) Attach(engine *Engine) { s.engine = engine }

// SetTap installs a traffic observer. It must be called before Listen.
func (s *Server) SetTap(tap Tap) { s.tap = tap }

// OnTick registers fn to run on the loop goroutine after each engine tick.
func (s *Server) OnTick(fn func(elapsed time.Duration)) { s.onTick = fn }

// OnIteration registers fn to run on the loop goroutine after every event,
// tick or call.
func (s *Server) OnIteration(fn func()) { s.afterIteration = fn }

// Do runs fn on the loop goroutine and waits for it to return.
func (s *Server) Do(ctx context.Context, fn func()) error {
	c := call{fn: fn, done: make(chan struct{})}
	select {
	case s.calls <- c:
	case <-s.done:
		return ErrNotListening
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendIO transmits an implicit I/O datagram from the I/O socket. Multicast
// destinations use the configured TTL.
func (s *Server) SendIO(dst netip.AddrPort, packet []byte) error {
	if s.ioConn == nil {
		return ErrNotListening
	}
	if _, err := s.ioConn.WriteToUDPAddrPort(packet, dst); err != nil {
		return fmt.Errorf("send I/O to %s: %w", dst, err)
	}
	if s.tap != nil {
		s.tap.Datagram(addrPortOf(s.ioConn.LocalAddr()), dst, packet)
	}
	return nil
}

// TCPAddr returns the bound encapsulation TCP address.
func (s *Server) TCPAddr() netip.AddrPort {
	if s.tcpListener == nil {
		return netip.AddrPort{}
	}
	return addrPortOf(s.tcpListener.Addr())
}

// UDPAddr returns the bound encapsulation UDP address.
func (s *Server) UDPAddr() netip.AddrPort {
	if s.udpConn == nil {
		return netip.AddrPort{}
	}
	return addrPortOf(s.udpConn.LocalAddr())
}

// IOAddr returns the bound implicit I/O address.
func (s *Server) IOAddr() netip.AddrPort {
	if s.ioConn == nil {
		return netip.AddrPort{}
	}
	return addrPortOf(s.ioConn.LocalAddr())
}

// Run drives the protocol loop until ctx is cancelled, then closes every
// socket.
func (s *Server) Run(ctx context.Context) error {
	if s.tcpListener == nil {
		return ErrNotListening
	}
	if s.engine == nil {
		return errors.New("server has no engine")
	}
	s.wg.Add(3)
	go s.acceptLoop()
	go s.readDatagrams()
	go s.readIO()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	streams := make(map[*tcpStream]*Stream)
	last := time.Now()

	s.logger.Info("Protocol loop running, tick %s", s.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case ev := <-s.events:
			s.handleEvent(ev, streams)
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			s.engine.Tick(elapsed)
			if s.onTick != nil {
				s.onTick(elapsed)
			}
		case c := <-s.calls:
			c.fn()
			close(c.done)
		}
		if s.afterIteration != nil {
			s.afterIteration()
		}
	}
}

func (s *Server) handleEvent(ev event, streams map[*tcpStream]*Stream) {
	switch ev.kind {
	case eventStreamOpen:
		streams[ev.conn] = s.engine.OpenStream(ev.conn, ev.conn.remote)
	case eventStreamData:
		if st, ok := streams[ev.conn]; ok {
			s.engine.StreamData(st, ev.data)
		}
	case eventStreamClosed:
		if st, ok := streams[ev.conn]; ok {
			s.engine.CloseStream(st)
			delete(streams, ev.conn)
		}
	case eventDatagram:
		s.engine.Datagram(ev.data, ev.from, ev.broadcast, udpWriter{conn: s.udpConn, local: s.UDPAddr(), tap: s.tap})
	case eventIOPacket:
		s.engine.IOPacket(ev.data, ev.from)
	}
}

func (s *Server) shutdown() {
	close(s.done)
	s.tcpListener.Close()
	s.udpConn.Close()
	s.ioConn.Close()
	s.engine.Close()
	s.closeTracked()
	s.wg.Wait()
	s.logger.Info("Server stopped")
}

// track records an accepted socket. It reports false once shutdown has
// started.
func (s *Server) track(t *tcpStream) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closing {
		return false
	}
	s.conns[t] = struct{}{}
	return true
}

func (s *Server) untrack(t *tcpStream) {
	s.connMu.Lock()
	delete(s.conns, t)
	s.connMu.Unlock()
}

// closeTracked closes every accepted socket and refuses new ones.
func (s *Server) closeTracked() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.closing = true
	for t := range s.conns {
		t.conn.Close()
	}
}

// post hands an event to the loop unless the server is stopping.
func (s *Server) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func addrPortOf(addr net.Addr) netip.AddrPort {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.AddrPort()
	case *net.UDPAddr:
		return a.AddrPort()
	}
	return netip.AddrPort{}
}
