package core

import (
	"net/netip"
	"time"

	"github.com/tturner/cipadapter/internal/enip"
	"github.com/tturner/cipadapter/internal/server/connmgr"
)

// Defaults for Config.
const (
	DefaultMaxSessions        = 20
	DefaultMaxDelayedMessages = 2
	DefaultInactivityTimeout  = 120 * time.Second
)

// Config bounds the encapsulation session layer.
type Config struct {
	MaxSessions        int
	MaxDelayedMessages int
	// InactivityTimeout closes silent TCP sockets; zero disables it.
	InactivityTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.MaxDelayedMessages <= 0 {
		c.MaxDelayedMessages = DefaultMaxDelayedMessages
	}
}

// StreamConn is the write side of an accepted TCP socket.
type StreamConn interface {
	Write(b []byte) (int, error)
	Close() error
}

// PacketWriter sends a datagram from the socket a request arrived on.
type PacketWriter interface {
	WriteTo(b []byte, dst netip.AddrPort) error
}

// Dispatcher executes an unconnected CIP request.
type Dispatcher = connmgr.Dispatcher

// Connections is the part of the connection manager driven by the session
// layer.
type Connections interface {
	HandleExplicit(connID uint32, seq uint16, data []byte, session uint32, from netip.AddrPort) (connmgr.ExplicitReply, bool)
	HandleIOPacket(packet []byte, from netip.AddrPort) bool
	ManageConnections(elapsed time.Duration)
	CloseSession(session uint32)
	SessionReferenced(session uint32) bool
}

// IdentitySource supplies the current ListIdentity content.
type IdentitySource interface {
	IdentityInfo() enip.IdentityInfo
}

// IdentityFunc adapts a function to IdentitySource.
type IdentityFunc func() enip.IdentityInfo

func (f IdentityFunc) IdentityInfo() enip.IdentityInfo { return f() }

// Stream is one accepted TCP socket and its reassembly buffer.
type Stream struct {
	conn    StreamConn
	remote  netip.AddrPort
	buf     []byte
	idle    time.Duration
	session uint32
	opened  time.Time
	closed  bool
}

// Remote returns the peer address.
func (s *Stream) Remote() netip.AddrPort { return s.remote }

// Session returns the handle registered on this socket, or zero.
func (s *Stream) Session() uint32 { return s.session }

// SessionInfo describes a registered session for status output.
type SessionInfo struct {
	Handle  uint32         `json:"handle"`
	Remote  netip.AddrPort `json:"remote"`
	Opened  time.Time      `json:"opened"`
	IdleFor time.Duration  `json:"idle_ns"`
}

type delayedMessage struct {
	out       PacketWriter
	dst       netip.AddrPort
	packet    []byte
	remaining time.Duration
}
