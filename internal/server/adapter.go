package server

// Adapter assembly: builds the object model, the connection manager and the
// session layer from an AdapterConfig and runs them on one protocol loop.

import (
	"context"
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/tturner/cipadapter/internal/cip/codec"
	"github.com/tturner/cipadapter/internal/cip/object"
	"github.com/tturner/cipadapter/internal/cip/router"
	"github.com/tturner/cipadapter/internal/config"
	"github.com/tturner/cipadapter/internal/enip"
	"github.com/tturner/cipadapter/internal/logging"
	"github.com/tturner/cipadapter/internal/metrics"
	"github.com/tturner/cipadapter/internal/server/connmgr"
	"github.com/tturner/cipadapter/internal/server/core"
	"github.com/tturner/cipadapter/internal/server/objects"
)

// snapshotInterval bounds how often the loop rebuilds the status snapshot
// when nothing forced a refresh.
const snapshotInterval = 100 * time.Millisecond

// DataSink receives consumed assembly data. Enqueue runs on the protocol loop
// and must not block.
type DataSink interface {
	Enqueue(instance uint16, data []byte, run bool) bool
}

// Adapter is a configured EtherNet/IP adapter.
type Adapter struct {
	cfg     *config.AdapterConfig
	logger  *logging.Logger
	metrics *metrics.Registry

	registry   *object.Registry
	router     *router.Router
	identity   *objects.Identity
	assemblies *objects.Assemblies
	tcpip      *objects.TCPIP
	link       *objects.EthernetLink
	conns      *connmgr.Manager
	engine     *core.Engine
	server     *core.Server
	tx         *transmitter
	sink       DataSink

	snapshot  atomic.Pointer[Snapshot]
	dirty     bool
	published time.Time
	now       func() time.Time
}

// transmitter counts produced I/O datagrams on their way to the socket.
type transmitter struct {
	next    connmgr.Transmitter
	metrics *metrics.Registry
}

func (t *transmitter) SendIO(dst netip.AddrPort, packet []byte) error {
	if err := t.next.SendIO(dst, packet); err != nil {
		return err
	}
	t.metrics.Inc(metrics.IOPacketsOut)
	return nil
}

// New builds an adapter from cfg. The configuration must already carry its
// defaults; sockets are bound later by Listen.
func New(cfg *config.AdapterConfig, logger *logging.Logger, reg *metrics.Registry) (*Adapter, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	a := &Adapter{
		cfg:     cfg,
		logger:  logger,
		metrics: reg,
		now:     time.Now,
	}

	allow64 := cfg.CIP.Allow64Bit == nil || *cfg.CIP.Allow64Bit
	a.registry = object.NewRegistry(object.RegistryConfig{
		MaxInstancesPerClass: cfg.CIP.MaxInstancesPerClass,
		Codec:                codec.Codec{Allow64Bit: allow64},
	})
	var err error
	if a.router, err = router.New(a.registry, logger.With("component", "router")); err != nil {
		return nil, fmt.Errorf("message router: %w", err)
	}

	if err := a.buildObjects(); err != nil {
		return nil, err
	}
	if err := a.buildConnectionManager(); err != nil {
		return nil, err
	}
	a.buildSessionLayer()

	a.publish(true)
	return a, nil
}

func (a *Adapter) buildObjects() error {
	cfg := a.cfg
	a.identity = objects.NewIdentity(objects.IdentityConfig{
		VendorID:    cfg.Identity.VendorID,
		DeviceType:  cfg.Identity.DeviceType,
		ProductCode: cfg.Identity.ProductCode,
		Revision:    codec.Revision{Major: cfg.Identity.RevMajor, Minor: cfg.Identity.RevMinor},
		Serial:      cfg.Identity.Serial,
		ProductName: cfg.Identity.ProductName,
		State:       cfg.Identity.State,
	})
	a.identity.SetResetHandler(a.reset)

	asmCfgs := make([]objects.AssemblyConfig, 0, len(cfg.Assemblies))
	for _, asm := range cfg.Assemblies {
		asmCfgs = append(asmCfgs, objects.AssemblyConfig{
			Instance:       asm.Instance,
			Name:           asm.Name,
			Size:           asm.SizeBytes,
			Direction:      objects.Direction(asm.Direction),
			Pattern:        objects.Pattern(asm.UpdatePattern),
			ReflectFrom:    asm.ReflectFrom,
			UpdateInterval: time.Duration(asm.UpdateIntervalMs) * time.Millisecond,
		})
	}
	var err error
	if a.assemblies, err = objects.NewAssemblies(asmCfgs); err != nil {
		return fmt.Errorf("assemblies: %w", err)
	}

	timeout := cfg.InactivityTimeout() / time.Second
	a.tcpip = objects.NewTCPIP(objects.TCPIPConfig{
		Address:           a.interfaceAddress(),
		NetworkMask:       config.ParseIPv4(cfg.Network.NetworkMask),
		Gateway:           config.ParseIPv4(cfg.Network.Gateway),
		NameServer:        config.ParseIPv4(cfg.Network.NameServer),
		NameServer2:       config.ParseIPv4(cfg.Network.NameServer2),
		DomainName:        cfg.Network.DomainName,
		HostName:          cfg.Network.HostName,
		TTL:               uint8(cfg.Network.MulticastTTL),
		InactivityTimeout: uint16(timeout),
	})

	var mac [6]byte
	if cfg.Network.MAC != "" {
		if mac, err = config.ParseMAC(cfg.Network.MAC); err != nil {
			return fmt.Errorf("network.mac: %w", err)
		}
	}
	a.link = objects.NewEthernetLink(objects.EthernetLinkConfig{SpeedMbps: cfg.Network.LinkSpeedMbps, MAC: mac})

	for _, r := range []interface {
		Register(*object.Registry) error
	}{a.identity, a.assemblies, a.tcpip, a.link} {
		if err := r.Register(a.registry); err != nil {
			return fmt.Errorf("register objects: %w", err)
		}
	}
	return nil
}

// interfaceAddress is the address reported by the TCP/IP object and in
// ListIdentity replies. It defaults to the listen address.
func (a *Adapter) interfaceAddress() netip.Addr {
	if addr := config.ParseIPv4(a.cfg.Network.Address); addr.IsValid() {
		return addr
	}
	return config.ParseIPv4(a.cfg.Server.ListenIP)
}

func (a *Adapter) buildConnectionManager() error {
	cfg := a.cfg
	a.tx = &transmitter{metrics: a.metrics}
	a.conns = connmgr.New(connmgr.Config{
		MaxConnections:         cfg.CIP.MaxConnections,
		MaxConnectionsPerPoint: cfg.CIP.MaxConnectionsPerPoint,
		IncarnationID:          cfg.CIP.IncarnationID,
		ConsumedRunIdle:        cfg.CIP.RunIdleHeader == nil || *cfg.CIP.RunIdleHeader,
		ProducedRunIdle:        cfg.CIP.ProducedRunIdle,
		HeartbeatInputOnly:     cfg.CIP.HeartbeatInputOnly,
		HeartbeatListenOnly:    cfg.CIP.HeartbeatListenOnly,
		MulticastAddr:          config.ParseIPv4(cfg.Network.MulticastBase),
		IOPort:                 uint16(cfg.Server.IOPort),
		TickInterval:           cfg.TickInterval(),
		MinRPI:                 time.Duration(cfg.CIP.MinRPIMs) * time.Millisecond,
		MaxExplicitSize:        cfg.CIP.MaxExplicitSize,
	}, a.identity, a.assemblies, a.tx, a.router, a.logger.With("component", "connmgr"))

	a.conns.SetHooks(connmgr.Hooks{
		OnData:  a.onData,
		OnEvent: a.onConnectionEvent,
	})
	a.assemblies.SetHooks(objects.AssemblyHooks{
		Owned: a.conns.PointOwned,
		Changed: func(instance uint16) {
			a.dirty = true
			a.conns.TriggerProduction(instance)
		},
	})
	if err := a.conns.Register(a.registry); err != nil {
		return fmt.Errorf("connection manager: %w", err)
	}
	a.logger.Verbose("connection manager incarnation 0x%04X", a.conns.IncarnationID())
	return nil
}

func (a *Adapter) buildSessionLayer() {
	cfg := a.cfg
	a.engine = core.NewEngine(core.Config{
		MaxSessions:        cfg.ENIP.MaxSessions,
		MaxDelayedMessages: cfg.ENIP.MaxDelayedMessages,
		InactivityTimeout:  cfg.InactivityTimeout(),
	}, a.router, a.conns, core.IdentityFunc(a.identityInfo), a.logger, a.metrics)
	a.tcpip.OnInactivityChange(a.engine.SetInactivityTimeout)

	a.server = core.NewServer(core.ServerConfig{
		ListenIP:           cfg.Server.ListenIP,
		EncapPort:          cfg.Server.TCPPort,
		IOPort:             cfg.Server.IOPort,
		TickInterval:       cfg.TickInterval(),
		MulticastTTL:       cfg.Network.MulticastTTL,
		MulticastInterface: cfg.Network.MulticastInterface,
	}, a.logger)
	a.server.Attach(a.engine)
	a.server.OnTick(a.assemblies.Advance)
	a.server.OnIteration(func() { a.publish(false) })
	a.tx.next = a.server
}

// SetSink installs the receiver of consumed assembly data. It must be called
// before Run.
func (a *Adapter) SetSink(sink DataSink) { a.sink = sink }

// SetTap installs a traffic observer. It must be called before Listen.
func (a *Adapter) SetTap(tap core.Tap) { a.server.SetTap(tap) }

// Listen binds the encapsulation and I/O sockets.
func (a *Adapter) Listen() error {
	return a.server.Listen()
}

// Run drives the protocol loop until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) error {
	a.logger.Info("Adapter %q serving %d assemblies on %s (I/O %s)",
		a.cfg.Server.Name, len(a.assemblies.List()), a.server.TCPAddr(), a.server.IOAddr())
	err := a.server.Run(ctx)
	a.conns.CloseAll()
	a.publish(true)
	return err
}

// Addr returns the bound encapsulation TCP address.
func (a *Adapter) Addr() netip.AddrPort { return a.server.TCPAddr() }

// Metrics returns the current counters and gauges.
func (a *Adapter) Metrics() []metrics.Sample { return a.metrics.Snapshot() }

// Snapshot returns the latest published status. It never returns nil.
func (a *Adapter) Snapshot() *Snapshot { return a.snapshot.Load() }

// WriteAssembly replaces an assembly image from outside the loop and waits
// for the result. Connections producing the instance are triggered.
func (a *Adapter) WriteAssembly(ctx context.Context, instance uint16, data []byte) error {
	buf := append([]byte(nil), data...)
	var err error
	if doErr := a.server.Do(ctx, func() { err = a.writeAssembly(instance, buf) }); doErr != nil {
		return doErr
	}
	return err
}

func (a *Adapter) writeAssembly(instance uint16, data []byte) error {
	if err := a.assemblies.SetData(instance, data); err != nil {
		return err
	}
	a.logger.Verbose("assembly %d written through the API (%d bytes)", instance, len(data))
	a.logger.LogHex(fmt.Sprintf("assembly %d", instance), data)
	return nil
}

func (a *Adapter) identityInfo() enip.IdentityInfo {
	return a.identity.Info(netip.AddrPortFrom(a.tcpip.Address(), uint16(a.cfg.Server.TCPPort)))
}

func (a *Adapter) onData(point uint16, data []byte, run bool) {
	if a.sink == nil {
		return
	}
	if !a.sink.Enqueue(point, data, run) {
		a.logger.Debug("sink queue full, dropped sample of assembly %d", point)
	}
}

func (a *Adapter) onConnectionEvent(ev connmgr.Event) {
	c := ev.Connection
	a.logger.Verbose("connection %d %s: %s %s from %s", c.Number, ev.Kind, c.Type, c.TriadString, c.Originator)
	a.identity.SetOwned(a.conns.HasIOConnections())
	a.metrics.Set(metrics.GaugeConnections, int64(a.conns.Len()))
	a.dirty = true
}

// reset implements the Identity Reset service. Both types drop every
// connection; type 1 also returns the assemblies to their initial images.
func (a *Adapter) reset(kind uint8) error {
	a.logger.Info("Identity reset type %d: closing %d connections", kind, a.conns.Len())
	a.conns.CloseAll()
	if kind == 1 {
		a.assemblies.Reset()
	}
	a.dirty = true
	return nil
}
