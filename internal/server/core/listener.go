package core

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/net/ipv4"
)

// Listen binds the encapsulation TCP and UDP sockets and the I/O socket.
func (s *Server) Listen() error {
	host := s.cfg.ListenIP
	if host == "" {
		host = "0.0.0.0"
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp4", net.JoinHostPort(host, strconv.Itoa(s.cfg.EncapPort)))
	if err != nil {
		return fmt.Errorf("resolve TCP address: %w", err)
	}
	s.tcpListener, err = net.ListenTCP("tcp4", tcpAddr)
	if err != nil {
		return fmt.Errorf("listen TCP: %w", err)
	}

	// UDP shares the bound TCP port number.
	udpAddr := &net.UDPAddr{IP: tcpAddr.IP, Port: int(s.TCPAddr().Port())}
	if s.udpConn, err = net.ListenUDP("udp4", udpAddr); err != nil {
		s.tcpListener.Close()
		return fmt.Errorf("listen UDP: %w", err)
	}
	s.udpPacket = ipv4.NewPacketConn(s.udpConn)
	if err := s.udpPacket.SetControlMessage(ipv4.FlagDst, true); err != nil {
		s.logger.Verbose("destination addresses unavailable, broadcast ListIdentity answered immediately: %v", err)
	}

	ioAddr := &net.UDPAddr{IP: tcpAddr.IP, Port: s.cfg.IOPort}
	if s.ioConn, err = net.ListenUDP("udp4", ioAddr); err != nil {
		s.tcpListener.Close()
		s.udpConn.Close()
		return fmt.Errorf("listen I/O UDP: %w", err)
	}
	if err := s.configureMulticast(); err != nil {
		s.tcpListener.Close()
		s.udpConn.Close()
		s.ioConn.Close()
		return err
	}
	s.collectBroadcasts()

	s.logger.Info("Encapsulation listening on %s (tcp) and %s (udp), I/O on %s", s.TCPAddr(), s.UDPAddr(), s.IOAddr())
	return nil
}

func (s *Server) configureMulticast() error {
	pc := ipv4.NewPacketConn(s.ioConn)
	if err := pc.SetMulticastTTL(s.cfg.MulticastTTL); err != nil {
		return fmt.Errorf("set multicast TTL: %w", err)
	}
	if s.cfg.MulticastInterface == "" {
		return nil
	}
	ifi, err := net.InterfaceByName(s.cfg.MulticastInterface)
	if err != nil {
		return fmt.Errorf("multicast interface %q: %w", s.cfg.MulticastInterface, err)
	}
	if err := pc.SetMulticastInterface(ifi); err != nil {
		return fmt.Errorf("set multicast interface: %w", err)
	}
	return nil
}

// collectBroadcasts records the directed broadcast address of every local
// IPv4 network.
func (s *Server) collectBroadcasts() {
	s.broadcasts[netip.AddrFrom4([4]byte{255, 255, 255, 255})] = struct{}{}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		s.logger.Debug("interface addresses: %v", err)
		return
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil || len(ipnet.Mask) != net.IPv4len {
			continue
		}
		var b [4]byte
		for i := range b {
			b[i] = ip4[i] | ^ipnet.Mask[i]
		}
		s.broadcasts[netip.AddrFrom4(b)] = struct{}{}
	}
}

func (s *Server) isBroadcast(dst net.IP) bool {
	addr, ok := netip.AddrFromSlice(dst)
	if !ok {
		return false
	}
	addr = addr.Unmap()
	if addr.IsMulticast() {
		return true
	}
	_, ok = s.broadcasts[addr]
	return ok
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.tcpListener.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Accept error: %v", err)
			continue
		}
		t := &tcpStream{
			conn:   conn,
			local:  addrPortOf(conn.LocalAddr()),
			remote: addrPortOf(conn.RemoteAddr()),
			tap:    s.tap,
		}
		if !s.track(t) {
			conn.Close()
			return
		}
		if !s.post(event{kind: eventStreamOpen, conn: t}) {
			s.untrack(t)
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handleConnection(t)
	}
}

func (s *Server) handleConnection(t *tcpStream) {
	defer s.wg.Done()
	defer s.untrack(t)
	readBuf := make([]byte, 4096)
	for {
		n, err := t.conn.Read(readBuf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, readBuf[:n])
			if s.tap != nil {
				s.tap.Stream(t.remote, t.local, data)
			}
			if !s.post(event{kind: eventStreamData, conn: t, data: data}) {
				return
			}
		}
		if err != nil {
			s.logger.Debug("read from %s: %v", t.remote, err)
			s.post(event{kind: eventStreamClosed, conn: t})
			return
		}
	}
}

func (s *Server) readDatagrams() {
	defer s.wg.Done()
	buf := make([]byte, 65535)
	local := s.UDPAddr()
	for {
		n, cm, src, err := s.udpPacket.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Debug("UDP read: %v", err)
			continue
		}
		from := addrPortOf(src)
		data := make([]byte, n)
		copy(data, buf[:n])
		broadcast := cm != nil && s.isBroadcast(cm.Dst)
		if s.tap != nil {
			s.tap.Datagram(from, local, data)
		}
		if !s.post(event{kind: eventDatagram, data: data, from: from, broadcast: broadcast}) {
			return
		}
	}
}

func (s *Server) readIO() {
	defer s.wg.Done()
	buf := make([]byte, 65535)
	local := s.IOAddr()
	for {
		n, from, err := s.ioConn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Debug("I/O read: %v", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if s.tap != nil {
			s.tap.Datagram(from, local, data)
		}
		if !s.post(event{kind: eventIOPacket, data: data, from: from}) {
			return
		}
	}
}
