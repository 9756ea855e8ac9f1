package capture

// Recording of adapter traffic to a pcap file. The adapter sees payloads, not
// frames, so every payload is wrapped in synthesized Ethernet/IPv4/TCP or UDP
// headers that Wireshark's ENIP and CIP dissectors decode.

import (
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/tturner/cipadapter/internal/metrics"
)

// DefaultSnaplen is the pcap snapshot length used when none is configured.
const DefaultSnaplen = 65535

type flow struct {
	src, dst netip.AddrPort
}

// Recorder writes adapter traffic to a pcap stream. It is safe for concurrent
// use and implements the server's traffic tap.
type Recorder struct {
	mu      sync.Mutex
	w       *pcapgo.Writer
	closer  io.Closer
	snaplen int
	seq     map[flow]uint32
	packets int
	now     func() time.Time
	metrics *metrics.Registry
}

// Create opens path and writes the pcap file header.
func Create(path string, snaplen int, reg *metrics.Registry) (*Recorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pcap file: %w", err)
	}
	r, err := NewRecorder(file, snaplen, reg)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// NewRecorder writes a pcap file header to w and returns a recorder
// appending to it.
func NewRecorder(w io.Writer, snaplen int, reg *metrics.Registry) (*Recorder, error) {
	if snaplen <= 0 {
		snaplen = DefaultSnaplen
	}
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(uint32(snaplen), layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Recorder{
		w:       pw,
		snaplen: snaplen,
		seq:     make(map[flow]uint32),
		now:     time.Now,
		metrics: reg,
	}, nil
}

// Stream records a TCP segment carrying payload from src to dst. Sequence
// numbers advance per direction so the stream reassembles.
func (r *Recorder) Stream(src, dst netip.AddrPort, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := flow{src: src, dst: dst}
	seq, ok := r.seq[f]
	if !ok {
		seq = 1
	}
	ack := r.seq[flow{src: dst, dst: src}]
	if ack == 0 {
		ack = 1
	}
	r.seq[f] = seq + uint32(len(payload))

	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(src.Port()),
		DstPort: layers.TCPPort(dst.Port()),
		Seq:     seq,
		Ack:     ack,
		ACK:     true,
		PSH:     true,
		Window:  65535,
	}
	r.write(src, dst, layers.IPProtocolTCP, tcp, payload)
}

// Datagram records a UDP datagram from src to dst.
func (r *Recorder) Datagram(src, dst netip.AddrPort, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port()),
		DstPort: layers.UDPPort(dst.Port()),
	}
	r.write(src, dst, layers.IPProtocolUDP, udp, payload)
}

// Packets returns the number of packets written.
func (r *Recorder) Packets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.packets
}

// Close closes the underlying file when the recorder opened it.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	r.w = nil
	return err
}

type transport interface {
	gopacket.SerializableLayer
	SetNetworkLayerForChecksum(gopacket.NetworkLayer) error
}

func (r *Recorder) write(src, dst netip.AddrPort, proto layers.IPProtocol, l4 transport, payload []byte) {
	if r.w == nil {
		return
	}
	srcIP, dstIP := ipOf(src.Addr()), ipOf(dst.Addr())
	eth := &layers.Ethernet{
		SrcMAC:       macOf(srcIP),
		DstMAC:       macOf(dstIP),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		SrcIP:    srcIP,
		DstIP:    dstIP,
		Protocol: proto,
	}
	if err := l4.SetNetworkLayerForChecksum(ip); err != nil {
		r.metrics.Inc(metrics.CaptureErrors)
		return
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, l4, gopacket.Payload(payload)); err != nil {
		r.metrics.Inc(metrics.CaptureErrors)
		return
	}
	data := buf.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     r.now(),
		CaptureLength: min(len(data), r.snaplen),
		Length:        len(data),
	}
	if err := r.w.WritePacket(ci, data[:ci.CaptureLength]); err != nil {
		r.metrics.Inc(metrics.CaptureErrors)
		return
	}
	r.packets++
}

func ipOf(addr netip.Addr) net.IP {
	addr = addr.Unmap()
	if !addr.Is4() {
		return net.IPv4zero.To4()
	}
	b := addr.As4()
	return net.IP(b[:])
}

// macOf derives a locally administered MAC from an IPv4 address.
func macOf(ip net.IP) net.HardwareAddr {
	return net.HardwareAddr{0x02, 0x00, ip[0], ip[1], ip[2], ip[3]}
}
