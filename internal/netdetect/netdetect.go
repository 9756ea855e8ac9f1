package netdetect

import (
	"fmt"
	"net"
	"net/netip"
)

// InterfaceInfo is one IPv4 address of a host interface.
type InterfaceInfo struct {
	Name       string           // System interface name (e.g., "eth0", "en0")
	MAC        net.HardwareAddr // empty for loopback and tunnels
	Addr       netip.Addr
	Mask       netip.Addr
	IsUp       bool
	IsLoopback bool
}

// ListInterfaces returns every IPv4 address configured on the host, one entry
// per address.
func ListInterfaces() ([]InterfaceInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}

	var out []InterfaceInfo
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			info, ok := fromIPNet(iface, ipnet)
			if ok {
				out = append(out, info)
			}
		}
	}
	return out, nil
}

func fromIPNet(iface net.Interface, ipnet *net.IPNet) (InterfaceInfo, bool) {
	ip4 := ipnet.IP.To4()
	if ip4 == nil || len(ipnet.Mask) != net.IPv4len {
		return InterfaceInfo{}, false
	}
	return InterfaceInfo{
		Name:       iface.Name,
		MAC:        iface.HardwareAddr,
		Addr:       netip.AddrFrom4([4]byte(ip4)),
		Mask:       netip.AddrFrom4([4]byte(ipnet.Mask)),
		IsUp:       iface.Flags&net.FlagUp != 0,
		IsLoopback: iface.Flags&net.FlagLoopback != 0,
	}, true
}

// DetectInterfaceForListen returns the interface bound to the given listen IP.
// For 0.0.0.0 it returns the first up, non-loopback interface; for a loopback
// address, the loopback interface.
func DetectInterfaceForListen(listenIP string) (InterfaceInfo, error) {
	ip, err := netip.ParseAddr(listenIP)
	if err != nil || !ip.Is4() {
		return InterfaceInfo{}, fmt.Errorf("invalid IPv4 address: %s", listenIP)
	}
	interfaces, err := ListInterfaces()
	if err != nil {
		return InterfaceInfo{}, err
	}
	return pick(interfaces, ip)
}

func pick(interfaces []InterfaceInfo, ip netip.Addr) (InterfaceInfo, error) {
	switch {
	case ip.IsUnspecified():
		for _, iface := range interfaces {
			if iface.IsUp && !iface.IsLoopback {
				return iface, nil
			}
		}
		return InterfaceInfo{}, fmt.Errorf("no non-loopback interfaces found")
	case ip.IsLoopback():
		for _, iface := range interfaces {
			if iface.IsLoopback {
				return iface, nil
			}
		}
		return InterfaceInfo{}, fmt.Errorf("no loopback interface found")
	}
	for _, iface := range interfaces {
		if iface.Addr == ip {
			return iface, nil
		}
	}
	return InterfaceInfo{}, fmt.Errorf("no interface found with IP %s", ip)
}

// GetInterfaceAddressString returns "addr/mask on name".
func GetInterfaceAddressString(info InterfaceInfo) string {
	if !info.Addr.IsValid() {
		return info.Name + ": no address"
	}
	return fmt.Sprintf("%s/%s on %s", info.Addr, info.Mask, info.Name)
}
