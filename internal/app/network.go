package app

import (
	"github.com/tturner/cipadapter/internal/config"
	"github.com/tturner/cipadapter/internal/netdetect"
)

// fillNetwork copies host interface settings into the unset network
// attributes. The address is only taken when listening on all interfaces,
// since a specific listen IP already is the interface address.
func fillNetwork(n *config.NetworkSection, listenIP string, info netdetect.InterfaceInfo) []string {
	var filled []string
	if n.Address == "" && listenIP == "0.0.0.0" && info.Addr.IsValid() {
		n.Address = info.Addr.String()
		filled = append(filled, "address")
	}
	if n.NetworkMask == "" && info.Mask.IsValid() {
		n.NetworkMask = info.Mask.String()
		filled = append(filled, "network_mask")
	}
	if n.MAC == "" && len(info.MAC) == 6 {
		n.MAC = info.MAC.String()
		filled = append(filled, "mac")
	}
	return filled
}
