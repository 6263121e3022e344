package netutil

import (
	"net"
	"strings"
)

var cgnat = mustCIDR("100.64.0.0/10")

// tunnelHints are interface name fragments used by VPN and tunnel drivers.
var tunnelHints = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

// Iface is the part of a network interface the relay heuristic looks at.
type Iface struct {
	Name     string
	Up       bool
	Loopback bool
	Addrs    []net.IP
}

// ShouldForceRelay reports whether this host looks like it sits behind a
// VPN or carrier-grade NAT, where direct candidates rarely connect and the
// TURN relay should be used from the start.
func ShouldForceRelay() bool {
	ifaces, err := localInterfaces()
	if err != nil {
		return false
	}
	return Restricted(ifaces)
}

// Restricted applies the VPN/CGNAT heuristic to a set of interfaces.
func Restricted(ifaces []Iface) bool {
	for _, iface := range ifaces {
		if !iface.Up || iface.Loopback {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, hint := range tunnelHints {
			if strings.Contains(name, hint) {
				return true
			}
		}

		for _, ip := range iface.Addrs {
			if cgnat.Contains(ip) {
				return true
			}
		}
	}
	return false
}

func localInterfaces() ([]Iface, error) {
	raw, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Iface, 0, len(raw))
	for _, ni := range raw {
		iface := Iface{
			Name:     ni.Name,
			Up:       ni.Flags&net.FlagUp != 0,
			Loopback: ni.Flags&net.FlagLoopback != 0,
		}
		addrs, err := ni.Addrs()
		if err == nil {
			for _, a := range addrs {
				switch v := a.(type) {
				case *net.IPNet:
					iface.Addrs = append(iface.Addrs, v.IP)
				case *net.IPAddr:
					iface.Addrs = append(iface.Addrs, v.IP)
				}
			}
		}
		out = append(out, iface)
	}
	return out, nil
}

func mustCIDR(s string) *net.IPNet {
	_, block, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return block
}
