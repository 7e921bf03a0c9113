package resolver

import (
	"net"
	"net/netip"
	"strings"

	netroute "github.com/libp2p/go-netroute"
)

// Route probes; no packet is sent, the kernel routing table is consulted.
var (
	probeIPv4 = net.IPv4(119, 29, 29, 29)
	probeIPv6 = net.ParseIP("2400:3200::1")
)

// localAddress implements LocalAddress for the system and DNS resolvers.
// An override wins; otherwise the preferred source of the default route is
// used, then the first matching address of any usable interface.
func localAddress(o Options, family Family) string {
	if override := overrideFor(o, family); override != "" {
		return override
	}
	if addr, ok := routeSource(family); ok {
		return addr
	}
	return scanInterfaces(family)
}

func overrideFor(o Options, family Family) string {
	v := o.LocalIPv4
	if family == IPv6 {
		v = o.LocalIPv6
	}
	if strings.TrimSpace(v) == "" {
		return ""
	}
	return v
}

func routeSource(family Family) (string, bool) {
	r, err := netroute.New()
	if err != nil {
		return "", false
	}
	probe := probeIPv4
	if family == IPv6 {
		probe = probeIPv6
	}
	iface, _, src, err := r.Route(probe)
	if err != nil || src == nil || src.IsLoopback() {
		return "", false
	}
	if iface != nil && !usable(*iface) {
		return "", false
	}
	addr, ok := netip.AddrFromSlice(src)
	if !ok || !family.matches(addr) {
		return "", false
	}
	return addr.Unmap().String(), true
}

func scanInterfaces(family Family) string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if !usable(iface) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			addr, ok := netip.AddrFromSlice(ip)
			if !ok || !family.matches(addr) {
				continue
			}
			return addr.Unmap().String()
		}
	}
	return ""
}

// usable skips interfaces that are down, loopback, or virtual aliases
// such as "eth0:1".
func usable(iface net.Interface) bool {
	if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
		return false
	}
	return !strings.Contains(iface.Name, ":")
}
