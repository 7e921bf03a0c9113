package filter

import (
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/loolooyyyy/pac-vole/internal/core/resolver"
)

// CIDR matches URIs whose host resolves into an address range. Only the
// prefix bits are compared; an IPv6 host never matches an IPv4 range.
type CIDR struct {
	scheme   string
	network  []byte
	bits     int
	resolver resolver.Resolver
}

// NewCIDR parses "address/bits". The address may be a host name, resolved
// once at construction like the URI hosts it is compared against.
func NewCIDR(cidr string, r resolver.Resolver) (*CIDR, error) {
	if r == nil {
		return nil, configError("nil resolver for range %q", cidr)
	}
	parts := strings.Split(cidr, "/")
	if len(parts) != 2 {
		return nil, configError("invalid address range %q", cidr)
	}
	addr, err := r.Resolve(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, configError("invalid address range %q: %v", cidr, err)
	}
	network := addr.Unmap().AsSlice()

	bits, err := parseBits(strings.TrimSpace(parts[1]), len(network)*8)
	if err != nil {
		return nil, configError("invalid address range %q: %v", cidr, err)
	}
	return &CIDR{network: network, bits: bits, resolver: r}, nil
}

func parseBits(s string, width int) (int, error) {
	bits, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if bits < 0 || bits > width {
		return 0, fmt.Errorf("prefix length %d out of range", bits)
	}
	return bits, nil
}

func (c *CIDR) Match(u *url.URL) bool {
	if u == nil || u.Hostname() == "" {
		return false
	}
	if !schemeAllows(c.scheme, u) {
		return false
	}
	addr, err := resolver.RawBytes(c.resolver, u.Hostname())
	if err != nil || len(addr) != len(c.network) {
		return false
	}
	return prefixEqual(c.network, addr, c.bits)
}

func (c *CIDR) String() string {
	a, _ := netip.AddrFromSlice(c.network)
	return netip.PrefixFrom(a, c.bits).String()
}

// prefixEqual compares the first n bits of a and b.
func prefixEqual(a, b []byte, n int) bool {
	full := n / 8
	for i := 0; i < full; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	rem := n % 8
	if rem == 0 {
		return true
	}
	mask := byte(0xff << (8 - rem))
	return a[full]&mask == b[full]&mask
}
