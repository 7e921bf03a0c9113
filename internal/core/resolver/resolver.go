// Package resolver provides the address lookups used by PAC functions and
// CIDR filters. Lookups never time out on their own; callers needing bounded
// latency wrap the outer selection call.
package resolver

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// Family selects an IP address family.
type Family int

const (
	IPv4 Family = 4
	IPv6 Family = 6
)

func (f Family) matches(a netip.Addr) bool {
	if f == IPv6 {
		return a.Is6() && !a.Is4In6()
	}
	return a.Is4() || a.Is4In6()
}

// ErrNotFound is returned when a name has no address.
var ErrNotFound = errors.New("host not found")

// Resolver resolves host names and reports local addresses.
type Resolver interface {
	// Resolve returns one address for host, preferring IPv4.
	Resolve(host string) (netip.Addr, error)
	// ResolveAll returns every address known for host.
	ResolveAll(host string) ([]netip.Addr, error)
	// LocalAddress returns an address of this machine in the given family,
	// or "" when none is found.
	LocalAddress(family Family) string
}

// RawBytes resolves host and returns its address as 4 or 16 raw bytes.
func RawBytes(r Resolver, host string) ([]byte, error) {
	addr, err := r.Resolve(host)
	if err != nil {
		return nil, err
	}
	return addr.Unmap().AsSlice(), nil
}

// Options holds settings shared by all resolver implementations.
type Options struct {
	LocalIPv4 string
	LocalIPv6 string
}

// Option configures a resolver.
type Option func(*Options)

// WithLocalOverride makes LocalAddress return the given values verbatim
// when they are non-blank.
func WithLocalOverride(ipv4, ipv6 string) Option {
	return func(o *Options) {
		o.LocalIPv4 = ipv4
		o.LocalIPv6 = ipv6
	}
}

func buildOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// parseLiteral recognises IP literals, with or without IPv6 brackets.
func parseLiteral(host string) (netip.Addr, bool) {
	host = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(host), "["), "]")
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// preferIPv4 picks the first IPv4 address, or the first address at all.
func preferIPv4(host string, addrs []netip.Addr) (netip.Addr, error) {
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("%w: %s", ErrNotFound, host)
	}
	for _, a := range addrs {
		if a.Is4() {
			return a, nil
		}
	}
	return addrs[0], nil
}

func normaliseHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}
