package resolver

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// System resolves names with the operating system resolver.
type System struct {
	opts     Options
	resolver *net.Resolver
}

// NewSystem creates a resolver backed by net.DefaultResolver.
func NewSystem(opts ...Option) *System {
	return &System{
		opts:     buildOptions(opts),
		resolver: net.DefaultResolver,
	}
}

func (s *System) Resolve(host string) (netip.Addr, error) {
	addrs, err := s.ResolveAll(host)
	if err != nil {
		return netip.Addr{}, err
	}
	return preferIPv4(host, addrs)
}

func (s *System) ResolveAll(host string) ([]netip.Addr, error) {
	if addr, ok := parseLiteral(host); ok {
		return []netip.Addr{addr}, nil
	}
	name := normaliseHost(host)
	if name == "" {
		return nil, fmt.Errorf("%w: empty host", ErrNotFound)
	}
	addrs, err := s.resolver.LookupNetIP(context.Background(), "ip", name)
	if err != nil || len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, host)
	}
	out := make([]netip.Addr, len(addrs))
	for i, a := range addrs {
		out[i] = a.Unmap()
	}
	return out, nil
}

func (s *System) LocalAddress(family Family) string {
	return localAddress(s.opts, family)
}
