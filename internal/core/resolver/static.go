package resolver

import (
	"fmt"
	"net/netip"
)

// Static answers from a fixed host table. It never touches the network;
// LocalAddress returns only the configured override.
type Static struct {
	opts  Options
	hosts map[string][]netip.Addr
}

// NewStatic builds a resolver from host name to address literals.
func NewStatic(hosts map[string][]string, opts ...Option) (*Static, error) {
	s := &Static{
		opts:  buildOptions(opts),
		hosts: make(map[string][]netip.Addr, len(hosts)),
	}
	for name, literals := range hosts {
		for _, lit := range literals {
			addr, err := netip.ParseAddr(lit)
			if err != nil {
				return nil, fmt.Errorf("resolver: bad address %q for %s: %w", lit, name, err)
			}
			key := normaliseHost(name)
			s.hosts[key] = append(s.hosts[key], addr.Unmap())
		}
	}
	return s, nil
}

func (s *Static) Resolve(host string) (netip.Addr, error) {
	addrs, err := s.ResolveAll(host)
	if err != nil {
		return netip.Addr{}, err
	}
	return preferIPv4(host, addrs)
}

func (s *Static) ResolveAll(host string) ([]netip.Addr, error) {
	if addr, ok := parseLiteral(host); ok {
		return []netip.Addr{addr}, nil
	}
	addrs, ok := s.hosts[normaliseHost(host)]
	if !ok || len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, host)
	}
	out := make([]netip.Addr, len(addrs))
	copy(out, addrs)
	return out, nil
}

func (s *Static) LocalAddress(family Family) string {
	return overrideFor(s.opts, family)
}
