package types

import (
	"net"
	"strconv"
	"strings"

	M "github.com/sagernet/sing/common/metadata"
)

// ProxyType is the kind of hop a Proxy describes.
type ProxyType string

const (
	ProxyDirect ProxyType = "DIRECT"
	ProxyHTTP   ProxyType = "HTTP"
	ProxySOCKS  ProxyType = "SOCKS"
)

// DefaultProxyPort is used when a proxy address omits the port.
const DefaultProxyPort = 80

// Proxy describes one candidate hop for an outgoing request.
// A DIRECT proxy carries no host or port.
type Proxy struct {
	Type ProxyType `json:"type"`
	Host string    `json:"host,omitempty"`
	Port int       `json:"port,omitempty"`
}

// Direct is the proxy value representing a direct connection.
var Direct = Proxy{Type: ProxyDirect}

// NewProxy builds an HTTP or SOCKS proxy. A DIRECT type drops host and port.
func NewProxy(t ProxyType, host string, port int) Proxy {
	if t == ProxyDirect {
		return Direct
	}
	return Proxy{Type: t, Host: host, Port: port}
}

// IsDirect reports whether p represents a direct connection.
func (p Proxy) IsDirect() bool {
	return p.Type == ProxyDirect
}

// Address returns the canonical host:port of the proxy, or "" for DIRECT.
// IPv6 literals are bracketed and normalised so that equivalent spellings
// of the same address compare equal.
func (p Proxy) Address() string {
	if p.IsDirect() {
		return ""
	}
	return CanonicalAddress(net.JoinHostPort(strings.Trim(p.Host, "[]"), strconv.Itoa(p.Port)))
}

// String renders the proxy in PAC result syntax, e.g. "PROXY host:8080".
func (p Proxy) String() string {
	switch p.Type {
	case ProxyDirect:
		return "DIRECT"
	case ProxySOCKS:
		return "SOCKS " + p.Address()
	default:
		return "PROXY " + p.Address()
	}
}

// CanonicalAddress normalises a host:port string. Addresses that cannot be
// parsed are returned lower-cased and otherwise untouched.
func CanonicalAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	sa := M.ParseSocksaddr(address)
	if !sa.IsValid() {
		return strings.ToLower(address)
	}
	if sa.IsFqdn() {
		sa.Fqdn = strings.ToLower(sa.Fqdn)
	}
	return sa.String()
}

// Decision is the ordered list of proxies to try for one request.
type Decision []Proxy

// DirectDecision returns a fresh decision containing only DIRECT.
func DirectDecision() Decision {
	return Decision{Direct}
}

// IsDirectOnly reports whether every entry of d is DIRECT.
func (d Decision) IsDirectOnly() bool {
	for _, p := range d {
		if !p.IsDirect() {
			return false
		}
	}
	return len(d) > 0
}

// Clone returns a copy of d that shares no backing array with it.
func (d Decision) Clone() Decision {
	if d == nil {
		return nil
	}
	out := make(Decision, len(d))
	copy(out, d)
	return out
}

// String joins the entries in PAC result syntax.
func (d Decision) String() string {
	parts := make([]string, len(d))
	for i, p := range d {
		parts[i] = p.String()
	}
	return strings.Join(parts, "; ")
}
