package selector

import (
	"net/url"
	"strings"

	"github.com/loolooyyyy/pac-vole/internal/shared/types"
)

// Fixed answers every request with the same decision.
type Fixed struct {
	node
	decision types.Decision
}

// NewFixed returns a selector that always answers decision.
func NewFixed(decision types.Decision) (*Fixed, error) {
	if len(decision) == 0 {
		return nil, configError("fixed: empty decision")
	}
	f := &Fixed{decision: decision.Clone()}
	f.resolve = f.answer
	return f, nil
}

// NewFixedHTTP returns a selector that always answers one HTTP proxy.
func NewFixedHTTP(host string, port int) (*Fixed, error) {
	return newFixedProxy(types.ProxyHTTP, host, port)
}

// NewFixedSOCKS returns a selector that always answers one SOCKS proxy.
func NewFixedSOCKS(host string, port int) (*Fixed, error) {
	return newFixedProxy(types.ProxySOCKS, host, port)
}

func newFixedProxy(kind types.ProxyType, host string, port int) (*Fixed, error) {
	if strings.TrimSpace(host) == "" {
		return nil, configError("fixed: empty proxy host")
	}
	if port < 0 || port > 65535 {
		return nil, configError("fixed: port %d out of range", port)
	}
	return NewFixed(types.Decision{types.NewProxy(kind, host, port)})
}

func (f *Fixed) answer(*url.URL) (types.Decision, bool) {
	return f.decision.Clone(), true
}

// Decision returns a copy of the configured decision.
func (f *Fixed) Decision() types.Decision {
	return f.decision.Clone()
}

// NoProxy answers DIRECT for every request.
type NoProxy struct {
	node
}

func NewNoProxy() *NoProxy {
	n := &NoProxy{}
	n.resolve = func(*url.URL) (types.Decision, bool) {
		return types.DirectDecision(), true
	}
	return n
}
