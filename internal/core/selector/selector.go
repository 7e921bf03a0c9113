// Package selector implements the proxy decision chain. Each selector either
// answers a request itself or defers to the selector it wraps.
package selector

import (
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/loolooyyyy/pac-vole/internal/shared/types"
)

// ErrNilURI is returned by Select for a nil URI.
var ErrNilURI = errors.New("selector: nil URI")

// Selector decides which proxies to try for a request.
type Selector interface {
	// Select returns the proxies to try for u, in order.
	Select(u *url.URL) (types.Decision, error)
	// ConnectFailed reports that connecting to address for u failed.
	ConnectFailed(u *url.URL, address string, cause error)
}

// Base holds the enabled flag every selector carries. A disabled selector
// answers DIRECT without consulting its own logic or its delegate.
type Base struct {
	disabled atomic.Bool
}

func (b *Base) SetEnabled(enabled bool) { b.disabled.Store(!enabled) }

func (b *Base) Enabled() bool { return !b.disabled.Load() }

// node is a selector with an own resolution step and an optional delegate.
// resolve returns false when the node has no opinion about u.
type node struct {
	Base
	delegate Selector
	resolve  func(u *url.URL) (types.Decision, bool)
}

func (n *node) Select(u *url.URL) (types.Decision, error) {
	if u == nil {
		return nil, ErrNilURI
	}
	if !n.Enabled() {
		return types.DirectDecision(), nil
	}
	if d, ok := n.resolve(u); ok {
		return d, nil
	}
	if n.delegate == nil {
		return types.DirectDecision(), nil
	}
	return n.delegate.Select(u)
}

func (n *node) ConnectFailed(u *url.URL, address string, cause error) {
	if n.delegate != nil {
		n.delegate.ConnectFailed(u, address, cause)
	}
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrConfiguration, fmt.Sprintf(format, args...))
}

func requireDelegate(name string, delegate Selector) error {
	if delegate == nil {
		return configError("%s: nil delegate", name)
	}
	return nil
}
