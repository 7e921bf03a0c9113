package selector

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/loolooyyyy/pac-vole/internal/core/pac"
	"github.com/loolooyyyy/pac-vole/internal/shared/logger"
	"github.com/loolooyyyy/pac-vole/internal/shared/settings"
	"github.com/loolooyyyy/pac-vole/internal/shared/types"
)

// ProtocolDispatch picks a selector by URI scheme. The chosen selector's
// decision replaces the dispatcher's own; unknown schemes go to the
// fallback.
type ProtocolDispatch struct {
	Base
	mu        sync.RWMutex
	selectors map[string]Selector
	fallback  Selector
}

// NewProtocolDispatch creates an empty dispatcher. A nil fallback answers
// DIRECT.
func NewProtocolDispatch(fallback Selector) *ProtocolDispatch {
	if fallback == nil {
		fallback = NewNoProxy()
	}
	return &ProtocolDispatch{
		selectors: make(map[string]Selector),
		fallback:  fallback,
	}
}

// Set registers sel for scheme, replacing any previous one.
func (p *ProtocolDispatch) Set(scheme string, sel Selector) error {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" {
		return configError("dispatch: empty scheme")
	}
	if sel == nil {
		return configError("dispatch: nil selector for %s", scheme)
	}
	p.mu.Lock()
	p.selectors[scheme] = sel
	p.mu.Unlock()
	return nil
}

// Get returns the selector registered for scheme, or nil.
func (p *ProtocolDispatch) Get(scheme string) Selector {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.selectors[strings.ToLower(scheme)]
}

// Remove unregisters scheme and returns its selector, or nil.
func (p *ProtocolDispatch) Remove(scheme string) Selector {
	scheme = strings.ToLower(scheme)
	p.mu.Lock()
	defer p.mu.Unlock()
	sel := p.selectors[scheme]
	delete(p.selectors, scheme)
	return sel
}

func (p *ProtocolDispatch) SetFallback(sel Selector) error {
	if sel == nil {
		return configError("dispatch: nil fallback")
	}
	p.mu.Lock()
	p.fallback = sel
	p.mu.Unlock()
	return nil
}

// Len returns the number of registered schemes.
func (p *ProtocolDispatch) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.selectors)
}

func (p *ProtocolDispatch) pick(scheme string) Selector {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if sel, ok := p.selectors[strings.ToLower(scheme)]; ok {
		return sel
	}
	return p.fallback
}

func (p *ProtocolDispatch) Select(u *url.URL) (types.Decision, error) {
	if u == nil {
		return nil, ErrNilURI
	}
	if !p.Enabled() {
		return types.DirectDecision(), nil
	}
	return p.pick(u.Scheme).Select(u)
}

func (p *ProtocolDispatch) ConnectFailed(u *url.URL, address string, cause error) {
	if u == nil {
		return
	}
	p.pick(u.Scheme).ConnectFailed(u, address, cause)
}

// OnSettingsUpdate applies the "protocols" module: each scheme maps to a
// fixed proxy in PAC result syntax, an empty value removes the scheme.
// Every entry is parsed before any is applied, so a bad entry changes
// nothing.
func (p *ProtocolDispatch) OnSettingsUpdate(moduleKey string, newSettings interface{}) error {
	if moduleKey != settings.ModuleProtocols {
		return nil
	}
	cfg, ok := newSettings.(*settings.ProtocolSettings)
	if !ok {
		return fmt.Errorf("protocols: received incorrect settings type")
	}
	parsed := make(map[string]Selector, len(cfg.Proxies))
	for scheme, spec := range cfg.Proxies {
		key := strings.ToLower(strings.TrimSpace(scheme))
		if key == "" {
			return configError("dispatch: empty scheme")
		}
		if strings.TrimSpace(spec) == "" {
			parsed[key] = nil
			continue
		}
		sel, err := FixedFromResult(spec)
		if err != nil {
			return fmt.Errorf("protocols: %s: %w", key, err)
		}
		parsed[key] = sel
	}

	p.mu.Lock()
	for scheme, sel := range parsed {
		if sel == nil {
			delete(p.selectors, scheme)
			continue
		}
		p.selectors[scheme] = sel
	}
	n := len(p.selectors)
	p.mu.Unlock()

	logger.Info().Int("count", n).Msg("Protocol selectors updated.")
	return nil
}

// FixedFromResult builds a fixed selector from PAC result syntax, e.g.
// "PROXY proxy:3128; DIRECT".
func FixedFromResult(spec string) (*Fixed, error) {
	return NewFixed(pac.ParseResult(spec))
}
