package selector

import (
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/loolooyyyy/pac-vole/internal/core/filter"
	"github.com/loolooyyyy/pac-vole/internal/core/resolver"
	"github.com/loolooyyyy/pac-vole/internal/shared/logger"
	"github.com/loolooyyyy/pac-vole/internal/shared/settings"
	"github.com/loolooyyyy/pac-vole/internal/shared/types"
)

// ruleSet is an atomically replaceable filter list. Readers never see a
// partially updated list. base holds the rules given at construction; an
// update with no rules restores them.
type ruleSet struct {
	moduleKey string
	resolver  resolver.Resolver
	base      []filter.Filter
	filters   atomic.Pointer[[]filter.Filter]
}

func (r *ruleSet) setup(moduleKey string, res resolver.Resolver, filters []filter.Filter) {
	r.moduleKey = moduleKey
	r.resolver = res
	r.base = append([]filter.Filter(nil), filters...)
	r.store(filters)
}

func (r *ruleSet) store(filters []filter.Filter) {
	own := append([]filter.Filter(nil), filters...)
	r.filters.Store(&own)
}

func (r *ruleSet) match(u *url.URL) bool {
	return filter.MatchAny(*r.filters.Load(), u)
}

func (r *ruleSet) empty() bool {
	return len(*r.filters.Load()) == 0
}

// Filters returns the active filter list.
func (r *ruleSet) Filters() []filter.Filter {
	return append([]filter.Filter(nil), *r.filters.Load()...)
}

// OnSettingsUpdate parses the new rule list and swaps it in. An empty list
// restores the rules given at construction. On a parse error the previous
// list stays active.
func (r *ruleSet) OnSettingsUpdate(moduleKey string, newSettings interface{}) error {
	if moduleKey != r.moduleKey {
		return nil
	}
	cfg, ok := newSettings.(*settings.RuleListSettings)
	if !ok {
		return fmt.Errorf("%s: received incorrect settings type", r.moduleKey)
	}
	if len(cfg.Rules) == 0 {
		r.store(r.base)
		logger.Info().Str("module", r.moduleKey).Int("count", len(r.base)).Msg("Rule list reset to configured rules.")
		return nil
	}
	filters, err := filter.Parse(strings.Join(cfg.Rules, ", "), r.resolver)
	if err != nil {
		logger.Error().Err(err).Str("module", r.moduleKey).Msg("Failed to parse rule list, keeping previous rules.")
		return err
	}
	r.store(filters)
	logger.Info().Str("module", r.moduleKey).Int("count", len(filters)).Msg("Rule list updated.")
	return nil
}

// BypassList answers DIRECT for URIs matching any of its filters and defers
// everything else to its delegate.
type BypassList struct {
	node
	ruleSet
}

// NewBypassList wraps delegate with a bypass filter list. A nil resolver
// uses the system resolver for ranges added by later updates.
func NewBypassList(delegate Selector, filters []filter.Filter, r resolver.Resolver) (*BypassList, error) {
	if err := requireDelegate("bypass list", delegate); err != nil {
		return nil, err
	}
	b := &BypassList{}
	b.delegate = delegate
	b.setup(settings.ModuleBypass, r, filters)
	b.resolve = b.bypass
	return b, nil
}

// ParseBypassList is NewBypassList with the filters parsed from list.
func ParseBypassList(delegate Selector, list string, r resolver.Resolver) (*BypassList, error) {
	filters, err := filter.Parse(list, r)
	if err != nil {
		return nil, err
	}
	return NewBypassList(delegate, filters, r)
}

func (b *BypassList) bypass(u *url.URL) (types.Decision, bool) {
	if b.match(u) {
		logger.Debug().Str("url", u.String()).Msg("Bypass list matched, using DIRECT.")
		return types.DirectDecision(), true
	}
	return nil, false
}

// Whitelist defers to its delegate only for URIs matching one of its
// filters; everything else goes DIRECT. With no filters it has no opinion.
type Whitelist struct {
	node
	ruleSet
}

// NewWhitelist parses list and wraps delegate with it.
func NewWhitelist(delegate Selector, list string, r resolver.Resolver) (*Whitelist, error) {
	if err := requireDelegate("whitelist", delegate); err != nil {
		return nil, err
	}
	filters, err := filter.Parse(list, r)
	if err != nil {
		return nil, err
	}
	w := &Whitelist{}
	w.delegate = delegate
	w.setup(settings.ModuleWhitelist, r, filters)
	w.resolve = w.allow
	return w, nil
}

func (w *Whitelist) allow(u *url.URL) (types.Decision, bool) {
	if w.empty() || w.match(u) {
		return nil, false
	}
	return types.DirectDecision(), true
}
