// Package filter implements the URI predicates used by bypass lists and
// whitelists.
package filter

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/loolooyyyy/pac-vole/internal/core/resolver"
	"github.com/loolooyyyy/pac-vole/internal/shared/types"
)

// Filter reports whether a URI matches a rule. Filters are immutable and
// safe for concurrent use.
type Filter interface {
	Match(u *url.URL) bool
}

const schemeSeparator = "://"

var (
	listSeparator = regexp.MustCompile(`[, ]+`)
	cidrPattern   = regexp.MustCompile(`^([01]?\d\d?|2[0-4]\d|25[0-5])\.` +
		`([01]?\d\d?|2[0-4]\d|25[0-5])\.` +
		`([01]?\d\d?|2[0-4]\d|25[0-5])\.` +
		`([01]?\d\d?|2[0-4]\d|25[0-5])/(\d|[12]\d|3[0-2])$`)
)

// Parse turns a comma or space separated rule list into filters.
//
//	.mynet.com, *.mynet.com   host ends with .mynet.com
//	www.mynet.*               host starts with www.mynet.
//	192.168.0.0/24            host resolves into the range
//	http://www.mynet.com      as above, only for the http scheme
//
// CIDR filters resolve host names through r; a nil r uses the system
// resolver.
func Parse(list string, r resolver.Resolver) ([]Filter, error) {
	tokens := listSeparator.Split(list, -1)
	filters := make([]Filter, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		f, err := parseToken(tok, r)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func parseToken(tok string, r resolver.Resolver) (Filter, error) {
	scheme, rest := splitScheme(tok)
	switch {
	case cidrPattern.MatchString(rest):
		if r == nil {
			r = resolver.NewSystem()
		}
		f, err := NewCIDR(rest, r)
		if err != nil {
			return nil, err
		}
		f.scheme = scheme
		return f, nil
	case strings.HasSuffix(rest, "*"):
		return newHostname(Prefix, scheme, strings.TrimSuffix(rest, "*")), nil
	case strings.HasPrefix(rest, "*"):
		return newHostname(Suffix, scheme, strings.TrimPrefix(rest, "*")), nil
	default:
		return newHostname(Suffix, scheme, rest), nil
	}
}

func splitScheme(s string) (scheme, rest string) {
	if i := strings.Index(s, schemeSeparator); i >= 0 {
		return s[:i], s[i+len(schemeSeparator):]
	}
	return "", s
}

// schemeAllows implements the optional scheme constraint. A URI without a
// scheme passes.
func schemeAllows(constraint string, u *url.URL) bool {
	return constraint == "" || u.Scheme == "" || strings.EqualFold(constraint, u.Scheme)
}

// MatchAny reports whether any filter matches u.
func MatchAny(filters []Filter, u *url.URL) bool {
	for _, f := range filters {
		if f.Match(u) {
			return true
		}
	}
	return false
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrConfiguration, fmt.Sprintf(format, args...))
}
