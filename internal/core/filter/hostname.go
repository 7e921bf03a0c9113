package filter

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// Mode selects how a hostname filter compares.
type Mode int

const (
	Prefix Mode = iota
	Suffix
	Regex
)

func (m Mode) String() string {
	switch m {
	case Prefix:
		return "prefix"
	case Suffix:
		return "suffix"
	case Regex:
		return "regex"
	}
	return "unknown"
}

// Hostname matches the host part of a URI by prefix, suffix or regular
// expression, ignoring case.
type Hostname struct {
	mode    Mode
	scheme  string
	pattern string
	re      *regexp.Regexp
}

// NewHostname creates a prefix or suffix filter. A leading "scheme://" in
// pattern restricts the filter to that scheme.
func NewHostname(mode Mode, pattern string) (*Hostname, error) {
	if mode == Regex {
		return NewRegex(pattern)
	}
	if mode != Prefix && mode != Suffix {
		return nil, configError("unknown hostname filter mode %d", int(mode))
	}
	scheme, rest := splitScheme(pattern)
	return newHostname(mode, scheme, rest), nil
}

// NewRegex creates a filter whose pattern must match the whole host.
func NewRegex(pattern string) (*Hostname, error) {
	scheme, rest := splitScheme(pattern)
	re, err := regexp.Compile("^(?:" + rest + ")$")
	if err != nil {
		return nil, configError("invalid host pattern %q: %v", pattern, err)
	}
	return &Hostname{mode: Regex, scheme: scheme, pattern: rest, re: re}, nil
}

func newHostname(mode Mode, scheme, pattern string) *Hostname {
	return &Hostname{mode: mode, scheme: scheme, pattern: normaliseHost(pattern)}
}

func (h *Hostname) Match(u *url.URL) bool {
	if u == nil || u.Host == "" {
		return false
	}
	if !schemeAllows(h.scheme, u) {
		return false
	}
	host := normaliseHost(stripPort(u.Host))
	switch h.mode {
	case Prefix:
		return strings.HasPrefix(host, h.pattern)
	case Suffix:
		return strings.HasSuffix(host, h.pattern)
	case Regex:
		return h.re.MatchString(host)
	}
	return false
}

func (h *Hostname) String() string {
	if h.scheme != "" {
		return h.mode.String() + ":" + h.scheme + schemeSeparator + h.pattern
	}
	return h.mode.String() + ":" + h.pattern
}

// stripPort removes ":port" from an authority. A colon before the last ']'
// is part of an IPv6 literal.
func stripPort(authority string) string {
	colon := strings.LastIndexByte(authority, ':')
	if colon > strings.LastIndexByte(authority, ']') {
		return authority[:colon]
	}
	return authority
}

// normaliseHost lower-cases and converts internationalised names to their
// ASCII form so Unicode and punycode spellings compare equal.
func normaliseHost(s string) string {
	s = strings.ToLower(s)
	if !hasNonASCII(s) {
		return s
	}
	ascii, err := idna.Punycode.ToASCII(s)
	if err != nil {
		return s
	}
	return strings.ToLower(ascii)
}

func hasNonASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return true
		}
	}
	return false
}
