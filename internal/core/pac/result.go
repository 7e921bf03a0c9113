package pac

import (
	"strconv"
	"strings"

	"github.com/loolooyyyy/pac-vole/internal/shared/types"
)

const minEntryLength = 6

// ParseResult turns a FindProxyForURL result such as
// "PROXY a:3128; SOCKS b:1080; DIRECT" into a decision, keeping order.
func ParseResult(result string) types.Decision {
	var out types.Decision
	for _, tok := range strings.Split(result, ";") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		out = append(out, parseEntry(tok))
	}
	return out
}

func parseEntry(tok string) types.Proxy {
	upper := strings.ToUpper(tok)
	if len(tok) < minEntryLength || strings.HasPrefix(upper, "DIRECT") {
		return types.Direct
	}
	kind := types.ProxyHTTP
	if strings.HasPrefix(upper, "SOCKS") {
		kind = types.ProxySOCKS
	}

	// Skip the keyword, whatever it is ("PROXY", "SOCKS5", "HTTPS" ...).
	hostPort := tok
	if i := strings.IndexAny(tok, " \t"); i >= 0 {
		hostPort = strings.TrimSpace(tok[i+1:])
	}
	host, port := splitHostPort(hostPort)
	return types.NewProxy(kind, host, port)
}

// splitHostPort splits on the last colon outside an IPv6 bracket. A missing
// or unparseable port becomes the default.
func splitHostPort(s string) (string, int) {
	colon := strings.LastIndexByte(s, ':')
	if colon < 0 || colon < strings.LastIndexByte(s, ']') {
		return s, types.DefaultProxyPort
	}
	host := strings.TrimSpace(s[:colon])
	port, err := strconv.Atoi(strings.TrimSpace(s[colon+1:]))
	if err != nil || port < 0 || port > 65535 {
		port = types.DefaultProxyPort
	}
	return host, port
}

// IsScriptValid reports whether script looks like a PAC file.
func IsScriptValid(script string) bool {
	return strings.TrimSpace(script) != "" && strings.Contains(script, "FindProxyForURL")
}
