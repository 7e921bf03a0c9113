package pac

import "fmt"

// function is one host function exposed to PAC scripts. Arguments arrive
// exported from script values: nil for undefined or null, otherwise int64,
// float64, string or bool.
type function struct {
	name  string
	arity int
	call  func(m *Methods, args []any) any
}

var functions = []function{
	{"isPlainHostName", 1, func(m *Methods, a []any) any { return m.IsPlainHostName(str(a[0])) }},
	{"dnsDomainIs", 2, func(m *Methods, a []any) any { return m.DNSDomainIs(str(a[0]), str(a[1])) }},
	{"localHostOrDomainIs", 2, func(m *Methods, a []any) any { return m.LocalHostOrDomainIs(str(a[0]), str(a[1])) }},
	{"isResolvable", 1, func(m *Methods, a []any) any { return m.IsResolvable(str(a[0])) }},
	{"isInNet", 3, func(m *Methods, a []any) any { return m.IsInNet(str(a[0]), str(a[1]), str(a[2])) }},
	{"dnsResolve", 1, func(m *Methods, a []any) any { return m.DNSResolve(str(a[0])) }},
	{"myIpAddress", 0, func(m *Methods, a []any) any { return m.MyIPAddress() }},
	{"dnsDomainLevels", 1, func(m *Methods, a []any) any { return m.DNSDomainLevels(str(a[0])) }},
	{"shExpMatch", 2, func(m *Methods, a []any) any { return m.ShExpMatch(str(a[0]), str(a[1])) }},
	{"weekdayRange", 3, func(m *Methods, a []any) any { return m.WeekdayRange(str(a[0]), str(a[1]), str(a[2])) }},
	{"dateRange", 7, func(m *Methods, a []any) any { return m.DateRange(a...) }},
	{"timeRange", 7, func(m *Methods, a []any) any { return m.TimeRange(a[0], a[1], a[2], a[3], a[4], a[5], a[6]) }},
	{"isResolvableEx", 1, func(m *Methods, a []any) any { return m.IsResolvableEx(str(a[0])) }},
	{"isInNetEx", 2, func(m *Methods, a []any) any { return m.IsInNetEx(str(a[0]), str(a[1])) }},
	{"dnsResolveEx", 1, func(m *Methods, a []any) any { return m.DNSResolveEx(str(a[0])) }},
	{"myIpAddressEx", 0, func(m *Methods, a []any) any { return m.MyIPAddressEx() }},
	{"sortIpAddressList", 1, func(m *Methods, a []any) any { return m.SortIPAddressList(str(a[0])) }},
	{"getClientVersion", 0, func(m *Methods, a []any) any { return m.GetClientVersion() }},
}

func str(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	return fmt.Sprint(v)
}
