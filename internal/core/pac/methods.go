package pac

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/loolooyyyy/pac-vole/internal/core/resolver"
)

// ClientVersion is reported by getClientVersion().
const ClientVersion = "1.0"

const gmt = "GMT"

var (
	weekdays = []string{"SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT"}
	months   = []string{"JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC"}
)

// Methods implements the functions a PAC script may call. Resolution
// failures are never surfaced: they turn into false or "".
type Methods struct {
	Resolver resolver.Resolver
	// Now returns the current time. Tests pin it.
	Now func() time.Time
	// Location is the local time zone; GMT arguments switch to UTC.
	Location *time.Location
}

// NewMethods creates a method library over r. A nil r uses the system
// resolver.
func NewMethods(r resolver.Resolver) *Methods {
	if r == nil {
		r = resolver.NewSystem()
	}
	return &Methods{Resolver: r, Now: time.Now, Location: time.Local}
}

func (m *Methods) current(useGMT bool) time.Time {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	t := now()
	if useGMT {
		return t.UTC()
	}
	if m.Location != nil {
		return t.In(m.Location)
	}
	return t
}

func (m *Methods) IsPlainHostName(host string) bool {
	return !strings.Contains(host, ".")
}

func (m *Methods) DNSDomainIs(host, domain string) bool {
	return strings.HasSuffix(host, domain)
}

func (m *Methods) LocalHostOrDomainIs(host, domain string) bool {
	return strings.HasPrefix(domain, host)
}

func (m *Methods) IsResolvable(host string) bool {
	_, err := m.Resolver.Resolve(host)
	return err == nil
}

// IsInNet resolves host and reports whether (host & mask) == pattern over
// 32-bit IPv4 values.
func (m *Methods) IsInNet(host, pattern, mask string) bool {
	resolved := m.DNSResolve(host)
	if resolved == "" {
		return false
	}
	h, ok1 := ipv4ToUint(resolved)
	p, ok2 := ipv4ToUint(pattern)
	k, ok3 := ipv4ToUint(mask)
	if !ok1 || !ok2 || !ok3 {
		return false
	}
	return h&k == p
}

func ipv4ToUint(s string) (uint32, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return 0, false
	}
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:]), true
}

func (m *Methods) DNSResolve(host string) string {
	addr, err := m.Resolver.Resolve(host)
	if err != nil {
		return ""
	}
	return addr.String()
}

func (m *Methods) MyIPAddress() string {
	return m.Resolver.LocalAddress(resolver.IPv4)
}

// DNSDomainLevels counts the dots in host, ignoring a leading one.
func (m *Methods) DNSDomainLevels(host string) int {
	if len(host) < 2 {
		return 0
	}
	return strings.Count(host[1:], ".")
}

// ShExpMatch matches str against a shell expression where '*' is the only
// wildcard.
func (m *Methods) ShExpMatch(str, shexp string) bool {
	fragments := strings.FieldsFunc(shexp, func(r rune) bool { return r == '*' })
	anchoredStart := !strings.HasPrefix(shexp, "*")
	anchoredEnd := !strings.HasSuffix(shexp, "*")

	pos := 0
	for i, frag := range fragments {
		idx := strings.Index(str[pos:], frag)
		if idx >= 0 {
			idx += pos
		}
		if i == 0 && anchoredStart && idx != 0 {
			return false
		}
		if i == len(fragments)-1 && anchoredEnd && !strings.HasSuffix(str, frag) {
			return false
		}
		if idx < 0 {
			return false
		}
		pos = idx + len(frag)
	}
	return true
}

// WeekdayRange reports whether today lies in [wd1, wd2]. The range wraps
// when wd2 precedes wd1. A missing wd2 means wd1 only.
func (m *Methods) WeekdayRange(wd1, wd2, tz string) bool {
	useGMT := strings.EqualFold(wd2, gmt) || strings.EqualFold(tz, gmt)
	today := int(m.current(useGMT).Weekday())

	from := indexOf(weekdays, wd1)
	to := indexOf(weekdays, wd2)
	if to == -1 {
		to = from
	}
	if to < from {
		return today >= from || today <= to
	}
	return today >= from && today <= to
}

// dateParams holds the positional arguments of dateRange once their
// meaning has been guessed. Zero means absent; months are stored 1-based.
type dateParams struct {
	day1, month1, year1 int
	day2, month2, year2 int
	gmt                 bool
}

func (p *dateParams) add(v any) {
	if n, ok := asInt(v); ok {
		switch {
		case n <= 31 && p.day1 == 0:
			p.day1 = n
		case n <= 31:
			p.day2 = n
		case p.year1 == 0:
			p.year1 = n
		default:
			p.year2 = n
		}
		return
	}
	s, ok := v.(string)
	if !ok {
		return
	}
	if mo := indexOf(months, s); mo >= 0 {
		if p.month1 == 0 {
			p.month1 = mo + 1
		} else {
			p.month2 = mo + 1
		}
		return
	}
	if strings.EqualFold(s, gmt) {
		p.gmt = true
	}
}

// DateRange takes up to seven positional arguments. Numbers up to 31 are
// days, larger numbers years, month abbreviations months and "GMT" selects
// UTC. The range starts at now with the first set of fields applied; the end
// applies the second set on top of the start. An end before the start is
// moved one month forward, then one year.
func (m *Methods) DateRange(args ...any) bool {
	var p dateParams
	for _, a := range args {
		p.add(a)
	}

	now := m.current(p.gmt)
	from := withDate(now, p.day1, p.month1, p.year1)
	to := withDate(from, p.day2, p.month2, p.year2)

	if to.Before(from) {
		to = addMonths(to, 1)
	}
	if to.Before(from) {
		to = addMonths(addMonths(to, 12), -1)
	}
	return !now.Before(from) && !now.After(to)
}

// withDate replaces the non-zero fields of t, normalising out-of-range
// values the way time.Date does.
func withDate(t time.Time, day, month, year int) time.Time {
	y, mo, d := t.Date()
	if day != 0 {
		d = day
	}
	if month != 0 {
		mo = time.Month(month)
	}
	if year != 0 {
		y = year
	}
	return time.Date(y, mo, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// addMonths steps n months, clamping the day to the target month's length.
func addMonths(t time.Time, n int) time.Time {
	y, mo, d := t.Date()
	first := time.Date(y, mo+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// TimeRange takes seven positional arguments and picks the form by which
// of them are numbers:
//
//	timeRange(h1, m1, s1, h2, m2, s2)   h1:m1:s1 .. h2:m2:s2
//	timeRange(h1, m1, h2, m2)           h1:m1:00 .. h2:m2:59
//	timeRange(h1, h2)                   h1:00:00 .. h2:59:59
//	timeRange(h)                        h:00:00 .. h:59:59
//
// A "gmt" in any of the trailing positions selects UTC. An end before the
// start is moved to the next day.
func (m *Methods) TimeRange(hour1, min1, sec1, hour2, min2, sec2, tz any) bool {
	useGMT := isGMT(min1) || isGMT(sec1) || isGMT(min2) || isGMT(tz)
	now := m.current(useGMT).Truncate(time.Second)

	at := func(h, mi, s int) time.Time {
		y, mo, d := now.Date()
		return time.Date(y, mo, d, h, mi, s, 0, now.Location())
	}

	h1, ok := asInt(hour1)
	if !ok {
		return false
	}
	var from, to time.Time
	if s2, ok := asInt(sec2); ok {
		nums, ok := ints(min1, sec1, hour2, min2)
		if !ok {
			return false
		}
		from = at(h1, nums[0], nums[1])
		to = at(nums[2], nums[3], s2)
	} else if h2, ok := asInt(hour2); ok {
		nums, ok := ints(min1, sec1)
		if !ok {
			return false
		}
		from = at(h1, nums[0], 0)
		to = at(nums[1], h2, 59)
	} else if m1, ok := asInt(min1); ok {
		from = at(h1, 0, 0)
		to = at(m1, 59, 59)
	} else {
		from = at(h1, 0, 0)
		to = at(h1, 59, 59)
	}

	if to.Before(from) {
		to = to.AddDate(0, 0, 1)
	}
	return !now.Before(from) && !now.After(to)
}

func (m *Methods) IsResolvableEx(host string) bool {
	return m.IsResolvable(host)
}

// IsInNetEx reports whether ipOrHost lies in an "address/bits" range, for
// IPv4 and IPv6 alike.
func (m *Methods) IsInNetEx(ipOrHost, cidr string) bool {
	if ipOrHost == "" || cidr == "" {
		return false
	}
	parts := strings.Split(cidr, "/")
	if len(parts) != 2 {
		return false
	}
	bits, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return false
	}
	addr, err := resolver.RawBytes(m.Resolver, ipOrHost)
	if err != nil {
		return false
	}
	rng, err := resolver.RawBytes(m.Resolver, parts[0])
	if err != nil || len(rng) != len(addr) {
		return false
	}
	width := len(addr) * 8
	if bits < 0 || bits > width {
		return false
	}

	all := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(width)), big.NewInt(1))
	mask := new(big.Int).Lsh(all, uint(width-bits))
	mask.And(mask, all)

	ip := new(big.Int).SetBytes(addr)
	low := new(big.Int).And(new(big.Int).SetBytes(rng), mask)
	high := new(big.Int).Add(low, new(big.Int).Xor(mask, all))
	return low.Cmp(ip) <= 0 && high.Cmp(ip) >= 0
}

// DNSResolveEx returns every address of host, each followed by "; ".
func (m *Methods) DNSResolveEx(host string) string {
	addrs, err := m.Resolver.ResolveAll(host)
	if err != nil {
		return ""
	}
	var sb strings.Builder
	for _, a := range addrs {
		sb.WriteString(a.String())
		sb.WriteString("; ")
	}
	return sb.String()
}

func (m *Methods) MyIPAddressEx() string {
	return m.Resolver.LocalAddress(resolver.IPv6)
}

// SortIPAddressList sorts a semicolon separated list, IPv6 before IPv4 and
// ascending within a family. Any unresolvable entry yields "".
func (m *Methods) SortIPAddressList(list string) string {
	if strings.TrimSpace(list) == "" {
		return ""
	}
	type entry struct {
		raw  []byte
		text string
	}
	var entries []entry
	for _, tok := range strings.Split(list, ";") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		raw, err := resolver.RawBytes(m.Resolver, tok)
		if err != nil {
			return ""
		}
		entries = append(entries, entry{raw: raw, text: tok})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].raw, entries[j].raw
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return bytes.Compare(a, b) < 0
	})

	out := make([]string, 0, len(entries))
	for i, e := range entries {
		if i > 0 && bytes.Equal(e.raw, entries[i-1].raw) {
			continue
		}
		out = append(out, e.text)
	}
	return strings.Join(out, ";")
}

func (m *Methods) GetClientVersion() string {
	return ClientVersion
}

func indexOf(list []string, s string) int {
	s = strings.ToUpper(s)
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func isGMT(v any) bool {
	s, ok := v.(string)
	return ok && strings.EqualFold(s, gmt)
}

// asInt accepts the numeric kinds a script value exports to.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func ints(vs ...any) ([]int, bool) {
	out := make([]int, len(vs))
	for i, v := range vs {
		n, ok := asInt(v)
		if !ok {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}
