package resolver

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/coocood/freecache"
	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/loolooyyyy/pac-vole/internal/shared/logger"
)

const (
	defaultDNSTimeout  = 5 * time.Second
	defaultDNSCacheKB  = 512
	negativeCacheSecs  = 30
	maxCachedRecordTTL = 3600
)

// DNS resolves names by querying one nameserver directly. Answers are kept
// in a freecache for the lifetime of their records.
type DNS struct {
	opts   Options
	server string
	client *dns.Client
	cache  *freecache.Cache
	log    zerolog.Logger
}

// NewDNS creates a resolver querying server ("host" or "host:port").
func NewDNS(server string, cacheSizeKB int, opts ...Option) (*DNS, error) {
	if server == "" {
		return nil, fmt.Errorf("resolver: empty nameserver")
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	if cacheSizeKB <= 0 {
		cacheSizeKB = defaultDNSCacheKB
	}
	return &DNS{
		opts:   buildOptions(opts),
		server: server,
		client: &dns.Client{Timeout: defaultDNSTimeout},
		cache:  freecache.NewCache(cacheSizeKB * 1024),
		log:    logger.WithComponent("resolver"),
	}, nil
}

func (d *DNS) Resolve(host string) (netip.Addr, error) {
	addrs, err := d.ResolveAll(host)
	if err != nil {
		return netip.Addr{}, err
	}
	return preferIPv4(host, addrs)
}

func (d *DNS) ResolveAll(host string) ([]netip.Addr, error) {
	if addr, ok := parseLiteral(host); ok {
		return []netip.Addr{addr}, nil
	}
	name := normaliseHost(host)
	if name == "" {
		return nil, fmt.Errorf("%w: empty host", ErrNotFound)
	}
	fqdn := dns.Fqdn(name)

	var out []netip.Addr
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := d.cached(fqdn, qtype)
		if msg == nil {
			msg = d.query(fqdn, qtype)
		}
		if msg != nil {
			out = append(out, answers(msg)...)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, host)
	}
	return out, nil
}

func (d *DNS) LocalAddress(family Family) string {
	return localAddress(d.opts, family)
}

func cacheKey(fqdn string, qtype uint16) []byte {
	return []byte(fqdn + dns.TypeToString[qtype])
}

func (d *DNS) cached(fqdn string, qtype uint16) *dns.Msg {
	v, err := d.cache.Get(cacheKey(fqdn, qtype))
	if err != nil || len(v) == 0 {
		return nil
	}
	msg := &dns.Msg{}
	if err := msg.Unpack(v); err != nil {
		return nil
	}
	return msg
}

func (d *DNS) query(fqdn string, qtype uint16) *dns.Msg {
	req := new(dns.Msg)
	req.SetQuestion(fqdn, qtype)
	req.RecursionDesired = true

	resp, _, err := d.client.Exchange(req, d.server)
	if err != nil {
		d.log.Debug().Err(err).Str("name", fqdn).Str("qtype", dns.TypeToString[qtype]).Msg("DNS query failed")
		return nil
	}
	if resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError {
		d.log.Debug().Str("name", fqdn).Str("rcode", dns.RcodeToString[resp.Rcode]).Msg("DNS query refused")
		return nil
	}
	d.store(fqdn, qtype, resp)
	return resp
}

func (d *DNS) store(fqdn string, qtype uint16, msg *dns.Msg) {
	v, err := msg.Pack()
	if err != nil {
		return
	}
	if err := d.cache.Set(cacheKey(fqdn, qtype), v, recordTTL(msg)); err != nil {
		d.log.Warn().Err(err).Str("name", fqdn).Msg("Failed to cache DNS answer")
	}
}

// recordTTL is the smallest TTL among the answers, capped. Empty answers
// are cached briefly.
func recordTTL(msg *dns.Msg) int {
	if len(msg.Answer) == 0 {
		return negativeCacheSecs
	}
	ttl := uint32(maxCachedRecordTTL)
	for _, rr := range msg.Answer {
		if h := rr.Header(); h.Ttl < ttl {
			ttl = h.Ttl
		}
	}
	if ttl == 0 {
		ttl = 1
	}
	return int(ttl)
}

func answers(msg *dns.Msg) []netip.Addr {
	var out []netip.Addr
	for _, rr := range msg.Answer {
		var ip net.IP
		switch v := rr.(type) {
		case *dns.A:
			ip = v.A
		case *dns.AAAA:
			ip = v.AAAA
		default:
			continue
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			out = append(out, addr.Unmap())
		}
	}
	return out
}
