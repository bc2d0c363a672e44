package domain

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

type DNSOptions struct {
	// Servers are queried in order until one answers. "host:port".
	Servers []string
	// Network is "udp" or "tcp".
	Network string
	Timeout time.Duration
	// MinTTL raises short-lived answers. Zero keeps the record TTL.
	MinTTL time.Duration
	// DisableIPv6 skips AAAA queries.
	DisableIPv6 bool
}

var DefaultDNSOptions = DNSOptions{
	Servers: []string{"127.0.0.1:53"},
	Network: "udp",
	Timeout: 5 * time.Second,
}

type cacheEntry struct {
	addrs   []netip.Addr
	expires time.Time
}

// DNSLookuper queries name servers directly and caches answers for their TTL.
// Concurrent lookups of one name share a single query.
type DNSLookuper struct {
	client *dns.Client
	opts   DNSOptions

	group singleflight.Group
	cache map[string]cacheEntry
	mu    sync.Mutex

	clock  clock.Clock
	logger *slog.Logger
}

var _ Lookuper = (*DNSLookuper)(nil)

func NewDNSLookuper(opts DNSOptions, clock clock.Clock, logger *slog.Logger) (*DNSLookuper, error) {
	if len(opts.Servers) == 0 {
		return nil, errors.New("at least one dns server is required")
	}
	if opts.Network == "" {
		opts.Network = "udp"
	}

	return &DNSLookuper{
		client: &dns.Client{Net: opts.Network, Timeout: opts.Timeout},
		opts:   opts,
		cache:  make(map[string]cacheEntry),
		clock:  clock,
		logger: logger,
	}, nil
}

func (d *DNSLookuper) LookupIP(ctx context.Context, domain string) ([]netip.Addr, error) {
	if addr, ok := literal(domain); ok {
		return []netip.Addr{addr}, nil
	}

	name, err := Canonical(domain)
	if err != nil {
		return nil, err
	}

	if addrs, ok := d.cached(name); ok {
		return addrs, nil
	}

	ch := d.group.DoChan(name, func() (any, error) {
		// Detached from the first caller, others may still be waiting.
		return d.resolve(context.WithoutCancel(ctx), name)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		addrs := res.Val.([]netip.Addr)
		return append([]netip.Addr(nil), addrs...), nil
	}
}

// Flush drops every cached answer.
func (d *DNSLookuper) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.cache)
}

func (d *DNSLookuper) cached(name string) ([]netip.Addr, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.cache[name]
	if !ok {
		return nil, false
	}
	if !d.clock.Now().Before(entry.expires) {
		delete(d.cache, name)
		return nil, false
	}
	return append([]netip.Addr(nil), entry.addrs...), true
}

func (d *DNSLookuper) resolve(ctx context.Context, name string) ([]netip.Addr, error) {
	qtypes := []uint16{dns.TypeA}
	if !d.opts.DisableIPv6 {
		qtypes = append(qtypes, dns.TypeAAAA)
	}

	var (
		addrs   []netip.Addr
		ttl     = time.Duration(-1)
		lastErr error
	)
	for _, qtype := range qtypes {
		got, gotTTL, err := d.query(ctx, name, qtype)
		if err != nil {
			lastErr = err
			continue
		}
		addrs = append(addrs, got...)
		if len(got) > 0 && (ttl < 0 || gotTTL < ttl) {
			ttl = gotTTL
		}
	}

	if len(addrs) == 0 {
		if lastErr != nil && !errors.Is(lastErr, ErrDomainNotFound) {
			return nil, lastErr
		}
		return nil, errors.Wrap(ErrDomainNotFound, name)
	}

	ttl = max(ttl, d.opts.MinTTL)
	d.logger.Debug("resolved", "domain", name, "addrs", addrs, "ttl", ttl)

	d.mu.Lock()
	d.cache[name] = cacheEntry{addrs: addrs, expires: d.clock.Now().Add(ttl)}
	d.mu.Unlock()

	return addrs, nil
}

func (d *DNSLookuper) query(ctx context.Context, name string, qtype uint16) ([]netip.Addr, time.Duration, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range d.opts.Servers {
		r, _, err := d.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = errors.Wrapf(err, "querying %s", server)
			d.logger.Debug("dns query failed", "server", server, "domain", name, "error", err)
			continue
		}

		switch r.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			return nil, 0, errors.Wrap(ErrDomainNotFound, name)
		default:
			lastErr = errors.Errorf("%s answered %s", server, dns.RcodeToString[r.Rcode])
			continue
		}

		var (
			addrs []netip.Addr
			ttl   uint32
		)
		for _, answer := range r.Answer {
			var ip []byte
			switch rr := answer.(type) {
			case *dns.A:
				ip = rr.A
			case *dns.AAAA:
				ip = rr.AAAA
			default:
				continue
			}

			addr, ok := netip.AddrFromSlice(ip)
			if !ok {
				continue
			}
			if len(addrs) == 0 || answer.Header().Ttl < ttl {
				ttl = answer.Header().Ttl
			}
			addrs = append(addrs, addr.Unmap())
		}

		return addrs, time.Duration(ttl) * time.Second, nil
	}

	return nil, 0, lastErr
}
