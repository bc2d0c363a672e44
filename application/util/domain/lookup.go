// Package domain resolves host names into IP addresses.
package domain

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/net/idna"
)

var ErrDomainNotFound = errors.New("domain not found")

type Lookuper interface {
	LookupIP(ctx context.Context, domain string) (addrs []netip.Addr, err error)
}

// literal returns the address if domain already is an IP literal.
func literal(domain string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSuffix(strings.TrimPrefix(domain, "["), "]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// Canonical converts an internationalized name into its lowercase ASCII form.
func Canonical(domain string) (string, error) {
	ascii, err := idna.Lookup.ToASCII(strings.TrimSuffix(domain, "."))
	if err != nil {
		return "", errors.Wrapf(err, "converting %q to ascii", domain)
	}
	return strings.ToLower(ascii), nil
}

type MapLookuper struct {
	set map[string][]netip.Addr
	mu  sync.RWMutex
}

var _ Lookuper = (*MapLookuper)(nil)

func NewMapLookuper(set map[string][]netip.Addr) *MapLookuper {
	m := &MapLookuper{set: make(map[string][]netip.Addr, len(set))}
	for domain, addrs := range set {
		m.Set(domain, addrs)
	}
	return m
}

func (m *MapLookuper) LookupIP(ctx context.Context, domain string) (addrs []netip.Addr, err error) {
	if addr, ok := literal(domain); ok {
		return []netip.Addr{addr}, nil
	}

	key, err := Canonical(domain)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	addrs, ok := m.set[key]
	if !ok {
		return nil, errors.Wrap(ErrDomainNotFound, domain)
	}
	return append([]netip.Addr(nil), addrs...), nil
}

func (m *MapLookuper) Set(domain string, addrs []netip.Addr) {
	if len(addrs) == 0 {
		return
	}
	key, err := Canonical(domain)
	if err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.set[key] = append([]netip.Addr(nil), addrs...)
}

func (m *MapLookuper) Del(domain string) {
	key, err := Canonical(domain)
	if err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.set, key)
}

// SystemLookuper resolves through the operating system resolver.
type SystemLookuper struct{ Resolver *net.Resolver }

var _ Lookuper = SystemLookuper{}

func (s SystemLookuper) LookupIP(ctx context.Context, domain string) ([]netip.Addr, error) {
	if addr, ok := literal(domain); ok {
		return []netip.Addr{addr}, nil
	}

	r := s.Resolver
	if r == nil {
		r = net.DefaultResolver
	}

	addrs, err := r.LookupNetIP(ctx, "ip", domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, errors.Wrap(ErrDomainNotFound, domain)
		}
		return nil, errors.Wrapf(err, "looking up %q", domain)
	}

	for idx := range addrs {
		addrs[idx] = addrs[idx].Unmap()
	}
	return addrs, nil
}
