package state

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Resolver looks up peer hostnames, caching answers for DnsRefreshDelay.
type Resolver struct {
	r     *net.Resolver
	cache *ttlcache.Cache[string, []netip.Addr]
}

// NewResolver uses the system resolver, or the given host:port resolvers if any.
func NewResolver(resolvers []string) *Resolver {
	r := net.DefaultResolver
	if len(resolvers) != 0 {
		r = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				d := net.Dialer{Timeout: time.Second * 10}
				var lastErr error
				for _, r := range resolvers {
					conn, err := d.DialContext(ctx, network, r)
					if err == nil {
						return conn, nil
					}
					lastErr = err
				}
				return nil, lastErr
			},
		}
	}
	cache := ttlcache.New[string, []netip.Addr](
		ttlcache.WithTTL[string, []netip.Addr](DnsRefreshDelay),
		ttlcache.WithDisableTouchOnHit[string, []netip.Addr](),
	)
	go cache.Start()
	return &Resolver{r: r, cache: cache}
}

// Resolve returns every IPv4 and IPv6 address of host, paired with port.
func (r *Resolver) Resolve(ctx context.Context, host string, port uint16) ([]netip.AddrPort, error) {
	addrs, err := r.lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	out := make([]netip.AddrPort, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, netip.AddrPortFrom(a, port))
	}
	return out, nil
}

func (r *Resolver) lookup(ctx context.Context, host string) ([]netip.Addr, error) {
	if a, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{a}, nil
	}
	if item := r.cache.Get(host); item != nil {
		return item.Value(), nil
	}
	ips, err := r.r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	for i, ip := range ips {
		ips[i] = ip.Unmap()
	}
	r.cache.Set(host, ips, ttlcache.DefaultTTL)
	return ips, nil
}

func (r *Resolver) Close() {
	r.cache.Stop()
}
