package state

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLiteral(t *testing.T) {
	r := NewResolver(nil)
	defer r.Close()

	addrs, err := r.Resolve(context.Background(), "2001:db8::1", 19275)
	require.NoError(t, err)
	assert.Equal(t, []netip.AddrPort{netip.MustParseAddrPort("[2001:db8::1]:19275")}, addrs)
}

func TestResolveCached(t *testing.T) {
	r := NewResolver(nil)
	defer r.Close()

	cached := []netip.Addr{netip.MustParseAddr("192.0.2.1"), netip.MustParseAddr("2001:db8::2")}
	r.cache.Set("peer.invalid", cached, 0)

	addrs, err := r.Resolve(context.Background(), "peer.invalid", 1)
	require.NoError(t, err)
	assert.Equal(t, []netip.AddrPort{
		netip.MustParseAddrPort("192.0.2.1:1"),
		netip.MustParseAddrPort("[2001:db8::2]:1"),
	}, addrs)
}

func TestResolveCancelled(t *testing.T) {
	r := NewResolver(nil)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Resolve(ctx, "peer.invalid", 1)
	assert.Error(t, err)
}
