// Package tun opens and configures the tunnel interfaces carrying peer traffic.
package tun

import (
	"errors"
	"net"
	"net/netip"
)

var ErrUnsupported = errors.New("tun: tunnel interfaces are not supported on this platform")

// Iface is a registered tunnel interface. All methods are called from the reactor.
type Iface interface {
	Name() string
	Send(pkt []byte) error
	SetUp(up bool) error
	SetMTU(mtu int) error
	AddAddress(p netip.Prefix) error
	AddRoute(p netip.Prefix) error
	Close() error
}

// Tunnels registers interfaces by name. onPacket is invoked on the reactor for every packet read.
type Tunnels interface {
	Register(name string, onPacket func(pkt []byte)) (Iface, error)
}

func ipNet(p netip.Prefix) *net.IPNet {
	return &net.IPNet{
		IP:   p.Addr().AsSlice(),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}
}
