package mock

import (
	"bytes"
	"fmt"
	"net/netip"

	"github.com/encodeous/dvpn/tun"
)

// Tunnels hands out in-memory interfaces.
type Tunnels struct {
	Ifaces map[string]*Iface
	// RegisterErr fails every Register call when set.
	RegisterErr error
}

func NewTunnels() *Tunnels {
	return &Tunnels{Ifaces: make(map[string]*Iface)}
}

func (t *Tunnels) Register(name string, onPacket func(pkt []byte)) (tun.Iface, error) {
	if t.RegisterErr != nil {
		return nil, t.RegisterErr
	}
	if i, ok := t.Ifaces[name]; ok && !i.Closed {
		return nil, fmt.Errorf("interface %s already registered", name)
	}
	i := &Iface{name: name, onPacket: onPacket}
	t.Ifaces[name] = i
	return i, nil
}

// Iface records every operation applied to it.
type Iface struct {
	name     string
	onPacket func(pkt []byte)

	Up      bool
	UpHist  []bool
	MTU     int
	Addrs   []netip.Prefix
	Routes  []netip.Prefix
	Sent    [][]byte
	SendErr error
	Closed  bool
}

func (i *Iface) Name() string {
	return i.name
}

// Inject delivers a packet as if it was read from the interface.
func (i *Iface) Inject(pkt []byte) {
	i.onPacket(pkt)
}

func (i *Iface) Send(pkt []byte) error {
	if i.SendErr != nil {
		return i.SendErr
	}
	i.Sent = append(i.Sent, bytes.Clone(pkt))
	return nil
}

func (i *Iface) SetUp(up bool) error {
	i.Up = up
	i.UpHist = append(i.UpHist, up)
	return nil
}

func (i *Iface) SetMTU(mtu int) error {
	i.MTU = mtu
	return nil
}

func (i *Iface) AddAddress(p netip.Prefix) error {
	i.Addrs = append(i.Addrs, p)
	return nil
}

func (i *Iface) AddRoute(p netip.Prefix) error {
	i.Routes = append(i.Routes, p)
	return nil
}

func (i *Iface) Close() error {
	i.Closed = true
	return nil
}
