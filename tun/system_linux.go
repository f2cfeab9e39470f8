package tun

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"

	"github.com/encodeous/dvpn/perf"
	"github.com/encodeous/dvpn/state"
	"github.com/songgao/water"
	"github.com/vishvananda/netlink"
)

// System opens kernel TUN devices and configures them over netlink.
type System struct {
	Reactor state.Reactor
	Log     *slog.Logger
}

type device struct {
	name   string
	ifce   *water.Interface
	log    *slog.Logger
	closed atomic.Bool
}

func (s *System) Register(name string, onPacket func(pkt []byte)) (Iface, error) {
	ifce, err := water.New(water.Config{
		DeviceType: water.TUN,
		PlatformSpecificParams: water.PlatformSpecificParams{
			Name: name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open tun %s: %w", name, err)
	}
	d := &device{name: ifce.Name(), ifce: ifce, log: s.Log.With("tun", name)}
	go d.read(s.Reactor, onPacket)
	return d, nil
}

func (d *device) read(r state.Reactor, onPacket func(pkt []byte)) {
	buf := make([]byte, 65535)
	for {
		n, err := d.ifce.Read(buf)
		if err != nil {
			if !d.closed.Load() {
				d.log.Error("tun read failed", "error", err)
			}
			return
		}
		pkt := bytes.Clone(buf[:n])
		r.Post(func() {
			if d.closed.Load() {
				perf.TunDrops.Add(1)
				return
			}
			onPacket(pkt)
		})
	}
}

func (d *device) Name() string {
	return d.name
}

func (d *device) Send(pkt []byte) error {
	_, err := d.ifce.Write(pkt)
	return err
}

func (d *device) link() (netlink.Link, error) {
	link, err := netlink.LinkByName(d.name)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", d.name, err)
	}
	return link, nil
}

func (d *device) SetUp(up bool) error {
	link, err := d.link()
	if err != nil {
		return err
	}
	if up {
		return netlink.LinkSetUp(link)
	}
	return netlink.LinkSetDown(link)
}

func (d *device) SetMTU(mtu int) error {
	link, err := d.link()
	if err != nil {
		return err
	}
	return netlink.LinkSetMTU(link, mtu)
}

func (d *device) AddAddress(p netip.Prefix) error {
	link, err := d.link()
	if err != nil {
		return err
	}
	return netlink.AddrReplace(link, &netlink.Addr{IPNet: ipNet(p)})
}

func (d *device) AddRoute(p netip.Prefix) error {
	link, err := d.link()
	if err != nil {
		return err
	}
	return netlink.RouteReplace(&netlink.Route{
		LinkIndex: link.Attrs().Index,
		Dst:       ipNet(p.Masked()),
	})
}

func (d *device) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.ifce.Close()
}
