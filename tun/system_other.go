//go:build !linux

package tun

import (
	"log/slog"

	"github.com/encodeous/dvpn/state"
)

type System struct {
	Reactor state.Reactor
	Log     *slog.Logger
}

func (s *System) Register(name string, onPacket func(pkt []byte)) (Iface, error) {
	return nil, ErrUnsupported
}
