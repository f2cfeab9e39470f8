package core

import (
	"errors"
	"net"

	"github.com/encodeous/dvpn/peer"
	"github.com/encodeous/dvpn/state"
	"github.com/encodeous/dvpn/sys"
	"github.com/encodeous/dvpn/tun"
)

// Sessions runs the configured connect and listen peer sessions.
type Sessions struct {
	Tunnels   tun.Tunnels
	resolver  *state.Resolver
	Connects  []*peer.Connect
	Listeners []*peer.Listener
}

func (m *Sessions) deps(s *state.State) peer.Deps {
	return peer.Deps{
		Reactor:  s.Env,
		Identity: s.Identity,
		Log:      s.Log,
		Tunnels:  m.Tunnels,
		Resolver: m.resolver,
		Dialer:   &net.Dialer{Timeout: state.ConnectTimeout},
	}
}

func (m *Sessions) Init(s *state.State) error {
	if m.Tunnels == nil {
		if err := sys.VerifyIPv6(); err != nil {
			return err
		}
		m.Tunnels = &tun.System{Reactor: s.Env, Log: s.Log}
	}
	m.resolver = state.NewResolver(s.DnsResolvers)
	d := m.deps(s)

	for _, cfg := range s.Connect {
		c, err := peer.NewConnect(cfg, d)
		if err != nil {
			return err
		}
		m.Connects = append(m.Connects, c)
	}
	for _, cfg := range s.Listen {
		l, err := peer.NewListener(cfg, d)
		if err != nil {
			return err
		}
		m.Listeners = append(m.Listeners, l)
		if err := l.Listen(); err != nil {
			return err
		}
		s.Log.Info("listening", "addr", l.Addr(), "peers", len(cfg.Peers))
	}
	return nil
}

func (m *Sessions) Cleanup(s *state.State) error {
	var err error
	for _, c := range m.Connects {
		err = errors.Join(err, c.Close())
	}
	for _, l := range m.Listeners {
		err = errors.Join(err, l.Close())
	}
	if m.resolver != nil {
		m.resolver.Close()
	}
	return err
}
