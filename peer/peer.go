// Package peer implements the outbound (connect) and inbound (listen) peer session state
// machines that carry tunnel packets over TLS records.
package peer

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/netip"

	"github.com/encodeous/dvpn/pconn"
	"github.com/encodeous/dvpn/state"
	"github.com/encodeous/dvpn/sys"
	"github.com/encodeous/dvpn/tun"
)

type Resolver interface {
	Resolve(ctx context.Context, host string, port uint16) ([]netip.AddrPort, error)
}

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SecureFunc starts the transport-security primitive on an established socket.
type SecureFunc func(conn net.Conn, role pconn.Role, cert *tls.Certificate, ev pconn.Events) pconn.Transport

// PConn starts real TLS sessions on r.
func PConn(r state.Reactor) SecureFunc {
	return func(conn net.Conn, role pconn.Role, cert *tls.Certificate, ev pconn.Events) pconn.Transport {
		return pconn.Start(r, conn, role, cert, ev)
	}
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Reactor  state.Reactor
	Identity *state.Identity
	Log      *slog.Logger
	Tunnels  tun.Tunnels
	Resolver Resolver
	Dialer   Dialer
	Secure   SecureFunc
	// MaxSeg reads the TCP maximum segment size of an accepted socket.
	MaxSeg func(conn net.Conn) (int, error)
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Dialer == nil {
		d.Dialer = &net.Dialer{}
	}
	if d.Secure == nil {
		d.Secure = PConn(d.Reactor)
	}
	if d.MaxSeg == nil {
		d.MaxSeg = sys.TCPMaxSeg
	}
	return d
}

// Phase is the externally visible state of a session.
type Phase uint8

const (
	Resolving Phase = iota
	Connecting
	Handshaking
	Connected
	WaitingRetry
	Closed
)

func (p Phase) String() string {
	switch p {
	case Resolving:
		return "Resolving"
	case Connecting:
		return "Connecting"
	case Handshaking:
		return "Handshaking"
	case Connected:
		return "Connected"
	case WaitingRetry:
		return "WaitingRetry"
	case Closed:
		return "Closed"
	}
	return "Unknown"
}

// ClampMTU derives the tunnel MTU from the TCP maximum segment size.
func ClampMTU(mss int) int {
	return min(max(mss-state.TunOverhead, state.MinTunMTU), state.MaxTunMTU)
}
