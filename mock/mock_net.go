package mock

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/netip"
	"sync"

	"github.com/encodeous/dvpn/pconn"
)

// Transport is a fake record transport. Tests drive the session by calling Events directly
// from the test goroutine.
type Transport struct {
	Role      pconn.Role
	Conn      net.Conn
	Events    pconn.Events
	Records   [][]byte
	SendErr   error
	Destroyed bool
}

func (t *Transport) SendRecord(rec []byte) error {
	if t.Destroyed {
		return pconn.ErrClosed
	}
	if t.SendErr != nil {
		return t.SendErr
	}
	t.Records = append(t.Records, bytes.Clone(rec))
	return nil
}

func (t *Transport) Destroy() {
	t.Destroyed = true
}

// Secure records every transport started.
type Secure struct {
	Started []*Transport
}

func (s *Secure) Start(conn net.Conn, role pconn.Role, cert *tls.Certificate, ev pconn.Events) pconn.Transport {
	t := &Transport{Role: role, Conn: conn, Events: ev}
	s.Started = append(s.Started, t)
	return t
}

func (s *Secure) Last() *Transport {
	if len(s.Started) == 0 {
		return nil
	}
	return s.Started[len(s.Started)-1]
}

// Resolver answers lookups with fixed results. With Block set, lookups wait for cancellation.
type Resolver struct {
	mu    sync.Mutex
	Addrs []netip.AddrPort
	Err   error
	Block bool
	calls int
}

func (r *Resolver) Resolve(ctx context.Context, host string, port uint16) ([]netip.AddrPort, error) {
	r.mu.Lock()
	r.calls++
	addrs, err, block := r.Addrs, r.Err, r.Block
	r.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return addrs, err
}

func (r *Resolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

var ErrRefused = errors.New("connection refused")

// Dialer dials per-address scripted outcomes: addresses in Fail are refused, addresses in Hang
// block until cancelled, everything else succeeds with one end of a net.Pipe.
type Dialer struct {
	mu     sync.Mutex
	Fail   map[string]bool
	Hang   map[string]bool
	dialed []string
	// Remote holds the far ends of successful dials.
	Remote []net.Conn
}

func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, address)
	fail, hang := d.Fail[address], d.Hang[address]
	d.mu.Unlock()
	switch {
	case fail:
		return nil, ErrRefused
	case hang:
		<-ctx.Done()
		return nil, ctx.Err()
	}
	local, remote := net.Pipe()
	d.mu.Lock()
	d.Remote = append(d.Remote, remote)
	d.mu.Unlock()
	return local, nil
}

func (d *Dialer) Dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}

// Close closes the far ends of all dialed pipes.
func (d *Dialer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.Remote {
		_ = c.Close()
	}
}
