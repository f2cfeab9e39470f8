package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/encodeous/dvpn/lsa"
	"github.com/encodeous/dvpn/pconn"
	"github.com/encodeous/dvpn/perf"
	"github.com/encodeous/dvpn/state"
	"github.com/encodeous/dvpn/tun"
)

var (
	ErrResolveTimeout   = errors.New("resolve timed out")
	ErrNoAddresses      = errors.New("no addresses to connect to")
	ErrHandshakeTimeout = errors.New("handshake timed out")
	ErrRxTimeout        = errors.New("receive timed out")
)

// connectState is one of resolving, connecting, handshaking, connected, waitingRetry or closed.
// Async completions capture the state they were started from and are ignored once it changed.
type connectState interface {
	phase() Phase
}

type resolving struct {
	cancel context.CancelFunc
}

type connecting struct {
	addrs  []netip.AddrPort
	idx    int
	cancel context.CancelFunc
}

type handshaking struct {
	conn net.Conn
	tr   pconn.Transport
}

type connected struct {
	conn      net.Conn
	tr        pconn.Transport
	keepalive state.Timer
}

type waitingRetry struct{}

type closed struct{}

func (*resolving) phase() Phase    { return Resolving }
func (*connecting) phase() Phase   { return Connecting }
func (*handshaking) phase() Phase  { return Handshaking }
func (*connected) phase() Phase    { return Connected }
func (*waitingRetry) phase() Phase { return WaitingRetry }
func (*closed) phase() Phase       { return Closed }

// Connect is an outbound peer session. It keeps reconnecting until Close is called.
type Connect struct {
	cfg   state.ConnectCfg
	d     Deps
	log   *slog.Logger
	iface tun.Iface

	st    connectState
	timer state.Timer
	up    bool
}

// NewConnect registers the session's tunnel interface and starts resolving. Must be called on
// the reactor.
func NewConnect(cfg state.ConnectCfg, d Deps) (*Connect, error) {
	d = d.withDefaults()
	c := &Connect{
		cfg: cfg,
		d:   d,
		log: d.Log.With("peer", cfg.Name, "role", "connect"),
		st:  &waitingRetry{},
	}
	iface, err := d.Tunnels.Register(cfg.Tun, c.onPacket)
	if err != nil {
		return nil, fmt.Errorf("registering tunnel %s: %w", cfg.Tun, err)
	}
	c.iface = iface
	c.resolve()
	return c, nil
}

func (c *Connect) Name() string {
	return c.cfg.Name
}

func (c *Connect) Phase() Phase {
	return c.st.phase()
}

func (c *Connect) Iface() tun.Iface {
	return c.iface
}

func (c *Connect) arm(d state.Timer) {
	c.stopTimer()
	c.timer = d
}

func (c *Connect) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Connect) resolve() {
	ctx, cancel := context.WithCancel(context.Background())
	st := &resolving{cancel: cancel}
	c.st = st
	c.arm(c.d.Reactor.AfterFunc(state.ResolveTimeout, func() {
		if c.st == st {
			c.teardown(ErrResolveTimeout)
		}
	}))
	c.log.Debug("resolving", "host", c.cfg.Host, "port", c.cfg.Port)

	go func() {
		addrs, err := c.d.Resolver.Resolve(ctx, c.cfg.Host, c.cfg.Port)
		c.d.Reactor.Post(func() {
			if c.st != st {
				return
			}
			cancel()
			if err != nil {
				c.teardown(fmt.Errorf("resolving %s: %w", c.cfg.Host, err))
				return
			}
			if len(addrs) == 0 {
				c.teardown(ErrNoAddresses)
				return
			}
			c.connect(addrs, 0)
		})
	}()
}

// connect attempts addrs[idx], moving on to the next address on failure or timeout.
func (c *Connect) connect(addrs []netip.AddrPort, idx int) {
	if idx >= len(addrs) {
		c.teardown(ErrNoAddresses)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	st := &connecting{addrs: addrs, idx: idx, cancel: cancel}
	c.st = st
	addr := addrs[idx]
	c.arm(c.d.Reactor.AfterFunc(state.ConnectTimeout, func() {
		if c.st != st {
			return
		}
		cancel()
		c.log.Debug("connect timed out", "addr", addr)
		c.connect(addrs, idx+1)
	}))
	c.log.Debug("connecting", "addr", addr)

	go func() {
		conn, err := c.d.Dialer.DialContext(ctx, "tcp", addr.String())
		c.d.Reactor.Post(func() {
			if c.st != st {
				if conn != nil {
					_ = conn.Close()
				}
				return
			}
			cancel()
			if err != nil {
				c.log.Debug("connect failed", "addr", addr, "err", err)
				c.connect(addrs, idx+1)
				return
			}
			c.handshake(conn)
		})
	}()
}

func (c *Connect) handshake(conn net.Conn) {
	st := &handshaking{conn: conn}
	c.st = st
	c.arm(c.d.Reactor.AfterFunc(state.ConnectHandshakeTimeout, func() {
		if c.st == st {
			c.teardown(ErrHandshakeTimeout)
		}
	}))

	var tr pconn.Transport
	tr = c.d.Secure(conn, pconn.Client, &c.d.Identity.Cert, pconn.Events{
		Verify: func(id lsa.NodeID) bool {
			ok := c.cfg.Fingerprint.Matches(id)
			if !ok {
				c.log.Warn("rejecting peer key", "id", id.Short())
			}
			return ok
		},
		HandshakeDone: func() {
			if c.st == st {
				c.handshakeDone(conn, tr)
			}
		},
		Record: func(rec []byte) {
			if cur, ok := c.st.(*connected); ok && cur.tr == tr {
				c.recordReceived(rec)
			}
		},
		ConnectionLost: func(err error) {
			if c.transport() == tr {
				c.teardown(fmt.Errorf("connection lost: %w", err))
			}
		},
	})
	st.tr = tr
}

func (c *Connect) transport() pconn.Transport {
	switch st := c.st.(type) {
	case *handshaking:
		return st.tr
	case *connected:
		return st.tr
	}
	return nil
}

func (c *Connect) handshakeDone(conn net.Conn, tr pconn.Transport) {
	st := &connected{conn: conn, tr: tr}
	c.st = st
	c.arm(c.d.Reactor.AfterFunc(state.RxTimeout, c.rxTimeout(st)))
	c.armKeepalive(st)

	if err := c.iface.AddAddress(state.LinkLocalConnect(c.d.Identity.ID)); err != nil {
		c.log.Warn("adding link-local address", "iface", c.iface.Name(), "err", err)
	}
	if err := c.iface.SetUp(true); err != nil {
		c.log.Warn("setting interface up", "iface", c.iface.Name(), "err", err)
	}
	c.up = true
	perf.SessionsUp.Add(1)
	c.log.Info("session established", "remote", conn.RemoteAddr())
}

func (c *Connect) rxTimeout(st *connected) func() {
	return func() {
		if c.st == st {
			c.teardown(ErrRxTimeout)
		}
	}
}

func (c *Connect) armKeepalive(st *connected) {
	if st.keepalive != nil {
		st.keepalive.Stop()
	}
	st.keepalive = c.d.Reactor.AfterFunc(state.KeepaliveInterval, func() {
		if c.st != st {
			return
		}
		st.keepalive = nil
		if err := st.tr.SendRecord(connectKeepalive); err != nil {
			c.teardown(fmt.Errorf("sending keepalive: %w", err))
			return
		}
		c.armKeepalive(st)
	})
}

func (c *Connect) recordReceived(rec []byte) {
	st := c.st.(*connected)
	c.arm(c.d.Reactor.AfterFunc(state.RxTimeout, c.rxTimeout(st)))
	perf.RecordsRx.Add(1)

	pkt, ok := decodeConnectFrame(rec)
	if !ok {
		if len(rec) > 2 {
			perf.BadFrames.Add(1)
			c.log.Debug("dropping malformed frame", "len", len(rec))
		}
		return
	}
	if err := c.iface.Send(pkt); err != nil {
		c.teardown(fmt.Errorf("writing to %s: %w", c.iface.Name(), err))
	}
}

func (c *Connect) onPacket(pkt []byte) {
	st, ok := c.st.(*connected)
	if !ok {
		return
	}
	if len(pkt)+2 > state.MaxRecordSize {
		perf.TunDrops.Add(1)
		return
	}
	if err := st.tr.SendRecord(encodeConnectFrame(pkt)); err != nil {
		c.teardown(fmt.Errorf("sending packet: %w", err))
		return
	}
	perf.RecordsTx.Add(1)
	c.armKeepalive(st)
}

// release cancels whatever the current state has in flight and stops all timers.
func (c *Connect) release() {
	c.stopTimer()
	switch st := c.st.(type) {
	case *resolving:
		st.cancel()
	case *connecting:
		st.cancel()
	case *handshaking:
		if st.tr != nil {
			st.tr.Destroy()
		}
		_ = st.conn.Close()
	case *connected:
		if st.keepalive != nil {
			st.keepalive.Stop()
			st.keepalive = nil
		}
		st.tr.Destroy()
		_ = st.conn.Close()
		perf.SessionsDown.Add(1)
	}
	if c.up {
		if err := c.iface.SetUp(false); err != nil {
			c.log.Warn("setting interface down", "iface", c.iface.Name(), "err", err)
		}
		c.up = false
	}
}

func (c *Connect) teardown(reason error) {
	c.log.Info("session failed, retrying", "phase", c.st.phase(), "err", reason, "in", state.RetryWaitTime)
	c.release()
	st := &waitingRetry{}
	c.st = st
	c.arm(c.d.Reactor.AfterFunc(state.RetryWaitTime, func() {
		if c.st == st {
			c.timer = nil
			c.resolve()
		}
	}))
}

// Close stops the session from any state and closes its tunnel interface.
func (c *Connect) Close() error {
	if _, ok := c.st.(*closed); ok {
		return nil
	}
	c.release()
	c.st = &closed{}
	return c.iface.Close()
}
