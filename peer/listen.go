package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/encodeous/dvpn/lsa"
	"github.com/encodeous/dvpn/pconn"
	"github.com/encodeous/dvpn/perf"
	"github.com/encodeous/dvpn/state"
	"github.com/encodeous/dvpn/tun"
)

var errReplaced = errors.New("replaced by a newer session")

// Listener accepts inbound sessions on one socket for a fixed set of allow-listed peers.
type Listener struct {
	cfg      state.ListenCfg
	d        Deps
	log      *slog.Logger
	ln       net.Listener
	entries  []*Entry
	sessions map[*session]struct{}
	closed   bool
}

// Entry is an allow-listed peer bound to a tunnel interface. At most one of its sessions is
// current at a time.
type Entry struct {
	cfg     state.ListenPeerCfg
	l       *Listener
	iface   tun.Iface
	current *session
}

type session struct {
	l         *Listener
	log       *slog.Logger
	conn      net.Conn
	tr        pconn.Transport
	matched   *Entry
	entry     *Entry
	timer     state.Timer
	keepalive state.Timer
	connected bool
	dead      bool
}

// NewListener registers a tunnel interface for every configured peer. Call Listen or Serve to
// start accepting. Must be called on the reactor.
func NewListener(cfg state.ListenCfg, d Deps) (*Listener, error) {
	d = d.withDefaults()
	l := &Listener{
		cfg:      cfg,
		d:        d,
		log:      d.Log.With("listen", cfg.Address.String()),
		sessions: make(map[*session]struct{}),
	}
	for _, pc := range cfg.Peers {
		if _, err := l.AddEntry(pc); err != nil {
			l.Close()
			return nil, err
		}
	}
	return l, nil
}

// Listen opens the configured address and starts accepting.
func (l *Listener) Listen() error {
	ln, err := net.Listen("tcp", l.cfg.Address.String())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", l.cfg.Address, err)
	}
	l.Serve(ln)
	return nil
}

// Serve accepts connections from ln in the background. ln is closed by Close.
func (l *Listener) Serve(ln net.Listener) {
	l.ln = ln
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					l.d.Reactor.Post(func() {
						l.log.Error("accept failed", "err", err)
					})
				}
				return
			}
			l.d.Reactor.Post(func() {
				l.HandleConn(conn)
			})
		}
	}()
}

func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *Listener) Entries() []*Entry {
	return l.entries
}

// Entry looks up an allow-listed peer by name.
func (l *Listener) Entry(name string) *Entry {
	for _, e := range l.entries {
		if e.cfg.Name == name {
			return e
		}
	}
	return nil
}

func (l *Listener) AddEntry(pc state.ListenPeerCfg) (*Entry, error) {
	e := &Entry{cfg: pc, l: l}
	iface, err := l.d.Tunnels.Register(pc.Tun, e.onPacket)
	if err != nil {
		return nil, fmt.Errorf("registering tunnel %s: %w", pc.Tun, err)
	}
	e.iface = iface
	l.entries = append(l.entries, e)
	return e, nil
}

// RemoveEntry kills the entry's sessions and closes its interface.
func (l *Listener) RemoveEntry(e *Entry) error {
	for i, x := range l.entries {
		if x == e {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			break
		}
	}
	for s := range l.sessions {
		if s.entry == e || s.matched == e {
			s.kill(errors.New("peer removed"))
		}
	}
	return e.iface.Close()
}

// HandleConn starts a server-side session on an accepted connection.
func (l *Listener) HandleConn(conn net.Conn) {
	if l.closed {
		_ = conn.Close()
		return
	}
	s := &session{
		l:    l,
		log:  l.log.With("remote", conn.RemoteAddr()),
		conn: conn,
	}
	l.sessions[s] = struct{}{}
	s.timer = l.d.Reactor.AfterFunc(state.ListenHandshakeTimeout, func() {
		s.timer = nil
		s.kill(ErrHandshakeTimeout)
	})
	s.tr = l.d.Secure(conn, pconn.Server, &l.d.Identity.Cert, pconn.Events{
		Verify:         s.verify,
		HandshakeDone:  s.handshakeDone,
		Record:         s.recordReceived,
		ConnectionLost: s.connectionLost,
	})
	s.log.Debug("accepted connection")
}

// Sessions is the number of live sessions, including ones still handshaking.
func (l *Listener) Sessions() int {
	return len(l.sessions)
}

// Close stops accepting, kills every session and closes every interface.
func (l *Listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	var err error
	if l.ln != nil {
		err = l.ln.Close()
	}
	for s := range l.sessions {
		s.kill(errors.New("listener closed"))
	}
	for _, e := range l.entries {
		err = errors.Join(err, e.iface.Close())
	}
	return err
}

func (e *Entry) Name() string {
	return e.cfg.Name
}

func (e *Entry) Iface() tun.Iface {
	return e.iface
}

// Connected reports whether the entry has an established session.
func (e *Entry) Connected() bool {
	return e.current != nil && e.current.connected
}

func (e *Entry) onPacket(pkt []byte) {
	s := e.current
	if s == nil || !s.connected {
		return
	}
	if len(pkt)+3 > state.MaxRecordSize {
		perf.TunDrops.Add(1)
		return
	}
	if err := s.tr.SendRecord(encodeListenFrame(pkt)); err != nil {
		s.kill(fmt.Errorf("sending packet: %w", err))
		return
	}
	perf.RecordsTx.Add(1)
	s.armKeepalive()
}

func (s *session) verify(id lsa.NodeID) bool {
	if s.dead {
		return false
	}
	for _, e := range s.l.entries {
		if e.cfg.Fingerprint.Matches(id) {
			s.log.Debug("peer key matches", "id", id.Short(), "peer", e.cfg.Name)
			s.matched = e
			return true
		}
	}
	s.log.Warn("peer key matches no configured peer", "id", id.Short())
	return false
}

func (s *session) handshakeDone() {
	if s.dead {
		return
	}
	e := s.matched
	if e == nil {
		s.kill(pconn.ErrRejected)
		return
	}
	if prev := e.current; prev != nil {
		s.log.Info("disconnecting previous session", "peer", e.cfg.Name)
		prev.kill(errReplaced)
	}
	e.current = s
	s.entry = e
	s.log = s.log.With("peer", e.cfg.Name)

	mss, err := s.l.d.MaxSeg(s.conn)
	if err != nil {
		s.log.Warn("reading TCP_MAXSEG", "err", err)
		mss = 0
	}
	if err := e.iface.SetMTU(ClampMTU(mss)); err != nil {
		s.log.Warn("setting mtu", "iface", e.iface.Name(), "err", err)
	}

	s.connected = true
	s.armRx()
	s.armKeepalive()

	my := s.l.d.Identity.ID
	if err := e.iface.SetUp(true); err != nil {
		s.log.Warn("setting interface up", "iface", e.iface.Name(), "err", err)
	}
	for _, p := range [...]func() error{
		func() error { return e.iface.AddAddress(state.LinkLocal(my)) },
		func() error { return e.iface.AddAddress(state.GlobalPrefix(my)) },
		func() error { return e.iface.AddRoute(state.PeerGlobalPrefix(e.cfg.Fingerprint)) },
	} {
		if err := p(); err != nil {
			s.log.Warn("configuring interface", "iface", e.iface.Name(), "err", err)
		}
	}
	perf.SessionsUp.Add(1)
	s.log.Info("session established")
}

func (s *session) armRx() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.l.d.Reactor.AfterFunc(state.RxTimeout, func() {
		s.timer = nil
		s.kill(ErrRxTimeout)
	})
}

func (s *session) armKeepalive() {
	if s.keepalive != nil {
		s.keepalive.Stop()
	}
	s.keepalive = s.l.d.Reactor.AfterFunc(state.KeepaliveInterval, func() {
		s.keepalive = nil
		if err := s.tr.SendRecord(listenKeepalive); err != nil {
			s.kill(fmt.Errorf("sending keepalive: %w", err))
			return
		}
		s.armKeepalive()
	})
}

func (s *session) recordReceived(rec []byte) {
	if s.dead || !s.connected {
		return
	}
	s.armRx()
	perf.RecordsRx.Add(1)

	pkt, ok := decodeListenFrame(rec)
	if !ok {
		if len(rec) > 3 {
			perf.BadFrames.Add(1)
			s.log.Debug("dropping malformed frame", "len", len(rec))
		}
		return
	}
	if err := s.entry.iface.Send(pkt); err != nil {
		s.kill(fmt.Errorf("writing to %s: %w", s.entry.iface.Name(), err))
	}
}

func (s *session) connectionLost(err error) {
	s.kill(fmt.Errorf("connection lost: %w", err))
}

// kill releases the session. If it was its entry's current session, the interface goes down.
func (s *session) kill(reason error) {
	if s.dead {
		return
	}
	s.dead = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.keepalive != nil {
		s.keepalive.Stop()
		s.keepalive = nil
	}
	s.tr.Destroy()
	_ = s.conn.Close()
	delete(s.l.sessions, s)

	if e := s.entry; e != nil && e.current == s {
		if err := e.iface.SetUp(false); err != nil {
			s.log.Warn("setting interface down", "iface", e.iface.Name(), "err", err)
		}
		e.current = nil
	}
	if s.connected {
		perf.SessionsDown.Add(1)
		s.log.Info("session closed", "err", reason)
	} else {
		s.log.Debug("session closed", "err", reason)
	}
}
