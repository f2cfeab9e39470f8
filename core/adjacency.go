package core

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/encodeous/dvpn/lsa"
	"github.com/encodeous/dvpn/peer"
	"github.com/encodeous/dvpn/perf"
	"github.com/encodeous/dvpn/rib"
	"github.com/encodeous/dvpn/state"
	"github.com/encodeous/dvpn/tun"
	"github.com/google/btree"
)

// Adjacency exchanges LSAs with every peer named by the local LSA. Each adjacency runs on the
// connect or listen session state machine, chosen by role, with a link in place of a tunnel
// interface: records from the peer are LSAs for its Adj-RIB-In, and every best LSA of the
// Local RIB is sent to the links that are up.
//
// An LSA without attributes on the wire withdraws the LSA of that node.
type Adjacency struct {
	local    lsa.NodeID
	d        peer.Deps
	log      *slog.Logger
	loc      *rib.LocRib
	peers    *Peers
	reg      *rib.Registration
	port     uint16
	resolver *state.Resolver
	listener *peer.Listener
	links    *btree.BTreeG[*link]
	pending  *link
	closed   bool
}

// link is the in-process tunnel interface of one adjacency.
type link struct {
	a        *Adjacency
	peer     *AdjPeer
	name     string
	onPacket func(pkt []byte)
	in       *rib.AdjRibIn
	inReg    *rib.Registration
	up       bool

	conn  *peer.Connect
	entry *peer.Entry
}

func (a *Adjacency) Init(s *state.State) error {
	a.resolver = state.NewResolver(s.DnsResolvers)
	d := peer.Deps{
		Reactor:  s.Env,
		Identity: s.Identity,
		Log:      s.Log,
		Resolver: a.resolver,
		Dialer:   &net.Dialer{Timeout: state.ConnectTimeout},
	}
	if err := a.attach(Get[*Routing](s), d, s.AdjListen); err != nil {
		return err
	}
	if err := a.listener.Listen(); err != nil {
		return err
	}
	s.Log.Info("accepting adjacencies", "addr", a.listener.Addr())
	return nil
}

// attach wires the module to the RIB and the peer table. listen is the address adjacency
// sessions are accepted on, its port is the one dialed on peers.
func (a *Adjacency) attach(r *Routing, d peer.Deps, listen netip.AddrPort) error {
	a.local = d.Identity.ID
	a.d = d
	a.d.Tunnels = a
	a.log = d.Log.With("module", "adjacency")
	a.loc = r.Loc
	a.peers = r.Peers
	a.port = listen.Port()
	a.links = btree.NewG(8, func(x, y *link) bool {
		return x.peer.ID.Compare(y.peer.ID) < 0
	})

	l, err := peer.NewListener(state.ListenCfg{Address: listen}, a.d)
	if err != nil {
		return err
	}
	a.listener = l
	a.reg = a.loc.RegisterListener(a)
	// adjacency changes arrive inside RIB dispatch, sessions are opened outside of it
	a.peers.OnAdd = func(p *AdjPeer) {
		a.d.Reactor.Post(func() { a.open(p) })
	}
	a.peers.OnRemove = func(p *AdjPeer) {
		a.close(p.ID)
	}
	return nil
}

func (a *Adjacency) Cleanup(s *state.State) error {
	if a.closed {
		return nil
	}
	a.closed = true
	var err error
	if a.listener != nil {
		a.peers.OnAdd, a.peers.OnRemove = nil, nil
		a.loc.UnregisterListener(a.reg)
		for a.links.Len() > 0 {
			k, _ := a.links.Min()
			err = errors.Join(err, a.close(k.peer.ID))
		}
		err = errors.Join(err, a.listener.Close())
	}
	if a.resolver != nil {
		a.resolver.Close()
	}
	return err
}

func linkName(id lsa.NodeID) string {
	return "lsa-" + id.Short()
}

func (a *Adjacency) open(p *AdjPeer) {
	if a.closed {
		return
	}
	if _, ok := a.links.Get(&link{peer: p}); ok {
		return
	}
	k := &link{a: a, peer: p, name: linkName(p.ID)}
	k.attach()
	a.pending = k
	defer func() { a.pending = nil }()

	fp := state.FingerprintOf(p.ID)
	var err error
	switch p.Role {
	case RoleConnect:
		k.conn, err = peer.NewConnect(state.ConnectCfg{
			Name:        p.ID.Short(),
			Host:        p.Addr.String(),
			Port:        a.port,
			Fingerprint: fp,
			Tun:         k.name,
		}, a.d)
	case RoleListen:
		k.entry, err = a.listener.AddEntry(state.ListenPeerCfg{
			Name:        p.ID.Short(),
			Fingerprint: fp,
			Tun:         k.name,
		})
	}
	if err != nil {
		k.detach()
		a.log.Error("opening adjacency", "peer", p.ID.Short(), "role", p.Role, "err", err)
		return
	}
	a.links.ReplaceOrInsert(k)
	a.log.Info("adjacency opened", "peer", p.ID.Short(), "role", p.Role)
}

func (a *Adjacency) close(id lsa.NodeID) error {
	k, ok := a.links.Delete(&link{peer: &AdjPeer{ID: id}})
	if !ok {
		return nil
	}
	var err error
	if k.conn != nil {
		err = k.conn.Close()
	}
	if k.entry != nil {
		err = a.listener.RemoveEntry(k.entry)
	}
	a.log.Info("adjacency closed", "peer", id.Short())
	return err
}

// Register hands the link being opened to its session.
func (a *Adjacency) Register(name string, onPacket func(pkt []byte)) (tun.Iface, error) {
	k := a.pending
	if k == nil || k.name != name {
		return nil, fmt.Errorf("no adjacency link %s", name)
	}
	k.onPacket = onPacket
	return k, nil
}

// Links visits the open adjacencies in peer id order.
func (a *Adjacency) Links(fn func(p *AdjPeer, up bool) bool) {
	a.links.Ascend(func(k *link) bool {
		return fn(k.peer, k.up)
	})
}

func (a *Adjacency) BestAdd(l *lsa.LSA) {
	a.each(func(k *link) { k.advertise(l) })
}

func (a *Adjacency) BestMod(_, new *lsa.LSA) {
	a.each(func(k *link) { k.advertise(new) })
}

func (a *Adjacency) BestDel(l *lsa.LSA) {
	a.each(func(k *link) { k.withdraw(l.ID) })
}

func (a *Adjacency) each(fn func(k *link)) {
	a.links.Ascend(func(k *link) bool {
		fn(k)
		return true
	})
}

func (k *link) attach() {
	k.in = rib.NewAdjRibIn(&k.a.local, k.peer.ID)
	k.inReg = k.in.RegisterListener(&rib.ToLoc{Dest: k.a.loc})
}

// detach retires the current Adj-RIB-In. Its LSAs leave the Local RIB from a posted task,
// since a link can go down while the Local RIB is dispatching.
func (k *link) detach() {
	in, reg := k.in, k.inReg
	k.a.d.Reactor.Post(func() {
		in.Flush()
		in.UnregisterListener(reg)
	})
}

// advertise sends the best LSA for a node. An LSA learned from this peer is withdrawn instead.
func (k *link) advertise(l *lsa.LSA) {
	if hops := lsa.PathHops(l); len(hops) > 0 && hops[0] == k.peer.ID {
		k.withdraw(l.ID)
		return
	}
	buf, err := lsa.Serialise(l, &k.a.local)
	if err != nil {
		k.a.log.Warn("not advertising LSA", "node", l.ID.Short(), "peer", k.peer.ID.Short(), "err", err)
		return
	}
	k.send(buf)
}

func (k *link) withdraw(id lsa.NodeID) {
	buf, err := lsa.Serialise(lsa.New(id), nil)
	if err != nil {
		panic(err)
	}
	k.send(buf)
}

func (k *link) send(buf []byte) {
	if !k.up || k.onPacket == nil {
		return
	}
	perf.LSAsTx.Add(1)
	k.onPacket(buf)
}

func (k *link) Name() string {
	return k.name
}

// Send receives an LSA from the peer.
func (k *link) Send(pkt []byte) error {
	l, err := lsa.Deserialise(pkt)
	if err != nil {
		k.a.log.Debug("dropping LSA", "peer", k.peer.ID.Short(), "err", err)
		return nil
	}
	perf.LSAsRx.Add(1)
	if l.Len() == 0 {
		k.in.Delete(l.ID)
		return nil
	}
	if err := k.in.Add(l); err != nil {
		k.a.log.Warn("rejecting LSA", "peer", k.peer.ID.Short(), "err", err)
	}
	return nil
}

// SetUp replays the Local RIB when the session comes up, and retires what the peer sent when
// it goes down.
func (k *link) SetUp(up bool) error {
	if up == k.up {
		return nil
	}
	k.up = up
	if !up {
		k.detach()
		k.attach()
		return nil
	}
	k.a.log.Info("adjacency up", "peer", k.peer.ID.Short())
	k.a.loc.Walk(func(l *lsa.LSA) bool {
		k.advertise(l)
		return k.up
	})
	return nil
}

func (k *link) SetMTU(int) error {
	return nil
}

func (k *link) AddAddress(netip.Prefix) error {
	return nil
}

func (k *link) AddRoute(netip.Prefix) error {
	return nil
}

func (k *link) Close() error {
	k.up = false
	k.detach()
	return nil
}
