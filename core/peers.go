package core

import (
	"log/slog"
	"net/netip"

	"github.com/encodeous/dvpn/lsa"
	"github.com/encodeous/dvpn/state"
	"github.com/gaissmai/bart"
	"github.com/google/btree"
)

type PeerRole uint8

const (
	// RoleListen waits for the peer to connect, used when the local id is the lower one.
	RoleListen PeerRole = iota
	RoleConnect
)

func (r PeerRole) String() string {
	if r == RoleListen {
		return "listen"
	}
	return "connect"
}

// AdjPeer is a node the local node advertises an adjacency with.
type AdjPeer struct {
	ID   lsa.NodeID
	Addr netip.Addr
	Role PeerRole
}

// Peers tracks the PEER attributes of the local node's best LSA.
type Peers struct {
	local  lsa.NodeID
	r      state.Reactor
	log    *slog.Logger
	byID   *btree.BTreeG[*AdjPeer]
	byAddr bart.Table[*AdjPeer]

	// OnAdd and OnRemove observe adjacency changes. OnRemove runs from a posted task, never
	// from inside RIB dispatch.
	OnAdd    func(p *AdjPeer)
	OnRemove func(p *AdjPeer)
}

func NewPeers(local lsa.NodeID, r state.Reactor, log *slog.Logger) *Peers {
	return &Peers{
		local: local,
		r:     r,
		log:   log,
		byID: btree.NewG(8, func(a, b *AdjPeer) bool {
			return a.ID.Compare(b.ID) < 0
		}),
	}
}

func (p *Peers) BestAdd(l *lsa.LSA) {
	p.update(nil, l)
}

func (p *Peers) BestMod(old, new *lsa.LSA) {
	p.update(old, new)
}

func (p *Peers) BestDel(l *lsa.LSA) {
	p.update(l, nil)
}

func (p *Peers) update(old, new *lsa.LSA) {
	ref := new
	if ref == nil {
		ref = old
	}
	if ref.ID != p.local {
		return
	}
	// a changed PEER payload does not change the adjacency
	lsa.Diff(old, new, p.attrAdd, func(_, _ *lsa.Attr) {}, p.attrDel)
}

func peerID(a *lsa.Attr) (lsa.NodeID, bool) {
	if a.Type != lsa.Peer || len(a.Key) != lsa.NodeIDLen {
		return lsa.NodeID{}, false
	}
	return lsa.NodeID(a.Key), true
}

func (p *Peers) attrAdd(a *lsa.Attr) {
	id, ok := peerID(a)
	if !ok {
		return
	}
	peer := &AdjPeer{ID: id, Addr: state.GlobalAddr(id), Role: RoleConnect}
	if p.local.Compare(id) < 0 {
		peer.Role = RoleListen
	}
	if _, found := p.byID.ReplaceOrInsert(peer); found {
		panic("core: duplicate peer " + id.String())
	}
	p.byAddr.Insert(state.GlobalPrefix(id), peer)
	p.log.Info("peer added", "peer", id.Short(), "addr", peer.Addr, "role", peer.Role)
	if p.OnAdd != nil {
		p.OnAdd(peer)
	}
}

func (p *Peers) attrDel(a *lsa.Attr) {
	id, ok := peerID(a)
	if !ok {
		return
	}
	peer, found := p.byID.Delete(&AdjPeer{ID: id})
	if !found {
		panic("core: removing unknown peer " + id.String())
	}
	p.byAddr.Delete(state.GlobalPrefix(id))
	p.r.Post(func() {
		p.log.Info("peer removed", "peer", id.Short())
		if p.OnRemove != nil {
			p.OnRemove(peer)
		}
	})
}

func (p *Peers) Get(id lsa.NodeID) *AdjPeer {
	peer, _ := p.byID.Get(&AdjPeer{ID: id})
	return peer
}

// Lookup finds the peer owning an overlay address.
func (p *Peers) Lookup(addr netip.Addr) *AdjPeer {
	peer, _ := p.byAddr.Lookup(addr)
	return peer
}

func (p *Peers) Len() int {
	return p.byID.Len()
}

// Walk visits peers in id order.
func (p *Peers) Walk(fn func(p *AdjPeer) bool) {
	p.byID.Ascend(fn)
}
