package core

import (
	"io"
	"log/slog"
	"net/netip"
	"testing"

	"github.com/encodeous/dvpn/lsa"
	"github.com/encodeous/dvpn/mock"
	"github.com/encodeous/dvpn/rib"
	"github.com/encodeous/dvpn/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeID(b byte) lsa.NodeID {
	var id lsa.NodeID
	for i := range id {
		id[i] = b
	}
	return id
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// localLSA builds an LSA for id advertising the given peers.
func localLSA(t *testing.T, id lsa.NodeID, peers ...lsa.NodeID) *lsa.LSA {
	l := lsa.New(id)
	require.NoError(t, l.Set(lsa.AdvPath, nil, id[:]))
	for _, p := range peers {
		require.NoError(t, l.Set(lsa.Peer, p[:], nil))
	}
	return l
}

type peerHarness struct {
	r       *mock.Reactor
	loc     *rib.LocRib
	peers   *Peers
	added   []lsa.NodeID
	removed []lsa.NodeID
}

func newPeerHarness(local lsa.NodeID) *peerHarness {
	h := &peerHarness{r: mock.NewReactor(), loc: rib.NewLocRib()}
	h.peers = NewPeers(local, h.r, discard)
	h.peers.OnAdd = func(p *AdjPeer) { h.added = append(h.added, p.ID) }
	h.peers.OnRemove = func(p *AdjPeer) { h.removed = append(h.removed, p.ID) }
	h.loc.RegisterListener(h.peers)
	return h
}

func TestPeersRoles(t *testing.T) {
	local := nodeID(5)
	h := newPeerHarness(local)
	h.loc.Add(localLSA(t, local, nodeID(1), nodeID(9)))

	assert.Equal(t, []lsa.NodeID{nodeID(1), nodeID(9)}, h.added)
	require.Equal(t, 2, h.peers.Len())

	low := h.peers.Get(nodeID(1))
	require.NotNil(t, low)
	assert.Equal(t, RoleConnect, low.Role)
	assert.Equal(t, state.GlobalAddr(nodeID(1)), low.Addr)

	high := h.peers.Get(nodeID(9))
	require.NotNil(t, high)
	assert.Equal(t, RoleListen, high.Role)

	var order []lsa.NodeID
	h.peers.Walk(func(p *AdjPeer) bool {
		order = append(order, p.ID)
		return true
	})
	assert.Equal(t, []lsa.NodeID{nodeID(1), nodeID(9)}, order)
}

func TestPeersLookup(t *testing.T) {
	local := nodeID(5)
	h := newPeerHarness(local)
	h.loc.Add(localLSA(t, local, nodeID(7)))

	p := h.peers.Lookup(state.GlobalAddr(nodeID(7)))
	require.NotNil(t, p)
	assert.Equal(t, nodeID(7), p.ID)

	assert.Nil(t, h.peers.Lookup(state.GlobalAddr(nodeID(8))))
	assert.Nil(t, h.peers.Lookup(netip.MustParseAddr("192.0.2.1")))
}

func TestPeersIgnoresOtherNodes(t *testing.T) {
	h := newPeerHarness(nodeID(5))
	h.loc.Add(localLSA(t, nodeID(6), nodeID(7)))
	assert.Zero(t, h.peers.Len())
	assert.Empty(t, h.added)
}

func TestPeersRemoveIsDeferred(t *testing.T) {
	local := nodeID(5)
	h := newPeerHarness(local)
	first := localLSA(t, local, nodeID(1), nodeID(2))
	h.loc.Add(first)

	second := localLSA(t, local, nodeID(2))
	h.loc.Modify(first, second)

	// the table is updated inside the RIB event, the callback only later
	assert.Nil(t, h.peers.Get(nodeID(1)))
	assert.Nil(t, h.peers.Lookup(state.GlobalAddr(nodeID(1))))
	assert.Empty(t, h.removed)

	assert.Equal(t, 1, h.r.RunPending())
	assert.Equal(t, []lsa.NodeID{nodeID(1)}, h.removed)

	h.loc.Delete(second)
	assert.Zero(t, h.peers.Len())
	h.r.RunPending()
	assert.Equal(t, []lsa.NodeID{nodeID(1), nodeID(2)}, h.removed)
}

func TestPeersDataChangeKeepsAdjacency(t *testing.T) {
	local := nodeID(5)
	h := newPeerHarness(local)
	first := localLSA(t, local, nodeID(3))
	h.loc.Add(first)
	before := h.peers.Get(nodeID(3))

	second := first.Clone()
	peer := nodeID(3)
	require.NoError(t, second.Set(lsa.Peer, peer[:], []byte{0, 10, 1}))
	h.loc.Modify(first, second)

	assert.Same(t, before, h.peers.Get(nodeID(3)))
	assert.Len(t, h.added, 1)
	assert.Zero(t, h.r.RunPending())
}

func TestPeersIgnoresMalformedKey(t *testing.T) {
	local := nodeID(5)
	h := newPeerHarness(local)
	l := localLSA(t, local)
	require.NoError(t, l.Set(lsa.Peer, []byte{1, 2, 3}, nil))
	h.loc.Add(l)
	assert.Zero(t, h.peers.Len())
}
