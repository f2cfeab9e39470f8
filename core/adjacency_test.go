package core

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/encodeous/dvpn/lsa"
	"github.com/encodeous/dvpn/mock"
	"github.com/encodeous/dvpn/peer"
	"github.com/encodeous/dvpn/rib"
	"github.com/encodeous/dvpn/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adjWait = 5 * time.Second

type adjNode struct {
	id  *state.Identity
	rt  *Routing
	adj *Adjacency
}

func newAdjNode(t *testing.T, r *mock.Reactor, id *state.Identity, dial *mock.Dialer) *adjNode {
	t.Helper()
	res := state.NewResolver(nil)
	t.Cleanup(res.Close)

	rt := &Routing{Loc: rib.NewLocRib(), Peers: NewPeers(id.ID, r, discard)}
	rt.Loc.RegisterListener(rt.Peers)
	a := &Adjacency{}
	require.NoError(t, a.attach(rt, peer.Deps{
		Reactor:  r,
		Identity: id,
		Log:      discard,
		Resolver: res,
		Dialer:   dial,
		MaxSeg:   func(net.Conn) (int, error) { return 1400, nil },
	}, netip.MustParseAddrPort("127.0.0.1:19276")))
	t.Cleanup(func() { _ = a.Cleanup(nil) })
	return &adjNode{id: id, rt: rt, adj: a}
}

// originLSA is a locally originated LSA: empty path, a name and PEER attributes.
func originLSA(t *testing.T, id lsa.NodeID, name string, peers ...lsa.NodeID) *lsa.LSA {
	t.Helper()
	l := lsa.New(id)
	require.NoError(t, l.Set(lsa.AdvPath, nil, nil))
	require.NoError(t, l.Set(lsa.NodeName, nil, []byte(name)))
	for _, p := range peers {
		require.NoError(t, l.Set(lsa.Peer, p[:], nil))
	}
	return l
}

func (n *adjNode) link(t *testing.T, id lsa.NodeID) *link {
	t.Helper()
	k, ok := n.adj.links.Get(&link{peer: &AdjPeer{ID: id}})
	require.True(t, ok, "no link to %s", id.Short())
	return k
}

func TestAdjacencyExchange(t *testing.T) {
	r := mock.NewReactor()
	dial := &mock.Dialer{}
	defer dial.Close()

	lo, hi := mock.Identity(t), mock.Identity(t)
	if hi.ID.Compare(lo.ID) < 0 {
		lo, hi = hi, lo
	}
	a := newAdjNode(t, r, lo, dial)
	b := newAdjNode(t, r, hi, dial)

	aLocal := originLSA(t, lo.ID, "lo", hi.ID)
	a.rt.Loc.Add(aLocal)
	b.rt.Loc.Add(originLSA(t, hi.ID, "hi", lo.ID))
	r.RunPending()

	// the lower id waits for the higher one to connect
	assert.Equal(t, RoleListen, a.link(t, hi.ID).peer.Role)
	require.NotNil(t, a.adj.listener.Entry(hi.ID.Short()))
	conn := b.link(t, lo.ID).conn
	require.NotNil(t, conn)

	r.RunUntil(t, func() bool { return conn.Phase() == peer.Handshaking }, adjWait)
	assert.Equal(t, []string{netip.AddrPortFrom(state.GlobalAddr(lo.ID), 19276).String()}, dial.Dialed())
	a.adj.listener.HandleConn(dial.Remote[0])

	r.RunUntil(t, func() bool {
		return a.rt.Loc.Get(hi.ID) != nil && b.rt.Loc.Get(lo.ID) != nil
	}, adjWait)
	assert.True(t, a.link(t, hi.ID).up)
	assert.True(t, b.link(t, lo.ID).up)

	// the sender prepends itself to the path
	learned := a.rt.Loc.Get(hi.ID)
	assert.Equal(t, []lsa.NodeID{hi.ID}, lsa.PathHops(learned))
	assert.Equal(t, "hi", lsa.Name(hi.ID, a.rt.Loc))
	assert.Equal(t, 1, a.rt.Loc.Candidates(lo.ID))
	assert.Equal(t, 1, b.rt.Loc.Candidates(hi.ID))

	// best LSAs learned elsewhere are forwarded, and withdrawn when they go away
	far := nodeID(0x42)
	farLSA := localLSA(t, far)
	a.rt.Loc.Add(farLSA)
	r.RunUntil(t, func() bool { return b.rt.Loc.Get(far) != nil }, adjWait)
	assert.Equal(t, []lsa.NodeID{lo.ID, far}, lsa.PathHops(b.rt.Loc.Get(far)))

	a.rt.Loc.Delete(farLSA)
	r.RunUntil(t, func() bool { return b.rt.Loc.Get(far) == nil }, adjWait)

	// dropping the PEER attribute tears the adjacency down on both sides
	a.rt.Loc.Modify(aLocal, originLSA(t, lo.ID, "lo"))
	r.RunUntil(t, func() bool {
		return a.adj.links.Len() == 0 && a.rt.Loc.Get(hi.ID) == nil && b.rt.Loc.Get(lo.ID) == nil
	}, adjWait)
	assert.Nil(t, a.adj.listener.Entry(hi.ID.Short()))
	assert.False(t, b.link(t, lo.ID).up)
	assert.Equal(t, peer.WaitingRetry, conn.Phase())
}

func TestAdjacencyLinkInput(t *testing.T) {
	r := mock.NewReactor()
	me := mock.Identity(t)
	n := newAdjNode(t, r, me, &mock.Dialer{})
	// above any generated id, so this node listens
	other := nodeID(0xff)

	n.rt.Loc.Add(originLSA(t, me.ID, "me", other))
	r.RunPending()
	k := n.link(t, other)
	assert.Equal(t, RoleListen, k.peer.Role)

	var sent [][]byte
	k.onPacket = func(pkt []byte) { sent = append(sent, pkt) }
	require.NoError(t, k.SetUp(true))
	// the local LSA is replayed with the local id as its path
	require.Len(t, sent, 1)
	got, err := lsa.Deserialise(sent[0])
	require.NoError(t, err)
	assert.Equal(t, []lsa.NodeID{me.ID}, lsa.PathHops(got))

	remote := localLSA(t, other, me.ID)
	buf, err := lsa.Serialise(remote, nil)
	require.NoError(t, err)
	require.NoError(t, k.Send(buf))
	assert.True(t, n.rt.Loc.Get(other).Equal(remote))
	// learned from this peer, so only a withdrawal goes back
	require.Len(t, sent, 2)
	back, err := lsa.Deserialise(sent[1])
	require.NoError(t, err)
	assert.Equal(t, other, back.ID)
	assert.Zero(t, back.Len())

	// a path through this node is a loop and is not installed
	looped := localLSA(t, nodeID(0x77))
	require.NoError(t, looped.Set(lsa.AdvPath, nil, append(other[:], me.ID[:]...)))
	buf, err = lsa.Serialise(looped, nil)
	require.NoError(t, err)
	require.NoError(t, k.Send(buf))
	assert.Nil(t, n.rt.Loc.Get(nodeID(0x77)))

	// garbage and LSAs without a path are dropped without ending the session
	assert.NoError(t, k.Send([]byte{0, 1, 2}))
	pathless := lsa.New(nodeID(0x78))
	require.NoError(t, pathless.Set(lsa.NodeName, nil, []byte("x")))
	buf, err = lsa.Serialise(pathless, nil)
	require.NoError(t, err)
	assert.NoError(t, k.Send(buf))
	assert.Nil(t, n.rt.Loc.Get(nodeID(0x78)))

	// an empty LSA withdraws
	buf, err = lsa.Serialise(lsa.New(other), nil)
	require.NoError(t, err)
	require.NoError(t, k.Send(buf))
	assert.Nil(t, n.rt.Loc.Get(other))

	// going down retires what the peer sent from a posted task
	require.NoError(t, k.Send(func() []byte {
		b, err := lsa.Serialise(remote, nil)
		require.NoError(t, err)
		return b
	}()))
	require.NotNil(t, n.rt.Loc.Get(other))
	require.NoError(t, k.SetUp(false))
	require.NotNil(t, n.rt.Loc.Get(other))
	r.RunPending()
	assert.Nil(t, n.rt.Loc.Get(other))
}
