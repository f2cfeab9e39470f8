package pconn_test

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/encodeous/dvpn/lsa"
	"github.com/encodeous/dvpn/mock"
	"github.com/encodeous/dvpn/pconn"
	"github.com/encodeous/dvpn/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 5 * time.Second

type endpoint struct {
	id       *state.Identity
	peerID   lsa.NodeID
	accept   bool
	done     bool
	lost     error
	records  [][]byte
	verified int
	conn     *pconn.Conn
}

func (e *endpoint) events() pconn.Events {
	return pconn.Events{
		Verify: func(id lsa.NodeID) bool {
			e.verified++
			e.peerID = id
			return e.accept
		},
		HandshakeDone:  func() { e.done = true },
		Record:         func(rec []byte) { e.records = append(e.records, rec) },
		ConnectionLost: func(err error) { e.lost = err },
	}
}

func pair(t *testing.T, r *mock.Reactor, acceptClient, acceptServer bool) (*endpoint, *endpoint) {
	cli := &endpoint{id: mock.Identity(t), accept: acceptServer}
	srv := &endpoint{id: mock.Identity(t), accept: acceptClient}
	a, b := net.Pipe()
	cli.conn = pconn.Start(r, a, pconn.Client, &cli.id.Cert, cli.events())
	srv.conn = pconn.Start(r, b, pconn.Server, &srv.id.Cert, srv.events())
	t.Cleanup(func() {
		cli.conn.Destroy()
		srv.conn.Destroy()
	})
	return cli, srv
}

func TestHandshakeAndRecords(t *testing.T) {
	r := mock.NewReactor()
	cli, srv := pair(t, r, true, true)

	assert.ErrorIs(t, cli.conn.SendRecord([]byte{1}), pconn.ErrNotEstablished)

	r.RunUntil(t, func() bool { return cli.done && srv.done }, waitFor)
	assert.Equal(t, srv.id.ID, cli.peerID)
	assert.Equal(t, cli.id.ID, srv.peerID)
	assert.Equal(t, 1, cli.verified)
	assert.Equal(t, 1, srv.verified)

	require.NoError(t, cli.conn.SendRecord([]byte{0, 0}))
	require.NoError(t, cli.conn.SendRecord([]byte{0, 3, 1, 2, 3}))
	big := bytes.Repeat([]byte{0xab}, state.MaxRecordSize)
	require.NoError(t, srv.conn.SendRecord(big))

	r.RunUntil(t, func() bool { return len(srv.records) == 2 && len(cli.records) == 1 }, waitFor)
	assert.Equal(t, [][]byte{{0, 0}, {0, 3, 1, 2, 3}}, srv.records)
	assert.Equal(t, big, cli.records[0])

	assert.ErrorIs(t, cli.conn.SendRecord(make([]byte, state.MaxRecordSize+1)), pconn.ErrRecordTooLarge)
}

func TestRejectedPeer(t *testing.T) {
	r := mock.NewReactor()
	cli, srv := pair(t, r, true, false)

	r.RunUntil(t, func() bool { return cli.lost != nil && srv.lost != nil }, waitFor)
	assert.ErrorIs(t, cli.lost, pconn.ErrRejected)
	assert.False(t, cli.done)
	assert.False(t, srv.done)
}

func TestDestroy(t *testing.T) {
	r := mock.NewReactor()
	cli, srv := pair(t, r, true, true)
	r.RunUntil(t, func() bool { return cli.done && srv.done }, waitFor)

	srv.conn.Destroy()
	assert.ErrorIs(t, srv.conn.SendRecord([]byte{1}), pconn.ErrClosed)

	r.RunUntil(t, func() bool { return cli.lost != nil }, waitFor)
	assert.Nil(t, srv.lost)

	lost := cli.lost
	cli.conn.Destroy()
	r.RunPending()
	assert.Equal(t, lost, cli.lost)
}

func TestDestroyDuringHandshake(t *testing.T) {
	r := mock.NewReactor()
	a, b := net.Pipe()
	defer b.Close()
	var events int
	c := pconn.Start(r, a, pconn.Client, &mock.Identity(t).Cert, pconn.Events{
		Verify:         func(lsa.NodeID) bool { events++; return true },
		HandshakeDone:  func() { events++ },
		Record:         func([]byte) { events++ },
		ConnectionLost: func(error) { events++ },
	})
	c.Destroy()
	c.Destroy()
	time.Sleep(20 * time.Millisecond)
	r.RunPending()
	assert.Zero(t, events)
}
