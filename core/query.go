package core

import (
	"bytes"
	"errors"
	"log/slog"
	"net"
	"net/netip"

	"github.com/encodeous/dvpn/lsa"
	"github.com/encodeous/dvpn/perf"
	"github.com/encodeous/dvpn/rib"
	"github.com/encodeous/dvpn/state"
)

// Query polls the local LSA responder, which answers an empty datagram with the serialised
// LSA of this node, and feeds the answers into the Local RIB.
type Query struct {
	Adj  *rib.AdjRibIn
	to   *rib.ToLoc
	reg  *rib.Registration
	conn *net.UDPConn
	addr netip.AddrPort
}

func (q *Query) attach(local lsa.NodeID, loc *rib.LocRib) {
	q.Adj = rib.NewAdjRibIn(nil, local)
	q.to = &rib.ToLoc{Dest: loc}
	q.reg = q.Adj.RegisterListener(q.to)
}

func (q *Query) Init(s *state.State) error {
	if s.NoQuery {
		s.Log.Info("local query disabled")
		return nil
	}
	q.attach(s.Identity.ID, Get[*Routing](s).Loc)

	conn, err := net.ListenUDP("udp6", nil)
	if err != nil {
		return err
	}
	q.conn = conn
	q.addr = netip.AddrPortFrom(state.GlobalAddr(s.Identity.ID), s.QueryPort)

	go q.read(s.Env)
	s.Env.RepeatTask(q.poll, state.QueryInterval)
	return nil
}

func (q *Query) poll(s *state.State) error {
	if _, err := q.conn.WriteToUDPAddrPort(nil, q.addr); err != nil {
		// the responder address is only reachable once the overlay is up
		s.Log.Debug("local query failed", "addr", q.addr, "err", err)
	}
	return nil
}

func (q *Query) read(e *state.Env) {
	buf := make([]byte, 65536)
	for {
		n, _, err := q.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				e.Log.Error("local query read failed", "err", err)
			}
			return
		}
		pkt := bytes.Clone(buf[:n])
		e.Dispatch(func(s *state.State) error {
			q.HandleResponse(s.Log, pkt)
			return nil
		})
	}
}

// HandleResponse processes one answer. Answers that do not parse withdraw everything learned
// so far, answers about other nodes are ignored.
func (q *Query) HandleResponse(log *slog.Logger, pkt []byte) {
	perf.QueryResponses.Add(1)
	l, err := lsa.Deserialise(pkt)
	if err != nil {
		log.Warn("error deserialising local LSA", "err", err)
		q.Adj.Flush()
		return
	}
	if l.ID != q.Adj.RemoteID {
		log.Warn("local LSA node id mismatch", "id", l.ID.Short())
		return
	}
	if err := q.Adj.Add(l); err != nil {
		log.Warn("rejecting local LSA", "err", err)
	}
}

func (q *Query) Cleanup(s *state.State) error {
	if q.Adj == nil {
		return nil
	}
	var err error
	if q.conn != nil {
		err = q.conn.Close()
	}
	q.Adj.Flush()
	q.Adj.UnregisterListener(q.reg)
	return err
}
