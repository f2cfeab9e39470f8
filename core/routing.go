package core

import (
	"github.com/encodeous/dvpn/rib"
	"github.com/encodeous/dvpn/spf"
	"github.com/encodeous/dvpn/state"
)

// Routing owns the Local RIB and the listeners attached to it.
type Routing struct {
	Loc   *rib.LocRib
	Trace *rib.Trace
	Peers *Peers
	debug *rib.Debug
	regs  []*rib.Registration
}

func (r *Routing) Init(s *state.State) error {
	r.Loc = rib.NewLocRib()
	r.debug = &rib.Debug{Name: "loc", Log: s.Log, Hints: r.Loc}
	r.Trace = rib.NewTrace(state.TraceBufferLen)
	r.Peers = NewPeers(s.Identity.ID, s.Env, s.Log)

	for _, l := range []rib.Listener{r.debug, r.Trace, r.Peers} {
		r.regs = append(r.regs, r.Loc.RegisterListener(l))
	}
	return nil
}

func (r *Routing) Cleanup(s *state.State) error {
	for _, reg := range r.regs {
		r.Loc.UnregisterListener(reg)
	}
	r.regs = nil
	return r.Trace.Close()
}

// Topology computes valley-free paths from the local node over the current RIB.
// It reports false while the local node has no LSA in the RIB.
func (r *Routing) Topology(s *state.State) (*spf.Topology, *spf.Result, bool) {
	topo := spf.FromRib(r.Loc)
	res, ok := topo.RunFrom(s.Identity.ID)
	return topo, res, ok
}
