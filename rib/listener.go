package rib

import (
	"container/list"

	"github.com/encodeous/dvpn/lsa"
)

// Listener observes best-path changes. Callbacks run synchronously inside the mutating call
// and must not mutate the table they are registered on; defer such work through the reactor.
type Listener interface {
	BestAdd(l *lsa.LSA)
	BestMod(old, new *lsa.LSA)
	BestDel(l *lsa.LSA)
}

// ListenerFuncs adapts plain functions to a Listener. Nil funcs are skipped.
type ListenerFuncs struct {
	Add func(l *lsa.LSA)
	Mod func(old, new *lsa.LSA)
	Del func(l *lsa.LSA)
}

func (f *ListenerFuncs) BestAdd(l *lsa.LSA) {
	if f.Add != nil {
		f.Add(l)
	}
}

func (f *ListenerFuncs) BestMod(old, new *lsa.LSA) {
	if f.Mod != nil {
		f.Mod(old, new)
	}
}

func (f *ListenerFuncs) BestDel(l *lsa.LSA) {
	if f.Del != nil {
		f.Del(l)
	}
}

// Registration is the handle returned when a listener is registered. It belongs to the
// table that issued it.
type Registration struct {
	l Listener
	e *list.Element
}

// listeners keeps registrations in insertion order, removal through the handle is O(1).
type listeners struct {
	regs list.List
}

func (ls *listeners) register(l Listener) *Registration {
	reg := &Registration{l: l}
	reg.e = ls.regs.PushBack(reg)
	return reg
}

func (ls *listeners) unregister(reg *Registration) {
	if reg == nil || reg.e == nil {
		return
	}
	ls.regs.Remove(reg.e)
	reg.e = nil
}

// each iterates a snapshot, so listeners may unregister themselves or others from a callback.
// A registration removed during the dispatch is not called afterwards.
func (ls *listeners) each(fn func(l Listener)) {
	snap := make([]*Registration, 0, ls.regs.Len())
	for e := ls.regs.Front(); e != nil; e = e.Next() {
		snap = append(snap, e.Value.(*Registration))
	}
	for _, reg := range snap {
		if reg.e != nil {
			fn(reg.l)
		}
	}
}
