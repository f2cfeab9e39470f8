// Package rib implements the Local RIB, the per-neighbour Adj-RIB-In and the listeners that
// connect them.
package rib

import (
	"bytes"

	"github.com/encodeous/dvpn/lsa"
	"github.com/google/btree"
)

type candidate struct {
	seq uint64
	lsa *lsa.LSA
}

type ribEntry struct {
	id lsa.NodeID
	// candidates in insertion order, index maps LSA identity to its sequence number
	candidates *btree.BTreeG[candidate]
	index      map[*lsa.LSA]uint64
	best       *lsa.LSA
}

// LocRib selects one best LSA per node id among all known candidates.
// All methods must be called from the reactor goroutine.
type LocRib struct {
	ids       *btree.BTreeG[*ribEntry]
	listeners listeners
	seq       uint64
}

func NewLocRib() *LocRib {
	return &LocRib{
		ids: btree.NewG(8, func(a, b *ribEntry) bool {
			return a.id.Compare(b.id) < 0
		}),
	}
}

func advPath(l *lsa.LSA) []byte {
	path, ok := l.AdvPath()
	if !ok {
		panic("rib: LSA " + l.ID.Short() + " has no ADV_PATH")
	}
	return path
}

// Better reports whether a is preferred over b: shorter ADV_PATH first, then smaller bytes.
func Better(a, b *lsa.LSA) bool {
	pa, pb := advPath(a), advPath(b)
	if len(pa) != len(pb) {
		return len(pa) < len(pb)
	}
	return bytes.Compare(pa, pb) < 0
}

func (r *LocRib) find(id lsa.NodeID) *ribEntry {
	e, ok := r.ids.Get(&ribEntry{id: id})
	if !ok {
		return nil
	}
	return e
}

func (r *LocRib) getOrCreate(id lsa.NodeID) *ribEntry {
	if e := r.find(id); e != nil {
		return e
	}
	e := &ribEntry{
		id: id,
		candidates: btree.NewG(4, func(a, b candidate) bool {
			return a.seq < b.seq
		}),
		index: make(map[*lsa.LSA]uint64),
	}
	r.ids.ReplaceOrInsert(e)
	return e
}

func (r *LocRib) insert(e *ribEntry, l *lsa.LSA) {
	if _, ok := e.index[l]; ok {
		panic("rib: LSA " + l.ID.Short() + " added twice")
	}
	r.seq++
	e.index[l] = r.seq
	e.candidates.ReplaceOrInsert(candidate{seq: r.seq, lsa: l})
}

func (r *LocRib) remove(e *ribEntry, l *lsa.LSA) {
	seq, ok := e.index[l]
	if !ok {
		panic("rib: LSA " + l.ID.Short() + " not present")
	}
	delete(e.index, l)
	e.candidates.Delete(candidate{seq: seq})
}

func (r *LocRib) setNewBest(e *ribEntry, l *lsa.LSA) {
	old := e.best
	e.best = l
	switch {
	case old == nil && l != nil:
		r.listeners.each(func(x Listener) { x.BestAdd(l) })
	case old != nil && l != nil:
		r.listeners.each(func(x Listener) { x.BestMod(old, l) })
	case old != nil && l == nil:
		r.listeners.each(func(x Listener) { x.BestDel(old) })
	}
}

// recompute scans all candidates; on identical paths the earliest inserted wins.
func (r *LocRib) recompute(e *ribEntry) {
	var best *lsa.LSA
	e.candidates.Ascend(func(c candidate) bool {
		if best == nil || Better(c.lsa, best) {
			best = c.lsa
		}
		return true
	})
	r.setNewBest(e, best)
}

// Add inserts l as a candidate for its node id.
func (r *LocRib) Add(l *lsa.LSA) {
	advPath(l)
	e := r.getOrCreate(l.ID)
	r.insert(e, l)
	if e.best == nil || Better(l, e.best) {
		r.setNewBest(e, l)
	}
}

// Modify replaces candidate old with new. Both must carry the same node id.
func (r *LocRib) Modify(old, new *lsa.LSA) {
	advPath(new)
	e := r.find(old.ID)
	if e == nil {
		panic("rib: modify of unknown id " + old.ID.Short())
	}
	r.remove(e, old)
	r.insert(e, new)

	if e.best == old {
		r.recompute(e)
	} else if Better(new, e.best) {
		r.setNewBest(e, new)
	}
}

// Delete withdraws candidate l. The id is removed once it has no candidates left.
func (r *LocRib) Delete(l *lsa.LSA) {
	e := r.find(l.ID)
	if e == nil {
		panic("rib: delete of unknown id " + l.ID.Short())
	}
	r.remove(e, l)

	if e.best == l {
		r.recompute(e)
	}
	if e.candidates.Len() == 0 {
		r.ids.Delete(e)
	}
}

// RegisterListener adds a listener. Existing best paths are not replayed, so listeners should
// be registered before the first Add or replay Walk themselves.
func (r *LocRib) RegisterListener(l Listener) *Registration {
	return r.listeners.register(l)
}

// UnregisterListener removes a registration. Removing it twice is a no-op.
func (r *LocRib) UnregisterListener(reg *Registration) {
	r.listeners.unregister(reg)
}

// Get returns the best LSA for id, or nil.
func (r *LocRib) Get(id lsa.NodeID) *lsa.LSA {
	if e := r.find(id); e != nil {
		return e.best
	}
	return nil
}

// Candidates returns the number of candidates held for id.
func (r *LocRib) Candidates(id lsa.NodeID) int {
	if e := r.find(id); e != nil {
		return e.candidates.Len()
	}
	return 0
}

func (r *LocRib) Len() int {
	return r.ids.Len()
}

// Walk visits the best LSA of every id in id order.
func (r *LocRib) Walk(fn func(best *lsa.LSA) bool) {
	r.ids.Ascend(func(e *ribEntry) bool {
		return fn(e.best)
	})
}
