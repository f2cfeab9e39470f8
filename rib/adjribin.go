package rib

import (
	"errors"
	"fmt"

	"github.com/encodeous/dvpn/lsa"
	"github.com/google/btree"
)

var ErrNoAdvPath = errors.New("rib: LSA without ADV_PATH")

// AdjRibIn holds the LSAs received from one neighbour, at most one per node id.
// Changes are reported to listeners with the same add/mod/del events as the Local RIB.
type AdjRibIn struct {
	// MyID, when set, withdraws LSAs whose path already went through this node.
	MyID      *lsa.NodeID
	RemoteID  lsa.NodeID
	lsas      *btree.BTreeG[*lsa.LSA]
	listeners listeners
}

func NewAdjRibIn(myID *lsa.NodeID, remoteID lsa.NodeID) *AdjRibIn {
	return &AdjRibIn{
		MyID:     myID,
		RemoteID: remoteID,
		lsas: btree.NewG(8, func(a, b *lsa.LSA) bool {
			return a.ID.Compare(b.ID) < 0
		}),
	}
}

func (r *AdjRibIn) RegisterListener(l Listener) *Registration {
	return r.listeners.register(l)
}

func (r *AdjRibIn) UnregisterListener(reg *Registration) {
	r.listeners.unregister(reg)
}

func (r *AdjRibIn) Get(id lsa.NodeID) *lsa.LSA {
	key := lsa.LSA{ID: id}
	l, _ := r.lsas.Get(&key)
	return l
}

func (r *AdjRibIn) Len() int {
	return r.lsas.Len()
}

// Add installs l as the current LSA for its id. An LSA identical to the current one is ignored.
func (r *AdjRibIn) Add(l *lsa.LSA) error {
	if _, ok := l.AdvPath(); !ok {
		return fmt.Errorf("%w: %s from %s", ErrNoAdvPath, l.ID.Short(), r.RemoteID.Short())
	}
	if r.MyID != nil && lsa.PathContains(l, *r.MyID) {
		r.Delete(l.ID)
		return nil
	}

	old, replaced := r.lsas.ReplaceOrInsert(l)
	switch {
	case !replaced:
		r.listeners.each(func(x Listener) { x.BestAdd(l) })
	case old.Equal(l):
		r.lsas.ReplaceOrInsert(old)
	default:
		r.listeners.each(func(x Listener) { x.BestMod(old, l) })
	}
	return nil
}

// Delete withdraws the LSA for id, if any.
func (r *AdjRibIn) Delete(id lsa.NodeID) {
	key := lsa.LSA{ID: id}
	old, ok := r.lsas.Delete(&key)
	if !ok {
		return
	}
	r.listeners.each(func(x Listener) { x.BestDel(old) })
}

// Flush withdraws every LSA.
func (r *AdjRibIn) Flush() {
	for r.lsas.Len() > 0 {
		old, _ := r.lsas.DeleteMin()
		r.listeners.each(func(x Listener) { x.BestDel(old) })
	}
}
