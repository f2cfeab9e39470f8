package rib

import (
	"log/slog"
	"strings"

	"github.com/dustin/go-broadcast"
	"github.com/encodeous/dvpn/lsa"
)

// ToLoc feeds the events of an Adj-RIB-In into a Local RIB.
type ToLoc struct {
	Dest *LocRib
}

func (t *ToLoc) BestAdd(l *lsa.LSA) {
	t.Dest.Add(l)
}

func (t *ToLoc) BestMod(old, new *lsa.LSA) {
	t.Dest.Modify(old, new)
}

func (t *ToLoc) BestDel(l *lsa.LSA) {
	t.Dest.Delete(l)
}

// Debug logs every event.
type Debug struct {
	Name  string
	Log   *slog.Logger
	Hints lsa.NameHints
}

func (d *Debug) dump(l *lsa.LSA) string {
	var sb strings.Builder
	lsa.Print(&sb, l, d.Hints)
	return strings.TrimRight(sb.String(), "\n")
}

func (d *Debug) BestAdd(l *lsa.LSA) {
	d.Log.Debug("lsa add", "rib", d.Name, "id", l.ID.Short(), "lsa", d.dump(l))
}

func (d *Debug) BestMod(old, new *lsa.LSA) {
	d.Log.Debug("lsa mod", "rib", d.Name, "id", new.ID.Short(), "old", d.dump(old), "new", d.dump(new))
}

func (d *Debug) BestDel(l *lsa.LSA) {
	d.Log.Debug("lsa del", "rib", d.Name, "id", l.ID.Short(), "lsa", d.dump(l))
}

type EventKind uint8

const (
	EventAdd EventKind = iota
	EventMod
	EventDel
)

func (k EventKind) String() string {
	switch k {
	case EventAdd:
		return "add"
	case EventMod:
		return "mod"
	case EventDel:
		return "del"
	}
	return "unknown"
}

// TraceEvent is published by Trace. Old is nil for adds, New is nil for deletes.
type TraceEvent struct {
	Kind EventKind
	Old  *lsa.LSA
	New  *lsa.LSA
}

// Trace broadcasts every event to subscribed channels. Events are dropped rather than blocking
// the caller when the broadcaster falls behind.
type Trace struct {
	broadcast.Broadcaster
}

func NewTrace(bufLen int) *Trace {
	return &Trace{broadcast.NewBroadcaster(bufLen)}
}

func (t *Trace) BestAdd(l *lsa.LSA) {
	t.TrySubmit(TraceEvent{Kind: EventAdd, New: l})
}

func (t *Trace) BestMod(old, new *lsa.LSA) {
	t.TrySubmit(TraceEvent{Kind: EventMod, Old: old, New: new})
}

func (t *Trace) BestDel(l *lsa.LSA) {
	t.TrySubmit(TraceEvent{Kind: EventDel, Old: l})
}

// Subscribe registers a new channel of TraceEvents. The returned function cancels the
// subscription and is safe to call after the Trace was closed.
func (t *Trace) Subscribe(bufLen int) (<-chan any, func()) {
	ch := make(chan any, bufLen)
	t.Register(ch)
	return ch, func() {
		// keep draining so a pending broadcast cannot block the unregistration
		done := make(chan struct{})
		go func() {
			for {
				select {
				case <-ch:
				case <-done:
					return
				}
			}
		}()
		defer close(done)
		defer func() {
			_ = recover() // unregistering from a closed broadcaster
		}()
		t.Unregister(ch)
	}
}
