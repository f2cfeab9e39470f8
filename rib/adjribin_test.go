package rib

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/encodeous/dvpn/lsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjRibInEvents(t *testing.T) {
	remote := nodeID(9)
	in := NewAdjRibIn(nil, remote)
	rec := &recorder{}
	in.RegisterListener(rec)

	a := withPath(t, nodeID(1), 9)
	require.NoError(t, in.Add(a))
	assertEvents(t, []event{{"add", nil, a}}, rec.take())

	same := withPath(t, nodeID(1), 9)
	require.NoError(t, in.Add(same))
	assert.Empty(t, rec.take())
	assert.Same(t, a, in.Get(nodeID(1)))

	b := withPath(t, nodeID(1), 9, 8)
	require.NoError(t, in.Add(b))
	assertEvents(t, []event{{"mod", a, b}}, rec.take())

	in.Delete(nodeID(1))
	assertEvents(t, []event{{"del", b, nil}}, rec.take())
	in.Delete(nodeID(1))
	assert.Empty(t, rec.take())
}

func TestAdjRibInRejectsMissingPath(t *testing.T) {
	in := NewAdjRibIn(nil, nodeID(9))
	rec := &recorder{}
	in.RegisterListener(rec)

	err := in.Add(lsa.New(nodeID(1)))
	assert.ErrorIs(t, err, ErrNoAdvPath)
	assert.Empty(t, rec.take())
	assert.Zero(t, in.Len())
}

func TestAdjRibInLoopWithdraws(t *testing.T) {
	me := nodeID(7)
	in := NewAdjRibIn(&me, nodeID(9))
	rec := &recorder{}
	in.RegisterListener(rec)

	a := withPath(t, nodeID(1), 9)
	require.NoError(t, in.Add(a))
	rec.take()

	looped := withPath(t, nodeID(1), 9, 7)
	require.NoError(t, in.Add(looped))
	assertEvents(t, []event{{"del", a, nil}}, rec.take())
	assert.Nil(t, in.Get(nodeID(1)))
}

func TestAdjRibInFlushToLoc(t *testing.T) {
	loc := NewLocRib()
	in := NewAdjRibIn(nil, nodeID(9))
	in.RegisterListener(&ToLoc{Dest: loc})
	rec := &recorder{}
	loc.RegisterListener(rec)

	a := withPath(t, nodeID(1), 9)
	b := withPath(t, nodeID(2), 9)
	require.NoError(t, in.Add(a))
	require.NoError(t, in.Add(b))
	a2 := withPath(t, nodeID(1), 9, 3)
	require.NoError(t, in.Add(a2))
	assert.Same(t, a2, loc.Get(nodeID(1)))

	in.Flush()
	assert.Zero(t, in.Len())
	assert.Zero(t, loc.Len())
	assertEvents(t, []event{
		{"add", nil, a},
		{"add", nil, b},
		{"mod", a, a2},
		{"del", a2, nil},
		{"del", b, nil},
	}, rec.take())
}

func TestDebugListener(t *testing.T) {
	d := &Debug{Name: "loc-rib", Log: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	a := withPath(t, nodeID(1), 2)
	b := withPath(t, nodeID(1), 3)
	assert.NotPanics(t, func() {
		d.BestAdd(a)
		d.BestMod(a, b)
		d.BestDel(b)
	})
}

func TestTrace(t *testing.T) {
	tr := NewTrace(16)
	defer tr.Close()
	ch, cancel := tr.Subscribe(16)
	defer cancel()

	loc := NewLocRib()
	loc.RegisterListener(tr)
	a := withPath(t, nodeID(1), 2)
	loc.Add(a)
	loc.Delete(a)

	var got []TraceEvent
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev.(TraceEvent))
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for trace events")
		}
	}
	assert.Equal(t, EventAdd, got[0].Kind)
	assert.Same(t, a, got[0].New)
	assert.Equal(t, EventDel, got[1].Kind)
	assert.Same(t, a, got[1].Old)
}
