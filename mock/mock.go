// Package mock provides deterministic stand-ins for the reactor, tunnels, transports and
// network lookups used by the peer sessions.
package mock

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/dvpn/state"
)

// Reactor is a virtual-time reactor. Post is safe from any goroutine, everything else must be
// called from the test goroutine, which acts as the reactor.
type Reactor struct {
	mu     sync.Mutex
	posted []func()
	wake   chan struct{}

	now    time.Time
	seq    int
	timers []*timer
}

type timer struct {
	r       *Reactor
	at      time.Time
	seq     int
	fun     func()
	stopped bool
}

func (t *timer) Stop() {
	t.stopped = true
	t.r.removeTimer(t)
}

func NewReactor() *Reactor {
	return &Reactor{
		wake: make(chan struct{}, 1),
		now:  time.Unix(1_000_000, 0),
	}
}

func (r *Reactor) Post(fun func()) {
	r.mu.Lock()
	r.posted = append(r.posted, fun)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reactor) AfterFunc(delay time.Duration, fun func()) state.Timer {
	r.seq++
	t := &timer{r: r, at: r.now.Add(delay), seq: r.seq, fun: fun}
	r.timers = append(r.timers, t)
	return t
}

func (r *Reactor) removeTimer(t *timer) {
	for i, x := range r.timers {
		if x == t {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			return
		}
	}
}

// Now is the virtual time.
func (r *Reactor) Now() time.Time {
	return r.now
}

// Timers is the number of armed timers.
func (r *Reactor) Timers() int {
	return len(r.timers)
}

// NextTimer returns the delay until the earliest armed timer.
func (r *Reactor) NextTimer() (time.Duration, bool) {
	if len(r.timers) == 0 {
		return 0, false
	}
	next := r.timers[0].at
	for _, t := range r.timers {
		if t.at.Before(next) {
			next = t.at
		}
	}
	return next.Sub(r.now), true
}

// RunPending runs posted functions until none are left and returns how many ran.
func (r *Reactor) RunPending() int {
	n := 0
	for {
		r.mu.Lock()
		batch := r.posted
		r.posted = nil
		r.mu.Unlock()
		if len(batch) == 0 {
			return n
		}
		for _, fun := range batch {
			fun()
			n++
		}
	}
}

// Advance moves virtual time forward by d, firing due timers in deadline order.
func (r *Reactor) Advance(d time.Duration) {
	target := r.now.Add(d)
	r.RunPending()
	for {
		sort.SliceStable(r.timers, func(i, j int) bool {
			if r.timers[i].at.Equal(r.timers[j].at) {
				return r.timers[i].seq < r.timers[j].seq
			}
			return r.timers[i].at.Before(r.timers[j].at)
		})
		if len(r.timers) == 0 || r.timers[0].at.After(target) {
			break
		}
		t := r.timers[0]
		r.timers = r.timers[1:]
		r.now = t.at
		t.stopped = true
		t.fun()
		r.RunPending()
	}
	r.now = target
}

// RunUntil runs posted functions as they arrive until cond holds, failing the test after timeout.
func (r *Reactor) RunUntil(tb testing.TB, cond func() bool, timeout time.Duration) {
	tb.Helper()
	deadline := time.After(timeout)
	for {
		r.RunPending()
		if cond() {
			return
		}
		select {
		case <-r.wake:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			tb.Fatalf("condition not reached within %s", timeout)
			return
		}
	}
}

// Identity returns a fresh node identity.
func Identity(tb testing.TB) *state.Identity {
	tb.Helper()
	key, err := state.GenerateKey()
	if err != nil {
		tb.Fatal(err)
	}
	id, err := state.NewIdentity(key)
	if err != nil {
		tb.Fatal(err)
	}
	return id
}

// MockCfg builds a configuration for node name where every other name is a peer: names before
// it are connected to, names after it are allowed to connect in.
func MockCfg(name string, peers map[string]*state.Identity) state.LocalCfg {
	names := make([]string, 0, len(peers))
	for n := range peers {
		names = append(names, n)
	}
	sort.Strings(names)

	basePort := 23000
	cfg := state.LocalCfg{Name: name, Key: "/dev/null"}
	listen := state.ListenCfg{}
	for i, n := range names {
		if n == name {
			listen.Address = netip.MustParseAddrPort(fmt.Sprintf("127.0.0.1:%d", basePort+i))
			continue
		}
		fp := state.FingerprintOf(peers[n].ID)
		if n < name {
			cfg.Connect = append(cfg.Connect, state.ConnectCfg{
				Name:        n,
				Host:        "127.0.0.1",
				Port:        uint16(basePort + i),
				Fingerprint: fp,
				Tun:         "dv-" + n,
			})
		} else {
			listen.Peers = append(listen.Peers, state.ListenPeerCfg{Name: n, Fingerprint: fp, Tun: "dv-" + n})
		}
	}
	if len(listen.Peers) > 0 {
		cfg.Listen = append(cfg.Listen, listen)
	}
	cfg.ApplyDefaults()
	return cfg
}
