package core

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/encodeous/dvpn/lsa"
	"github.com/encodeous/dvpn/mock"
	"github.com/encodeous/dvpn/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runState starts a main loop with the given modules and stops it when the test ends.
func runState(t *testing.T, modules ...state.NyModule) *state.State {
	t.Helper()
	ctx, cancel := context.WithCancelCause(context.Background())
	dispatch := make(chan func(s *state.State) error, 128)
	cfg := state.LocalCfg{
		Name:    "test",
		Socket:  filepath.Join(t.TempDir(), "dvpn.sock"),
		NoQuery: true,
	}
	cfg.ApplyDefaults()
	s := &state.State{
		Modules: make(map[string]state.NyModule),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: dispatch,
			LocalCfg:        cfg,
			Identity:        mock.Identity(t),
			Log:             discard,
		},
	}
	for _, m := range modules {
		name := reflect.TypeOf(m).String()
		s.Modules[name] = m
		s.ModuleOrder = append(s.ModuleOrder, name)
		require.NoError(t, m.Init(s))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = MainLoop(s, dispatch)
	}()
	t.Cleanup(func() {
		s.Cancel(context.Canceled)
		<-done
	})
	return s
}

func addLocal(t *testing.T, s *state.State, l *lsa.LSA) {
	t.Helper()
	_, err := state.DispatchWait(s.Env, func(s *state.State) (struct{}, error) {
		Get[*Routing](s).Loc.Add(l)
		return struct{}{}, nil
	})
	require.NoError(t, err)
}

func TestInspectStatus(t *testing.T) {
	s := runState(t, &Routing{}, &Inspect{})

	out, err := InspectGet(s.Socket, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Node: test")
	assert.Contains(t, out, s.Identity.ID.String())
	assert.Contains(t, out, state.GlobalAddr(s.Identity.ID).String())
	assert.Contains(t, out, "RIB: 0 nodes, 0 peers")
	assert.NotContains(t, out, "Connect:")
}

func TestInspectRibAndPeers(t *testing.T) {
	s := runState(t, &Routing{}, &Inspect{})
	me := s.Identity.ID
	other := nodeID(0xee)

	local := localLSA(t, me, other)
	require.NoError(t, local.Set(lsa.NodeName, nil, []byte("me")))
	addLocal(t, s, local)

	remote := localLSA(t, other, me)
	require.NoError(t, remote.Set(lsa.NodeName, nil, []byte("far")))
	addLocal(t, s, remote)

	out, err := InspectGet(s.Socket, "rib")
	require.NoError(t, err)
	assert.Contains(t, out, "me")
	assert.Contains(t, out, "far")
	assert.Contains(t, out, "Paths:")
	assert.Contains(t, out, "- far cost 1 via me")

	out, err = InspectGet(s.Socket, "peers")
	require.NoError(t, err)
	assert.Contains(t, out, "far")
	assert.Contains(t, out, state.GlobalAddr(other).String())

	out, err = InspectGet(s.Socket, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "RIB: 2 nodes, 1 peers")
}

func TestInspectUnknownCommand(t *testing.T) {
	s := runState(t, &Routing{}, &Inspect{})
	out, err := InspectGet(s.Socket, "bogus")
	require.NoError(t, err)
	assert.Equal(t, "unknown command \"bogus\"\n", out)
}

func TestInspectEmptyRib(t *testing.T) {
	s := runState(t, &Routing{}, &Inspect{})
	out, err := InspectGet(s.Socket, "rib")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "(empty)\n"))

	out, err = InspectGet(s.Socket, "peers")
	require.NoError(t, err)
	assert.Equal(t, "(none)\n", out)
}

func TestInspectRibWithoutLocal(t *testing.T) {
	s := runState(t, &Routing{}, &Inspect{})
	remote := localLSA(t, nodeID(0xee), s.Identity.ID)
	require.NoError(t, remote.Set(lsa.NodeName, nil, []byte("far")))
	addLocal(t, s, remote)

	out, err := InspectGet(s.Socket, "rib")
	require.NoError(t, err)
	assert.Contains(t, out, "far")
	assert.Contains(t, out, "Paths: no local LSA yet")
	assert.NotContains(t, out, "cost")
}

func TestInspectTrace(t *testing.T) {
	s := runState(t, &Routing{}, &Inspect{})

	conn, err := net.Dial("unix", s.Socket)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("trace\n"))
	require.NoError(t, err)

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	// the subscription is registered asynchronously, keep producing events until one arrives
	deadline := time.After(5 * time.Second)
	for i := byte(1); ; i++ {
		addLocal(t, s, localLSA(t, nodeID(i)))
		select {
		case line := <-lines:
			assert.Equal(t, "=== add", line)
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("no trace event received")
		}
	}
}
