package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"reflect"
	"strings"

	"github.com/encodeous/dvpn/lsa"
	"github.com/encodeous/dvpn/rib"
	"github.com/encodeous/dvpn/state"
)

// Inspect serves read-only queries about the running daemon on a unix socket.
type Inspect struct {
	ln net.Listener
}

func (i *Inspect) Init(s *state.State) error {
	if err := os.Remove(s.Socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	ln, err := net.Listen("unix", s.Socket)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.Socket, 0600); err != nil {
		_ = ln.Close()
		return err
	}
	i.ln = ln
	go i.accept(s.Env)
	return nil
}

func (i *Inspect) accept(e *state.Env) {
	for {
		conn, err := i.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				e.Log.Error("inspect accept failed", "err", err)
			}
			return
		}
		go func() {
			defer conn.Close()
			rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
			if err := HandleInspect(e, rw); err != nil && !errors.Is(err, io.EOF) {
				e.Log.Debug("inspect request failed", "err", err)
			}
		}()
	}
}

func (i *Inspect) Cleanup(s *state.State) error {
	if i.ln == nil {
		return nil
	}
	return i.ln.Close()
}

// InspectGet sends cmd to the daemon listening on socket and returns its answer.
func InspectGet(socket, cmd string) (string, error) {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	_, err = rw.WriteString(cmd + "\n")
	if err != nil {
		return "", err
	}
	err = rw.Flush()
	if err != nil {
		return "", err
	}

	res, err := rw.ReadString(0)
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSuffix(res, "\x00"), nil
}

// InspectTrace copies RIB events from the daemon to w until the connection ends.
func InspectTrace(socket string, w io.Writer) error {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := io.WriteString(conn, "trace\n"); err != nil {
		return err
	}
	_, err = io.Copy(w, conn)
	return err
}

func HandleInspect(e *state.Env, rw *bufio.ReadWriter) error {
	cmd, err := rw.ReadString('\n')
	if err != nil {
		return err
	}
	cmd = strings.TrimSpace(cmd)
	if cmd == "trace" {
		return streamTrace(e, rw)
	}
	out, err := state.DispatchWait(e, func(s *state.State) (string, error) {
		switch cmd {
		case "status":
			return renderStatus(s), nil
		case "rib":
			return renderRib(s), nil
		case "peers":
			return renderPeers(s), nil
		}
		return fmt.Sprintf("unknown command %q\n", cmd), nil
	})
	if err != nil {
		return err
	}
	_, err = rw.WriteString(out)
	if err != nil {
		return err
	}
	err = rw.WriteByte(0)
	if err != nil {
		return err
	}
	return rw.Flush()
}

func streamTrace(e *state.Env, rw *bufio.ReadWriter) error {
	trace, err := state.DispatchWait(e, func(s *state.State) (*rib.Trace, error) {
		r, ok := find[*Routing](s)
		if !ok {
			return nil, errors.New("routing is not running")
		}
		return r.Trace, nil
	})
	if err != nil {
		return err
	}
	ch, cancel := trace.Subscribe(64)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, rw.Reader)
		close(closed)
	}()

	for {
		select {
		case ev := <-ch:
			te, ok := ev.(rib.TraceEvent)
			if !ok {
				continue
			}
			if _, err := rw.WriteString(formatEvent(te)); err != nil {
				return err
			}
			if err := rw.Flush(); err != nil {
				return err
			}
		case <-closed:
			return nil
		case <-e.Context.Done():
			return nil
		}
	}
}

func formatEvent(ev rib.TraceEvent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== %s\n", ev.Kind)
	if ev.Old != nil {
		lsa.Print(&sb, ev.Old, nil)
	}
	if ev.New != nil {
		if ev.Old != nil {
			sb.WriteString("->\n")
		}
		lsa.Print(&sb, ev.New, nil)
	}
	return sb.String()
}

func find[T state.NyModule](s *state.State) (T, bool) {
	var zero T
	m, ok := s.Modules[reflect.TypeFor[T]().String()]
	if !ok {
		return zero, false
	}
	t, ok := m.(T)
	return t, ok
}

func renderStatus(s *state.State) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Node: %s\n", s.Name)
	fmt.Fprintf(&sb, "  Id: %s\n", s.Identity.ID)
	fmt.Fprintf(&sb, "  Fingerprint: %s\n", state.FingerprintOf(s.Identity.ID))
	fmt.Fprintf(&sb, "  Address: %s\n", state.GlobalAddr(s.Identity.ID))

	if m, ok := find[*Sessions](s); ok {
		sb.WriteString("\nConnect:\n")
		if len(m.Connects) == 0 {
			sb.WriteString("  (none)\n")
		}
		for _, c := range m.Connects {
			fmt.Fprintf(&sb, "  - %s on %s: %s\n", c.Name(), c.Iface().Name(), c.Phase())
		}
		sb.WriteString("\nListen:\n")
		if len(m.Listeners) == 0 {
			sb.WriteString("  (none)\n")
		}
		for _, l := range m.Listeners {
			fmt.Fprintf(&sb, "  %s (%d sessions)\n", l.Addr(), l.Sessions())
			for _, e := range l.Entries() {
				st := "down"
				if e.Connected() {
					st = "up"
				}
				fmt.Fprintf(&sb, "  - %s on %s: %s\n", e.Name(), e.Iface().Name(), st)
			}
		}
	}
	if a, ok := find[*Adjacency](s); ok && a.links != nil {
		sb.WriteString("\nAdjacencies:\n")
		if a.links.Len() == 0 {
			sb.WriteString("  (none)\n")
		}
		a.Links(func(p *AdjPeer, up bool) bool {
			st := "down"
			if up {
				st = "up"
			}
			fmt.Fprintf(&sb, "  - %s (%s): %s\n", lsa.Name(p.ID, a.loc), p.Role, st)
			return true
		})
	}
	if r, ok := find[*Routing](s); ok {
		fmt.Fprintf(&sb, "\nRIB: %d nodes, %d peers\n", r.Loc.Len(), r.Peers.Len())
	}
	return sb.String()
}

func renderRib(s *state.State) string {
	r, ok := find[*Routing](s)
	if !ok {
		return "routing is not running\n"
	}
	var sb strings.Builder
	if r.Loc.Len() == 0 {
		sb.WriteString("(empty)\n")
	}
	r.Loc.Walk(func(l *lsa.LSA) bool {
		lsa.Print(&sb, l, r.Loc)
		return true
	})

	topo, res, ok := r.Topology(s)
	if !ok {
		sb.WriteString("\nPaths: no local LSA yet\n")
		return sb.String()
	}
	sb.WriteString("\nPaths:\n")
	for i, id := range topo.IDs {
		if i == res.Source {
			continue
		}
		name := lsa.Name(id, r.Loc)
		cost, ok := res.Cost(i)
		if !ok {
			fmt.Fprintf(&sb, "  - %s unreachable\n", name)
			continue
		}
		parent, _ := res.Parent(i)
		fmt.Fprintf(&sb, "  - %s cost %d via %s\n", name, cost, lsa.Name(topo.IDs[parent], r.Loc))
	}
	return sb.String()
}

func renderPeers(s *state.State) string {
	r, ok := find[*Routing](s)
	if !ok {
		return "routing is not running\n"
	}
	var sb strings.Builder
	if r.Peers.Len() == 0 {
		sb.WriteString("(none)\n")
	}
	r.Peers.Walk(func(p *AdjPeer) bool {
		fmt.Fprintf(&sb, "  - %s %s %s (%s)\n", lsa.Name(p.ID, r.Loc), p.ID.Short(), p.Addr, p.Role)
		return true
	})
	return sb.String()
}
