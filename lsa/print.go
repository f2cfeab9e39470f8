package lsa

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// NameHints resolves node ids to their current LSA, used to print node names instead of ids.
type NameHints interface {
	Get(id NodeID) *LSA
}

// Name returns the NODE_NAME advertised for id, or the short hex id.
func Name(id NodeID, hints NameHints) string {
	if hints != nil {
		if l := hints.Get(id); l != nil {
			if a := l.Get(NodeName, nil); a != nil && len(a.Data) > 0 && utf8.Valid(a.Data) {
				return string(a.Data)
			}
		}
	}
	return id.Short()
}

// Print writes a human readable dump of l.
func Print(w io.Writer, l *LSA, hints NameHints) {
	fmt.Fprintf(w, "LSA [%s] %s (%d bytes)\n", Name(l.ID, hints), l.ID, l.Size())
	l.Ascend(func(a *Attr) bool {
		fmt.Fprintf(w, "  %s", a.Type)
		switch a.Type {
		case AdvPath:
			hops := PathHops(l)
			names := make([]string, len(hops))
			for i, h := range hops {
				names[i] = Name(h, hints)
			}
			fmt.Fprintf(w, " [%s]\n", strings.Join(names, " "))
			return true
		case Peer:
			if len(a.Key) == NodeIDLen {
				fmt.Fprintf(w, "[%s]", Name(NodeID(a.Key), hints))
			} else if len(a.Key) > 0 {
				fmt.Fprintf(w, "[%s]", hex.EncodeToString(a.Key))
			}
		case NodeName:
			fmt.Fprintf(w, " %q\n", a.Data)
			return true
		default:
			if len(a.Key) > 0 {
				fmt.Fprintf(w, "[%s]", hex.EncodeToString(a.Key))
			}
		}
		fmt.Fprintf(w, " %s\n", hex.EncodeToString(a.Data))
		return true
	})
}

func (l *LSA) String() string {
	var sb strings.Builder
	Print(&sb, l, nil)
	return strings.TrimRight(sb.String(), "\n")
}
