package spf

import (
	"encoding/binary"

	"github.com/encodeous/dvpn/lsa"
	"github.com/encodeous/dvpn/rib"
)

const DefaultMetric = 1

// Topology is the CSPF graph of all nodes in a Local RIB, with PEER attributes as edges.
type Topology struct {
	*CSPF
	IDs   []lsa.NodeID
	index map[lsa.NodeID]int
}

// PeerEdge decodes the data of a PEER attribute: {metric u16}{type u8}. Missing fields take
// DefaultMetric and IPeer.
func PeerEdge(data []byte) (int64, EdgeType) {
	metric, t := int64(DefaultMetric), IPeer
	if len(data) >= 2 {
		metric = int64(binary.BigEndian.Uint16(data))
	}
	if len(data) >= 3 && data[2] <= uint8(IPeer) {
		t = EdgeType(data[2])
	}
	return metric, t
}

// EncodePeerEdge is the inverse of PeerEdge.
func EncodePeerEdge(metric uint16, t EdgeType) []byte {
	return []byte{byte(metric >> 8), byte(metric), byte(t)}
}

// FromRib builds the topology from the best LSA of every node. PEER attributes naming nodes
// without an LSA are ignored.
func FromRib(loc *rib.LocRib) *Topology {
	t := &Topology{CSPF: NewCSPF(), index: make(map[lsa.NodeID]int)}
	var best []*lsa.LSA
	loc.Walk(func(l *lsa.LSA) bool {
		t.index[l.ID] = t.AddNode()
		t.IDs = append(t.IDs, l.ID)
		best = append(best, l)
		return true
	})
	for _, l := range best {
		from := t.index[l.ID]
		l.Ascend(func(a *lsa.Attr) bool {
			if a.Type != lsa.Peer || len(a.Key) != lsa.NodeIDLen {
				return true
			}
			to, ok := t.index[lsa.NodeID(a.Key)]
			if !ok {
				return true
			}
			metric, et := PeerEdge(a.Data)
			// indices come from this graph, so the edge is always valid
			_ = t.AddEdge(from, to, et, metric)
			return true
		})
	}
	return t
}

func (t *Topology) Index(id lsa.NodeID) (int, bool) {
	i, ok := t.index[id]
	return i, ok
}

// RunFrom runs CSPF from id, false when id is not in the topology.
func (t *Topology) RunFrom(id lsa.NodeID) (*Result, bool) {
	i, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return t.Run(i), true
}
