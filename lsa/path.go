package lsa

import "bytes"

// Prepend returns a copy of l with id prepended to its advertisement path.
func Prepend(l *LSA, id NodeID) *LSA {
	path, _ := l.AdvPath()
	n := l.Clone()
	if err := n.Set(AdvPath, nil, append(id[:], path...)); err != nil {
		panic(err)
	}
	return n
}

// PathHops splits the advertisement path into node ids. A trailing partial id is ignored.
func PathHops(l *LSA) []NodeID {
	path, _ := l.AdvPath()
	hops := make([]NodeID, 0, len(path)/NodeIDLen)
	for len(path) >= NodeIDLen {
		hops = append(hops, NodeID(path[:NodeIDLen]))
		path = path[NodeIDLen:]
	}
	return hops
}

func PathContains(l *LSA, id NodeID) bool {
	path, _ := l.AdvPath()
	for len(path) >= NodeIDLen {
		if bytes.Equal(path[:NodeIDLen], id[:]) {
			return true
		}
		path = path[NodeIDLen:]
	}
	return false
}
