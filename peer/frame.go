package peer

import "encoding/binary"

// Records sent by the connecting side are {u16 len}{payload}, records sent by the listening
// side carry an additional leading zero byte: {0}{u16 len}{payload}.

var (
	connectKeepalive = []byte{0, 0}
	listenKeepalive  = []byte{0, 0, 0}
)

func encodeConnectFrame(pkt []byte) []byte {
	rec := make([]byte, 2, 2+len(pkt))
	binary.BigEndian.PutUint16(rec, uint16(len(pkt)))
	return append(rec, pkt...)
}

func decodeConnectFrame(rec []byte) ([]byte, bool) {
	if len(rec) <= 2 {
		return nil, false
	}
	if int(binary.BigEndian.Uint16(rec))+2 != len(rec) {
		return nil, false
	}
	return rec[2:], true
}

func encodeListenFrame(pkt []byte) []byte {
	rec := make([]byte, 3, 3+len(pkt))
	binary.BigEndian.PutUint16(rec[1:], uint16(len(pkt)))
	return append(rec, pkt...)
}

func decodeListenFrame(rec []byte) ([]byte, bool) {
	if len(rec) <= 3 || rec[0] != 0 {
		return nil, false
	}
	if int(binary.BigEndian.Uint16(rec[1:]))+3 != len(rec) {
		return nil, false
	}
	return rec[3:], true
}
