package state

import (
	"net/netip"

	"github.com/encodeous/dvpn/lsa"
)

// LinkLocal is the fe80::/10 address a listen entry assigns, built from key id bytes 2..15.
func LinkLocal(id lsa.NodeID) netip.Prefix {
	var a [16]byte
	copy(a[:], id[:16])
	a[0], a[1] = 0xfe, 0x80
	return netip.PrefixFrom(netip.AddrFrom16(a), 10)
}

// LinkLocalConnect is the fe80::/10 address a connect session assigns. The key id
// follows the fe80 prefix, so bytes 0..13 are kept.
func LinkLocalConnect(id lsa.NodeID) netip.Prefix {
	var a [16]byte
	a[0], a[1] = 0xfe, 0x80
	copy(a[2:], id[:14])
	return netip.PrefixFrom(netip.AddrFrom16(a), 10)
}

func globalFrom(b []byte) netip.Addr {
	var a [16]byte
	copy(a[4:], b[4:16])
	a[0], a[1], a[2], a[3] = 0x20, 0x01, 0x00, 0x2f
	return netip.AddrFrom16(a)
}

// GlobalAddr is the 2001:2f::/32 overlay address of a node.
func GlobalAddr(id lsa.NodeID) netip.Addr {
	return globalFrom(id[:])
}

func GlobalPrefix(id lsa.NodeID) netip.Prefix {
	return netip.PrefixFrom(GlobalAddr(id), 128)
}

// PeerGlobalPrefix derives a peer's overlay /128 from its fingerprint alone.
func PeerGlobalPrefix(fp Fingerprint) netip.Prefix {
	return netip.PrefixFrom(globalFrom(fp[:]), 128)
}
