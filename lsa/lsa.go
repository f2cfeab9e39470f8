// Package lsa holds the link-state advertisement data model and its TLV wire codec.
package lsa

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/btree"
)

const (
	// NodeIDLen is the length of a node id, the SHA-256 key id of the node's public key.
	NodeIDLen = 32
	// MaxSize bounds the encoded size of an LSA, including the leading length field.
	MaxSize = 65535

	MaxKeyLen  = 0x7fff
	MaxDataLen = 0xffff

	keyPresent = 0x8000
	headerLen  = 2 + NodeIDLen
)

var (
	ErrSizeExceeded = errors.New("lsa: encoded size exceeds limit")
	ErrAttrTooLarge = errors.New("lsa: attribute key or data too long")
	ErrMalformed    = errors.New("lsa: malformed record")
)

type NodeID [NodeIDLen]byte

func (id NodeID) Compare(o NodeID) int {
	return bytes.Compare(id[:], o[:])
}

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 4 bytes of the id in hex, for logs.
func (id NodeID) Short() string {
	return hex.EncodeToString(id[:4])
}

type AttrType uint8

const (
	AdvPath AttrType = iota
	Peer
	NodeName
	Version
)

func (t AttrType) String() string {
	switch t {
	case AdvPath:
		return "ADV_PATH"
	case Peer:
		return "PEER"
	case NodeName:
		return "NODE_NAME"
	case Version:
		return "VERSION"
	default:
		return fmt.Sprintf("type-%d", uint8(t))
	}
}

// Attr is a single attribute. Attributes are never mutated once stored in an LSA.
type Attr struct {
	Type AttrType
	// Key is absent when empty.
	Key  []byte
	Data []byte
}

func (a *Attr) encodedSize() int {
	n := 1 + 2 + len(a.Data)
	if len(a.Key) > 0 {
		n += 2 + len(a.Key)
	}
	return n
}

func attrLess(a, b *Attr) bool {
	return compareAttr(a, b) < 0
}

// compareAttr orders attributes by type, then key length, then key bytes.
func compareAttr(a, b *Attr) int {
	if a.Type != b.Type {
		if a.Type < b.Type {
			return -1
		}
		return 1
	}
	if len(a.Key) != len(b.Key) {
		if len(a.Key) < len(b.Key) {
			return -1
		}
		return 1
	}
	return bytes.Compare(a.Key, b.Key)
}

type LSA struct {
	ID    NodeID
	attrs *btree.BTreeG[*Attr]
	size  int
}

func New(id NodeID) *LSA {
	return &LSA{
		ID:    id,
		attrs: btree.NewG(4, attrLess),
		size:  headerLen,
	}
}

// Size is the encoded size without a path prefix. It may exceed MaxSize, in which case
// the LSA cannot be serialised.
func (l *LSA) Size() int {
	return l.size
}

func (l *LSA) Len() int {
	return l.attrs.Len()
}

func (l *LSA) Get(t AttrType, key []byte) *Attr {
	a, ok := l.attrs.Get(&Attr{Type: t, Key: key})
	if !ok {
		return nil
	}
	return a
}

// Set adds or replaces the attribute (t, key). A keyless attribute is limited to
// MaxKeyLen bytes of data, since a longer length would carry the key-present bit.
func (l *LSA) Set(t AttrType, key, data []byte) error {
	if len(key) > MaxKeyLen || len(data) > MaxDataLen {
		return ErrAttrTooLarge
	}
	if len(key) == 0 && len(data) > MaxKeyLen {
		return ErrAttrTooLarge
	}
	a := &Attr{Type: t, Data: bytes.Clone(data)}
	if len(key) > 0 {
		a.Key = bytes.Clone(key)
	}
	if a.Data == nil {
		a.Data = []byte{}
	}
	if old, ok := l.attrs.ReplaceOrInsert(a); ok {
		l.size -= old.encodedSize()
	}
	l.size += a.encodedSize()
	return nil
}

func (l *LSA) Delete(t AttrType, key []byte) bool {
	old, ok := l.attrs.Delete(&Attr{Type: t, Key: key})
	if ok {
		l.size -= old.encodedSize()
	}
	return ok
}

// Ascend walks attributes in wire order.
func (l *LSA) Ascend(fn func(a *Attr) bool) {
	l.attrs.Ascend(fn)
}

func (l *LSA) Attrs() []*Attr {
	out := make([]*Attr, 0, l.attrs.Len())
	l.attrs.Ascend(func(a *Attr) bool {
		out = append(out, a)
		return true
	})
	return out
}

// Clone returns a copy that can be modified without affecting l.
func (l *LSA) Clone() *LSA {
	return &LSA{
		ID:    l.ID,
		attrs: l.attrs.Clone(),
		size:  l.size,
	}
}

// AdvPath returns the advertisement path, the concatenated node ids the LSA traversed.
func (l *LSA) AdvPath() ([]byte, bool) {
	a := l.Get(AdvPath, nil)
	if a == nil {
		return nil, false
	}
	return a.Data, true
}

// Equal reports whether both LSAs carry the same id and attributes.
func (l *LSA) Equal(o *LSA) bool {
	if l.ID != o.ID || l.size != o.size || l.Len() != o.Len() {
		return false
	}
	a, b := l.Attrs(), o.Attrs()
	for i := range a {
		if compareAttr(a[i], b[i]) != 0 || !bytes.Equal(a[i].Data, b[i].Data) {
			return false
		}
	}
	return true
}
