package lsa

import (
	"encoding/binary"
	"fmt"
)

type encoder struct {
	dst []byte
	off int
}

func (e *encoder) append(b []byte) {
	if len(b) > len(e.dst)-e.off {
		panic("lsa: serialise buffer too small")
	}
	e.off += copy(e.dst[e.off:], b)
}

func (e *encoder) u8(v uint8) {
	e.append([]byte{v})
}

func (e *encoder) u16(v int) {
	e.append(binary.BigEndian.AppendUint16(nil, uint16(v)))
}

// EncodedSize is the number of bytes SerialiseTo writes for l with the given path prefix.
func (l *LSA) EncodedSize(prefix *NodeID) int {
	size := l.size
	if prefix != nil && l.Len() > 0 {
		size += NodeIDLen
	}
	return size
}

// SerialiseTo encodes l into dst. When prefix is set, prefix is prepended to the ADV_PATH data
// on the wire without modifying l. Nothing is written if the result would not fit.
func SerialiseTo(dst []byte, l *LSA, prefix *NodeID) (int, error) {
	size := l.EncodedSize(prefix)
	if size > MaxSize || size > len(dst) || !prefixFits(l, prefix) {
		return 0, ErrSizeExceeded
	}

	e := encoder{dst: dst[:size]}
	e.u16(size - 2)
	e.append(l.ID[:])
	l.attrs.Ascend(func(a *Attr) bool {
		e.u8(uint8(a.Type))
		if len(a.Key) > 0 {
			e.u16(keyPresent | len(a.Key))
			e.append(a.Key)
		}
		if a.Type == AdvPath && prefix != nil {
			e.u16(len(a.Data) + NodeIDLen)
			e.append(prefix[:])
		} else {
			e.u16(len(a.Data))
		}
		e.append(a.Data)
		return true
	})

	if e.off != size {
		panic(fmt.Sprintf("lsa: serialised %d bytes, expected %d", e.off, size))
	}
	return e.off, nil
}

// prefixFits reports whether the prefixed ADV_PATH length stays clear of the key-present bit.
func prefixFits(l *LSA, prefix *NodeID) bool {
	if prefix == nil {
		return true
	}
	path, _ := l.AdvPath()
	return len(path)+NodeIDLen <= MaxKeyLen
}

// Serialise returns the encoding of l, see SerialiseTo.
func Serialise(l *LSA, prefix *NodeID) ([]byte, error) {
	size := l.EncodedSize(prefix)
	if size > MaxSize || !prefixFits(l, prefix) {
		return nil, ErrSizeExceeded
	}
	buf := make([]byte, size)
	n, err := SerialiseTo(buf, l, prefix)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Deserialise parses a single encoded LSA occupying all of buf.
func Deserialise(buf []byte) (*LSA, error) {
	if len(buf) < headerLen {
		return nil, fmt.Errorf("%w: short header (%d bytes)", ErrMalformed, len(buf))
	}
	if size := int(binary.BigEndian.Uint16(buf)) + 2; size != len(buf) {
		return nil, fmt.Errorf("%w: length field %d, record %d", ErrMalformed, size, len(buf))
	}

	l := New(NodeID(buf[2:headerLen]))
	off := headerLen
	for off < len(buf) {
		t := AttrType(buf[off])
		off++

		if off+2 > len(buf) {
			return nil, fmt.Errorf("%w: truncated attribute %s", ErrMalformed, t)
		}
		v := int(binary.BigEndian.Uint16(buf[off:]))
		off += 2

		var key []byte
		if v&keyPresent != 0 {
			keylen := v &^ keyPresent
			if keylen == 0 {
				return nil, fmt.Errorf("%w: empty key on attribute %s", ErrMalformed, t)
			}
			if off+keylen+2 > len(buf) {
				return nil, fmt.Errorf("%w: key of attribute %s overflows record", ErrMalformed, t)
			}
			key = buf[off : off+keylen]
			off += keylen
			v = int(binary.BigEndian.Uint16(buf[off:]))
			off += 2
		}

		if off+v > len(buf) {
			return nil, fmt.Errorf("%w: data of attribute %s overflows record", ErrMalformed, t)
		}
		if l.Get(t, key) != nil {
			return nil, fmt.Errorf("%w: duplicate attribute %s", ErrMalformed, t)
		}
		if err := l.Set(t, key, buf[off:off+v]); err != nil {
			return nil, err
		}
		off += v
	}

	if l.size != len(buf) {
		panic(fmt.Sprintf("lsa: deserialised size %d, record %d", l.size, len(buf)))
	}
	return l, nil
}
