package lsa

import "bytes"

// Diff walks the attributes of old and new in order and reports the attributes only in new
// (onAdd), only in old (onDel), and present in both with different data (onMod). Either LSA
// may be nil. With a nil onMod, a changed attribute is reported as a delete followed by an add.
func Diff(old, new *LSA, onAdd func(a *Attr), onMod func(old, new *Attr), onDel func(a *Attr)) {
	var a, b []*Attr
	if old != nil {
		a = old.Attrs()
	}
	if new != nil {
		b = new.Attrs()
	}

	emit := func(fn func(*Attr), attr *Attr) {
		if fn != nil {
			fn(attr)
		}
	}

	for len(a) > 0 || len(b) > 0 {
		var c int
		switch {
		case len(a) == 0:
			c = 1
		case len(b) == 0:
			c = -1
		default:
			c = compareAttr(a[0], b[0])
		}

		switch {
		case c < 0:
			emit(onDel, a[0])
			a = a[1:]
		case c > 0:
			emit(onAdd, b[0])
			b = b[1:]
		default:
			if !bytes.Equal(a[0].Data, b[0].Data) {
				if onMod != nil {
					onMod(a[0], b[0])
				} else {
					emit(onDel, a[0])
					emit(onAdd, b[0])
				}
			}
			a, b = a[1:], b[1:]
		}
	}
}
