package ot

// iterator walks a Delta's components, letting callers peek and consume
// partial components by length — the standard technique for aligning two
// deltas component-by-component during transform/compose.
type iterator struct {
	ops    Delta
	index  int
	offset int // how much of ops[index] has already been consumed
}

func newIterator(d Delta) *iterator {
	return &iterator{ops: d}
}

func (it *iterator) hasNext() bool {
	return it.index < len(it.ops)
}

// peekLength returns the remaining length of the current component, or
// maxInt if exhausted (so callers can min() it against another iterator
// without the exhausted side appearing to force a zero-length step).
func (it *iterator) peekLength() int {
	if it.index >= len(it.ops) {
		return maxInt
	}
	return it.ops[it.index].sourceOrTextLength() - it.offset
}

func (c Component) sourceOrTextLength() int {
	if c.Kind == KindInsert {
		return c.insertedLength()
	}
	return c.N
}

func (it *iterator) peekKind() Kind {
	if it.index >= len(it.ops) {
		return ""
	}
	return it.ops[it.index].Kind
}

// next consumes up to length units of the current component and returns a
// component representing exactly that slice.
func (it *iterator) next(length int) Component {
	if it.index >= len(it.ops) {
		return Component{Kind: KindRetain, N: length}
	}

	cur := it.ops[it.index]
	startOffset := it.offset
	remaining := cur.sourceOrTextLength() - startOffset
	if length > remaining || length <= 0 {
		length = remaining
	}

	if length == remaining {
		it.index++
		it.offset = 0
	} else {
		it.offset += length
	}

	switch cur.Kind {
	case KindInsert:
		runes := []rune(cur.Text)
		return Component{Kind: KindInsert, Text: string(runes[startOffset : startOffset+length]), Attrs: cur.Attrs}
	case KindRetain:
		return Component{Kind: KindRetain, N: length, Attrs: cur.Attrs}
	case KindDelete:
		return Component{Kind: KindDelete, N: length}
	default:
		return Component{Kind: KindRetain, N: length}
	}
}

const maxInt = int(^uint(0) >> 1)
