package ot

// Compose collapses two sequential deltas — op1 applied then op2 — into a
// single equivalent delta: apply(doc, op1) then apply(result, op2) equals
// apply(doc, Compose(op1, op2)). Used to collapse same-user ops before they
// enter the op ring.
func Compose(op1, op2 Delta) (Delta, error) {
	it1 := newIterator(op1)
	it2 := newIterator(op2)
	b := &builder{}

	for it1.hasNext() || it2.hasNext() {
		switch {
		case it2.peekKind() == KindInsert:
			b.push(it2.next(maxInt))

		case it1.peekKind() == KindDelete:
			b.push(it1.next(maxInt))

		default:
			length := minLen(it1.peekLength(), it2.peekLength())
			c1 := it1.next(length)
			c2 := it2.next(length)

			switch c2.Kind {
			case KindRetain:
				merged := mergeAttrs(c1.Attrs, c2.Attrs)
				if c1.Kind == KindInsert {
					b.push(Component{Kind: KindInsert, Text: c1.Text, Attrs: merged})
				} else {
					b.push(Component{Kind: KindRetain, N: length, Attrs: merged})
				}
			case KindDelete:
				if c1.Kind == KindRetain {
					b.push(c2)
				}
				// c1 insert + c2 delete cancel out: contributes nothing.
			}
		}
	}

	return b.delta(), nil
}
