package ot

// Side breaks insertion-position ties deterministically when two operations
// both insert at the same location.
type Side string

const (
	// SideLeft means other (the already-applied, server-side history) wins
	// ties: its insert is kept ahead of op's.
	SideLeft Side = "left"
	// SideRight means op wins ties: its insert is kept ahead of other's.
	SideRight Side = "right"
)

// Transform produces op' such that applying other then op' yields the same
// document as applying op then transform(other, op, opposite(side)). Both
// op and other must share the same base document. side resolves ties when
// both operations insert at the same position.
func Transform(op, other Delta, side Side) (Delta, error) {
	otherWins := side == SideLeft

	opIt := newIterator(op)
	otherIt := newIterator(other)
	b := &builder{}

	for opIt.hasNext() || otherIt.hasNext() {
		switch {
		case otherIt.peekKind() == KindInsert && (otherWins || opIt.peekKind() != KindInsert):
			c := otherIt.next(maxInt)
			b.push(Retain(c.insertedLength(), nil))

		case opIt.peekKind() == KindInsert:
			b.push(opIt.next(maxInt))

		default:
			length := minLen(opIt.peekLength(), otherIt.peekLength())
			opC := opIt.next(length)
			otherC := otherIt.next(length)

			switch {
			case otherC.Kind == KindDelete:
				// other already removed this span; op's corresponding
				// component no longer applies to anything.
			case opC.Kind == KindDelete:
				b.push(opC)
			default:
				b.push(Retain(length, opC.Attrs))
			}
		}
	}

	return b.delta(), nil
}
