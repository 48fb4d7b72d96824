package ot

import "fmt"

// Apply yields the document that results from applying op to doc. doc and
// the returned string are plain text; Insert attributes are accepted for
// forward-compatibility with rich-text formatting but do not affect the
// plain-text content produced here. Returns ErrOutOfBounds if op's
// retain+delete span exceeds doc, and ErrMalformedOp if op is otherwise
// invalid.
func Apply(doc string, op Delta) (string, error) {
	runes := []rune(doc)
	if err := op.Validate(len(runes)); err != nil {
		return "", err
	}

	var out []rune
	pos := 0
	for _, c := range op {
		switch c.Kind {
		case KindRetain:
			if pos+c.N > len(runes) {
				return "", fmt.Errorf("%w: retain past end of document", ErrOutOfBounds)
			}
			out = append(out, runes[pos:pos+c.N]...)
			pos += c.N
		case KindInsert:
			out = append(out, []rune(c.Text)...)
		case KindDelete:
			if pos+c.N > len(runes) {
				return "", fmt.Errorf("%w: delete past end of document", ErrOutOfBounds)
			}
			pos += c.N
		default:
			return "", fmt.Errorf("%w: unknown component kind %q", ErrMalformedOp, c.Kind)
		}
	}
	out = append(out, runes[pos:]...)
	return string(out), nil
}
