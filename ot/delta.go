// Package ot implements the operational-transform algebra the Reconciliation
// Engine uses to serialise concurrent edits on a document into one canonical
// stream: a sum-typed Delta, and transform/apply/compose over it.
package ot

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedOp is returned when a Delta fails structural validation —
// routed to the DLQ by the Reconciliation Engine rather than panicking.
var ErrMalformedOp = errors.New("malformed operation")

// ErrOutOfBounds is returned when an operation's retained+deleted span
// exceeds the document it is applied to.
var ErrOutOfBounds = errors.New("operation exceeds document bounds")

// Kind tags which variant a Component holds.
type Kind string

const (
	KindRetain Kind = "retain"
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

// Component is one primitive edit component: Retain(N), Insert(Text, Attrs)
// or Delete(N). Exactly one of N (for retain/delete) or Text (for insert)
// is meaningful for a given Kind.
type Component struct {
	Kind  Kind
	N     int
	Text  string
	Attrs map[string]interface{}
}

// Retain builds a retain component of length n, optionally applying a
// formatting-only attribute change over the retained span.
func Retain(n int, attrs map[string]interface{}) Component {
	return Component{Kind: KindRetain, N: n, Attrs: attrs}
}

// Insert builds an insert component carrying text and optional attributes.
func Insert(text string, attrs map[string]interface{}) Component {
	return Component{Kind: KindInsert, Text: text, Attrs: attrs}
}

// Delete builds a delete component of length n.
func Delete(n int) Component {
	return Component{Kind: KindDelete, N: n}
}

// Delta is a sequence of Components describing one edit.
type Delta []Component

// wireComponent is the JSON wire shape: {"retain":5,"attributes":{...}} or
// {"insert":"text","attributes":{...}} or {"delete":3}.
type wireComponent struct {
	Retain     *int                   `json:"retain,omitempty"`
	Insert     *string                `json:"insert,omitempty"`
	Delete     *int                   `json:"delete,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// MarshalJSON renders a Component in the wire tagged-variant shape.
func (c Component) MarshalJSON() ([]byte, error) {
	w := wireComponent{Attributes: c.Attrs}
	switch c.Kind {
	case KindRetain:
		n := c.N
		w.Retain = &n
	case KindInsert:
		t := c.Text
		w.Insert = &t
	case KindDelete:
		n := c.N
		w.Delete = &n
	default:
		return nil, fmt.Errorf("%w: unknown component kind %q", ErrMalformedOp, c.Kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses a Component from its wire tagged-variant shape.
func (c *Component) UnmarshalJSON(data []byte) error {
	var w wireComponent
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOp, err)
	}

	set := 0
	if w.Retain != nil {
		set++
	}
	if w.Insert != nil {
		set++
	}
	if w.Delete != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: component must set exactly one of retain/insert/delete", ErrMalformedOp)
	}

	switch {
	case w.Retain != nil:
		if *w.Retain < 0 {
			return fmt.Errorf("%w: negative retain length", ErrMalformedOp)
		}
		*c = Component{Kind: KindRetain, N: *w.Retain, Attrs: w.Attributes}
	case w.Insert != nil:
		*c = Component{Kind: KindInsert, Text: *w.Insert, Attrs: w.Attributes}
	case w.Delete != nil:
		if *w.Delete < 0 {
			return fmt.Errorf("%w: negative delete length", ErrMalformedOp)
		}
		*c = Component{Kind: KindDelete, N: *w.Delete, Attrs: w.Attributes}
	}
	return nil
}

// sourceLength returns the number of positions in the source document this
// component spans: retain/delete span N, insert spans zero (it only adds).
func (c Component) sourceLength() int {
	switch c.Kind {
	case KindRetain, KindDelete:
		return c.N
	default:
		return 0
	}
}

// insertedLength returns the number of runes this component contributes to
// the resulting document.
func (c Component) insertedLength() int {
	if c.Kind == KindInsert {
		return len([]rune(c.Text))
	}
	return 0
}

// Validate checks structural well-formedness: non-negative lengths and
// that retained+deleted span does not exceed docLen runes.
func (d Delta) Validate(docLen int) error {
	span := 0
	for _, c := range d {
		switch c.Kind {
		case KindRetain, KindDelete:
			if c.N < 0 {
				return fmt.Errorf("%w: negative length in %s", ErrMalformedOp, c.Kind)
			}
			span += c.N
		case KindInsert:
			// no span contribution
		default:
			return fmt.Errorf("%w: unknown component kind %q", ErrMalformedOp, c.Kind)
		}
	}
	if span > docLen {
		return fmt.Errorf("%w: span %d exceeds document length %d", ErrOutOfBounds, span, docLen)
	}
	return nil
}

// IsNoop reports whether the delta has no observable effect: it holds only
// retains without attributes, empty inserts and zero-length deletes (an
// empty delta included). Retain lengths are not checked against any
// document.
func (d Delta) IsNoop() bool {
	for _, c := range d {
		switch c.Kind {
		case KindInsert:
			if c.Text != "" {
				return false
			}
		case KindDelete:
			if c.N != 0 {
				return false
			}
		case KindRetain:
			if len(c.Attrs) != 0 {
				return false
			}
		}
	}
	return true
}
