package ot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_SimpleInsert(t *testing.T) {
	doc := ""
	op := Delta{Insert("Hello", nil)}

	out, err := Apply(doc, op)
	require.NoError(t, err)
	assert.Equal(t, "Hello", out)
}

func TestApply_RetainInsertRetain(t *testing.T) {
	doc := "Hello world"
	op := Delta{Retain(5, nil), Insert(",", nil), Retain(6, nil)}

	out, err := Apply(doc, op)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", out)
}

func TestApply_DeleteEntireDocument(t *testing.T) {
	doc := "Hello"
	op := Delta{Delete(5)}

	out, err := Apply(doc, op)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestApply_EmptyOpIsNoop(t *testing.T) {
	doc := "unchanged"
	out, err := Apply(doc, Delta{})
	require.NoError(t, err)
	assert.Equal(t, doc, out)
}

func TestApply_OutOfBoundsRejected(t *testing.T) {
	doc := "short"
	op := Delta{Retain(100, nil)}

	_, err := Apply(doc, op)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestApply_DeletePastEndRejected(t *testing.T) {
	doc := "short"
	op := Delta{Delete(100)}

	_, err := Apply(doc, op)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestTransform_NoopOther(t *testing.T) {
	op := Delta{Retain(5, nil), Insert("X", nil)}

	result, err := Transform(op, Delta{}, SideLeft)
	require.NoError(t, err)
	assert.Equal(t, op, result)
}

func TestTransform_ConcurrentInsertSamePosition(t *testing.T) {
	// Scenario 2: both A and B start from "Hello" (base version 1) and
	// insert at position 5. A inserts " world", B inserts "!". Whichever
	// op the Reconciler sees first, the other is transformed against it
	// (opposite side for the transform run on top of the first-applied
	// op, per the round-trip law) and both paths must converge.
	base := "Hello"
	a := Delta{Retain(5, nil), Insert(" world", nil)}
	b := Delta{Retain(5, nil), Insert("!", nil)}

	docAfterA, err := Apply(base, a)
	require.NoError(t, err)
	bPrime, err := Transform(b, a, SideRight)
	require.NoError(t, err)
	finalFromA, err := Apply(docAfterA, bPrime)
	require.NoError(t, err)

	docAfterB, err := Apply(base, b)
	require.NoError(t, err)
	aPrime, err := Transform(a, b, SideLeft)
	require.NoError(t, err)
	finalFromB, err := Apply(docAfterB, aPrime)
	require.NoError(t, err)

	assert.Equal(t, finalFromA, finalFromB, "both interleavings must converge")
	assert.Equal(t, "Hello! world", finalFromA)
}

func TestTransform_RoundTripLaw(t *testing.T) {
	// apply(apply(d, a), transform(b, a, right)) == apply(apply(d, b), transform(a, b, left))
	d := "Hello world"
	a := Delta{Retain(5, nil), Insert(",", nil), Retain(6, nil)}
	b := Delta{Retain(11, nil), Insert("!", nil)}

	dAfterA, err := Apply(d, a)
	require.NoError(t, err)
	bPrime, err := Transform(b, a, SideRight)
	require.NoError(t, err)
	lhs, err := Apply(dAfterA, bPrime)
	require.NoError(t, err)

	dAfterB, err := Apply(d, b)
	require.NoError(t, err)
	aPrime, err := Transform(a, b, SideLeft)
	require.NoError(t, err)
	rhs, err := Apply(dAfterB, aPrime)
	require.NoError(t, err)

	assert.Equal(t, lhs, rhs)
}

func TestTransform_DeleteAgainstDelete(t *testing.T) {
	doc := "Hello world"
	a := Delta{Retain(5, nil), Delete(1), Retain(5, nil)} // delete the space
	b := Delta{Retain(6, nil), Delete(5)}                 // delete "world"

	docAfterA, err := Apply(doc, a)
	require.NoError(t, err)
	bPrime, err := Transform(b, a, SideLeft)
	require.NoError(t, err)
	finalFromA, err := Apply(docAfterA, bPrime)
	require.NoError(t, err)

	docAfterB, err := Apply(doc, b)
	require.NoError(t, err)
	aPrime, err := Transform(a, b, SideLeft)
	require.NoError(t, err)
	finalFromB, err := Apply(docAfterB, aPrime)
	require.NoError(t, err)

	assert.Equal(t, finalFromA, finalFromB)
	assert.Equal(t, "Hello", finalFromA)
}

func TestCompose_NoopFirst(t *testing.T) {
	op := Delta{Insert("X", nil)}

	result, err := Compose(Delta{}, op)
	require.NoError(t, err)
	assert.Equal(t, op, result)
}

func TestCompose_InsertThenDeleteCancels(t *testing.T) {
	op1 := Delta{Insert("Hello", nil)}
	op2 := Delta{Delete(5)}

	result, err := Compose(op1, op2)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestCompose_EquivalentToSequentialApply(t *testing.T) {
	doc := "Hello world"
	op1 := Delta{Retain(5, nil), Insert(",", nil), Retain(6, nil)}
	op2 := Delta{Retain(12, nil), Insert("!", nil)}

	sequential, err := Apply(doc, op1)
	require.NoError(t, err)
	sequential, err = Apply(sequential, op2)
	require.NoError(t, err)

	composed, err := Compose(op1, op2)
	require.NoError(t, err)
	composedResult, err := Apply(doc, composed)
	require.NoError(t, err)

	assert.Equal(t, sequential, composedResult)
}

func TestDelta_JSONRoundTrip(t *testing.T) {
	op := Delta{
		Retain(5, map[string]interface{}{"bold": true}),
		Insert("hi", nil),
		Delete(2),
	}

	data, err := json.Marshal(op)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"retain":5`)

	var decoded Delta
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, op, decoded)
}

func TestComponent_UnmarshalRejectsMalformed(t *testing.T) {
	var c Component
	err := json.Unmarshal([]byte(`{"retain":5,"insert":"x"}`), &c)
	assert.ErrorIs(t, err, ErrMalformedOp)
}

func TestComponent_UnmarshalRejectsNegativeLength(t *testing.T) {
	var c Component
	err := json.Unmarshal([]byte(`{"retain":-1}`), &c)
	assert.ErrorIs(t, err, ErrMalformedOp)
}

func TestDelta_MalformedJSONRejected(t *testing.T) {
	var d Delta
	err := json.Unmarshal([]byte(`"not-an-array"`), &d)
	assert.Error(t, err)
}

func TestDelta_IsNoop(t *testing.T) {
	assert.True(t, Delta{}.IsNoop())
	assert.True(t, Delta{Retain(5, nil)}.IsNoop())
	assert.False(t, Delta{Insert("x", nil)}.IsNoop())
	assert.False(t, Delta{Delete(1)}.IsNoop())
	assert.False(t, Delta{Retain(5, map[string]interface{}{"bold": true})}.IsNoop())
}

func TestDelta_Validate_RejectsOversizedSpan(t *testing.T) {
	op := Delta{Retain(3, nil), Delete(5)}
	err := op.Validate(5)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}
