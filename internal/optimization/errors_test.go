package optimization

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "message only",
			err:  &Error{Message: "boom"},
			want: "boom",
		},
		{
			name: "with kind",
			err:  NewError(KindInvalidSpace, "no dimensions"),
			want: "no dimensions (InvalidSpace)",
		},
		{
			name: "component and op",
			err:  NewError(KindModelNotTrained, "predict").WithComponent("gp").WithOperation("Predict"),
			want: "gp: Predict: predict (ModelNotTrained)",
		},
		{
			name: "wrapped",
			err:  WrapError(io.EOF, "read"),
			want: "read: EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorKindsPropagate(t *testing.T) {
	base := NewErrorf(KindTypeMismatch, "unknown type %T", "BLA")
	assertKind(t, base, KindTypeMismatch, ErrTypeMismatch)

	wrapped := wrapN(WrapError(base, "constructing optimizer"), 3)
	assertKind(t, wrapped, KindTypeMismatch, ErrTypeMismatch)
	assert.False(t, errors.Is(wrapped, ErrInvalidSpace))

	assertKind(t, NewError(KindMaximizerNonconvergence, "budget"), KindMaximizerNonconvergence, ErrMaximizerNonconvergence)
	assertKind(t, io.EOF, KindUnknown, nil)
}

func TestUnknownKindOnlyMatchesItself(t *testing.T) {
	a := NewError(KindUnknown, "a")
	b := NewError(KindUnknown, "a")
	assert.True(t, errors.Is(a, a))
	assert.False(t, errors.Is(a, b))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, WrapError(nil, "x"))
	assert.Nil(t, WrapErrorf(nil, "x %d", 1))

	e, ok := IsOptimizationError(nil)
	assert.Nil(t, e)
	assert.False(t, ok)

	e, ok = IsOptimizationError(ErrInvalidInput)
	assert.True(t, ok)
	assert.Equal(t, KindInvalidInput, e.Kind)
}
