package value

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruthiness(t *testing.T) {
	require.False(t, NewNull().Truthy(), "Null is falsy")
	require.False(t, NewBool(false).Truthy())
	require.True(t, NewBool(true).Truthy())
	require.True(t, Of(Integer, Handle(0)).Truthy(), "every composite is truthy regardless of contents")
}

func TestAsBoolFailsClosedOnWrongVariant(t *testing.T) {
	_, err := Of(Integer, Handle(3)).AsBool()
	var mismatch *TypeMismatchError
	require.True(t, errors.As(err, &mismatch))
	require.Equal(t, Integer, mismatch.Found)
	require.Equal(t, Boolean, mismatch.Expected)
}

func TestHandlePanicsOnInlineVariant(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Handle() on an inline variant to panic")
		}
	}()
	NewNull().Handle()
}

func TestEqualComparesByIdentityForComposites(t *testing.T) {
	a := Of(Vector, Handle(1))
	b := Of(Vector, Handle(1))
	c := Of(Vector, Handle(2))
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestEqualComparesByPayloadForInlineVariants(t *testing.T) {
	require.True(t, NewBool(true).Equal(NewBool(true)))
	require.False(t, NewBool(true).Equal(NewBool(false)))
	require.True(t, NewNull().Equal(NewNull()))
	require.False(t, NewNull().Equal(NewBool(false)), "Null is never equal to false")
}

func TestTypeStringIsStable(t *testing.T) {
	require.Equal(t, "integer", Integer.String())
	require.Equal(t, "coroutine", Coroutine.String())
}
