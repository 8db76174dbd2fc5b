package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidationField(t *testing.T) {
	err := ValidationField("temperature", "must be between 0 and 2")
	require.Equal(t, Validation, KindOf(err))
	require.Equal(t, "temperature", err.Details["field"])
}

func TestKindOfWrapped(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(Backend, "native library call failed", base)
	require.Equal(t, Backend, KindOf(err))
	require.ErrorIs(t, err, base)
}

func TestKindOfNonAppErr(t *testing.T) {
	require.Equal(t, Internal, KindOf(errors.New("plain")))
}
