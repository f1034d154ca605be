package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	err := InvalidConfiguration("trials must be >= 1, got %d", 0)

	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
	assert.False(t, errors.Is(err, ErrEmptyRun))
	assert.Equal(t, "trials must be >= 1, got 0", err.Error())
}

func TestWrapKeepsType(t *testing.T) {
	base := EmptyRun("no samples")
	wrapped := fmt.Errorf("summarize: %w", Wrap(base, "aggregate run"))

	assert.True(t, Is(wrapped, ErrEmptyRun))
	assert.Equal(t, ErrorTypeEmptyRun, TypeOf(wrapped))
	assert.Equal(t, "summarize: aggregate run: no samples", wrapped.Error())
}

func TestTypeOfPlainError(t *testing.T) {
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("boom")))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(nil))
}

func TestWithType(t *testing.T) {
	err := WithType(errors.New("broker down"), ErrorTypeUnavailable)

	assert.True(t, Is(err, ErrUnavailable))
	assert.Equal(t, "unavailable", TypeOf(err).String())
	assert.Nil(t, WithType(nil, ErrorTypeUnavailable))
	assert.Nil(t, Wrap(nil, "nothing"))
}
