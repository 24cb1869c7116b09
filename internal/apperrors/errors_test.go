package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCodes(t *testing.T) {
	cases := map[*AppError]int{
		NewValidation("age", "age is required"): http.StatusBadRequest,
		NewNotFound("meal plan", "p1"):          http.StatusNotFound,
		NewQuotaExceeded("limit reached"):       http.StatusTooManyRequests,
		NewUnauthorized("no token"):             http.StatusUnauthorized,
		NewDatabase("load", errors.New("boom")): http.StatusInternalServerError,
	}
	for appErr, want := range cases {
		assert.Equal(t, want, appErr.StatusCode(), appErr.Error())
	}
}

func TestAsUnwrapsWrappedAppError(t *testing.T) {
	base := NewValidation("sex", "sex is required")
	wrapped := fmt.Errorf("generate: %w", base)

	got := As(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, CodeValidationFailed, got.Code)
	assert.Equal(t, "sex", got.Metadata["field"])
}

func TestAsWrapsPlainErrors(t *testing.T) {
	cause := errors.New("disk full")
	got := As(cause)

	assert.Equal(t, CodeInternal, got.Code)
	assert.ErrorIs(t, got, cause)
}
