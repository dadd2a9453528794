package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesSentinelByCode(t *testing.T) {
	err := NotFound("No post with id: 42")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Equal(t, "No post with id: 42", MessageOf(err))
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
}

func TestWrappedErrorKeepsCode(t *testing.T) {
	cause := errors.New("duplicate key")
	err := fmt.Errorf("create post: %w", Conflict("could not create post", cause))

	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusConflict, StatusOf(err))
}

func TestUncodedErrorsAreInternal(t *testing.T) {
	err := errors.New("pq: connection refused")

	assert.Equal(t, http.StatusInternalServerError, StatusOf(err))
	assert.Equal(t, "Something went wrong", MessageOf(err))
}

func TestFromStatus(t *testing.T) {
	cases := map[int]*Error{
		http.StatusNotFound:           ErrNotFound,
		http.StatusUnauthorized:       ErrUnauthenticated,
		http.StatusForbidden:          ErrForbidden,
		http.StatusConflict:           ErrConflict,
		http.StatusBadRequest:         ErrValidation,
		http.StatusBadGateway:         ErrTransient,
		http.StatusServiceUnavailable: ErrTransient,
	}
	for status, want := range cases {
		assert.ErrorIs(t, FromStatus(status, "x"), want, "status %d", status)
	}
}
