package apierr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		code Code
		want int
	}{
		{"invalid input", CodeInvalidInput, 400},
		{"unauthorized", CodeUnauthorized, 401},
		{"not found", CodeNotFound, 404},
		{"conflict", CodeConflict, 409},
		{"internal", CodeInternal, 500},
		{"unknown code", Code("SOMETHING_ELSE"), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestErrorMessage(t *testing.T) {
	e := New(CodeInvalidInput, "title is required")
	assert.Equal(t, "INVALID_INPUT: title is required", e.Error())

	wrapped := Wrap(CodeInternal, "an internal error occurred", errors.New("db timeout"))
	assert.Equal(t, "INTERNAL: an internal error occurred: db timeout", wrapped.Error())
	assert.Equal(t, "db timeout", errors.Unwrap(wrapped).Error())
}

func TestShorthandConstructors(t *testing.T) {
	assert.Equal(t, CodeInvalidInput, Invalid("bad %s", "input").Code)
	assert.Equal(t, CodeNotFound, NotFound("listing %s", "123").Code)
	assert.Equal(t, CodeUnauthorized, Unauthorized("nope").Code)
	assert.Equal(t, CodeConflict, Conflict("already exists").Code)

	internal := Internal(errors.New("boom"))
	assert.Equal(t, CodeInternal, internal.Code)
	assert.Equal(t, "an internal error occurred", internal.Message)
	assert.EqualError(t, internal.Cause, "boom")
}

func TestAs(t *testing.T) {
	assert.Nil(t, As(nil))

	apiErr := NotFound("missing")
	assert.Same(t, apiErr, As(apiErr))

	plain := errors.New("unexpected")
	wrapped := As(plain)
	assert.Equal(t, CodeInternal, wrapped.Code)
	assert.Same(t, plain, wrapped.Cause)
}
