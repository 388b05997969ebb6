package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	err := New(ErrNotFound, "user not found")
	assert.Equal(t, "user not found", err.Error())

	wrapped := Wrap(stderrors.New("io failure"), ErrStoreUnavailable, "failed to read file")
	assert.Equal(t, "failed to read file: io failure", wrapped.Error())
}

func TestError_Is(t *testing.T) {
	err := New(ErrNotFound, "user not found")

	// Ошибки сравниваются по коду, не по сообщению
	assert.ErrorIs(t, err, New(ErrNotFound, "other message"))
	assert.NotErrorIs(t, err, New(ErrNotReady, "user not found"))
}

func TestWrap_Unwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, ErrStoreUnavailable, "cache unavailable")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestWrap_NilError(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrInternal, "should not happen"))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrNoChange, CodeOf(New(ErrNoChange, "no effective changes")))
	assert.Equal(t, ErrInternal, CodeOf(stderrors.New("plain error")))
}

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		code   ErrorCode
		status int
	}{
		{ErrNotReady, http.StatusServiceUnavailable},
		{ErrAuthenticationFailed, http.StatusUnauthorized},
		{ErrInvalidOTP, http.StatusUnauthorized},
		{ErrNotFound, http.StatusNotFound},
		{ErrValidation, http.StatusBadRequest},
		{ErrNoChange, http.StatusBadRequest},
		{ErrStoreUnavailable, http.StatusBadGateway},
		{ErrInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, New(tt.code, "msg").HTTPStatus(), string(tt.code))
	}
}
