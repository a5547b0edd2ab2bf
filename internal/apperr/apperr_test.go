package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeValidation, CodeOf(Validation("bad input")))
	assert.Equal(t, CodeMatchClosed, CodeOf(New(CodeMatchClosed, "closed")))

	wrapped := fmt.Errorf("handler: %w", New(CodeNoSession, "none"))
	assert.Equal(t, CodeNoSession, CodeOf(wrapped))

	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
	assert.Equal(t, CodeInternal, CodeOf(Internal("db", errors.New("boom"))))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal("query failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(CodeValidation))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(CodeUnauthorized))
	assert.Equal(t, http.StatusConflict, HTTPStatus(CodeSessionActive))
	assert.Equal(t, http.StatusConflict, HTTPStatus(CodeProfileRequired))
	assert.Equal(t, http.StatusConflict, HTTPStatus(CodeMatchClosed))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(CodeNoSession))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(CodeMatchNotFound))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(CodeInternal))
}
