package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCodes(t *testing.T) {
	cause := errors.New("cause")
	tests := []struct {
		err    error
		status int
		cat    Category
	}{
		{BadRequestError(cause, "bad"), http.StatusBadRequest, CategoryDataError},
		{UnAuthorizedError(cause, "invalid credentials"), http.StatusUnauthorized, CategoryUnauthorized},
		{ForbiddenError(cause, "no"), http.StatusForbidden, CategoryForbidden},
		{ResourceNotFoundError(cause, "missing"), http.StatusNotFound, CategoryResourceNotFound},
		{ConflictError(cause, "dup"), http.StatusConflict, CategoryDataConflict},
		{UnavailableError(cause, "halted"), http.StatusServiceUnavailable, CategoryRecovering},
		{GeneralError(cause), http.StatusInternalServerError, CategoryGeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.cat.String(), func(t *testing.T) {
			var svcErr *ServiceError
			assert.True(t, errors.As(tt.err, &svcErr))
			assert.Equal(t, tt.status, svcErr.StatusCode())
			assert.True(t, Is(tt.err, tt.cat))
			assert.Equal(t, tt.cat, CategoryOf(tt.err))
			assert.ErrorIs(t, tt.err, cause)
		})
	}
}

func TestWrappedServiceErrorKeepsCategory(t *testing.T) {
	err := fmt.Errorf("login: %w", UnAuthorizedError(nil, "invalid credentials"))
	assert.True(t, Is(err, CategoryUnauthorized))
	assert.False(t, IsInternalError(err))
	assert.True(t, IsInternalError(errors.New("db down")))
	assert.Equal(t, CategoryGeneralError, CategoryOf(errors.New("db down")))
	assert.Equal(t, CategoryNoError, CategoryOf(nil))
}

func TestGeneralErrorHidesCause(t *testing.T) {
	err := GeneralError(errors.New("pq: relation users does not exist"))
	var svcErr *ServiceError
	assert.True(t, errors.As(err, &svcErr))
	assert.Equal(t, "Internal Server Error", svcErr.Message)
}
