package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"validation", Invalid(ErrRequired, "title", "title is required"), http.StatusBadRequest, KindValidation},
		{"wrapped validation", fmt.Errorf("save: %w", Invalid(ErrRequired, "x", "x")), http.StatusBadRequest, KindValidation},
		{"permission", PermissionDenied("no access to %s", "payment"), http.StatusForbidden, KindPermission},
		{"unauthenticated", &UnauthenticatedError{Message: "login required"}, http.StatusUnauthorized, KindUnauthorized},
		{"not found", NotFound("project %q", "01H"), http.StatusNotFound, KindNotFound},
		{"conflict", Conflict(ErrUniqueViolation, "email", "dup"), http.StatusConflict, KindConflict},
		{"configuration", Configuration("no column type for %q", "geo"), http.StatusInternalServerError, KindConfig},
		{"plain", errors.New("boom"), http.StatusInternalServerError, KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, kind := Classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestValidationError_OrNil(t *testing.T) {
	ve := Validation()
	assert.NoError(t, ve.OrNil())

	ve.Add(ErrRequired, "title", "Field 'title' is required")
	ve.Add(ErrTypeMismatch, "hours", "Field 'hours' must be decimal")
	err := ve.OrNil()
	assert.Error(t, err)
	assert.Equal(t, []string{"Field 'title' is required", "Field 'hours' must be decimal"}, ve.Messages())
}

func TestConfiguration_Unwrap(t *testing.T) {
	base := errors.New("driver said no")
	err := Configuration("apply ddl: %w", base)
	assert.True(t, errors.Is(err, base))
	assert.True(t, IsConfiguration(fmt.Errorf("compose: %w", err)))
}
