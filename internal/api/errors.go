package api

import (
	"net/http"

	apperrors "github.com/vaidashi/order-processing-api/pkg/errors"
)

// statusForError maps an error kind to its HTTP status. Errors that are not
// AppErrors are infrastructure failures.
func statusForError(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindInvalidStateTransition:
		return http.StatusBadRequest
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
