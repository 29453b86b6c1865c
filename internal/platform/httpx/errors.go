package httpx

import (
	"errors"
	"net/http"

	"github.com/compasshq/compass/internal/permission"
	"github.com/compasshq/compass/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var authErr *permission.AuthorizationError
	var valErr *permission.ValidationError
	var resErr *permission.ResolutionError

	switch {
	case errors.As(err, &authErr):
		Problem(w, http.StatusForbidden, "Forbidden", authErr.Error())
	case errors.As(err, &valErr):
		Problem(w, http.StatusBadRequest, "Invalid Permission Set", valErr.Error())
	case errors.As(err, &resErr):
		// Missing or malformed role data is an integrity violation, not a
		// client mistake.
		Problem(w, http.StatusInternalServerError, "Resolution Failed", resErr.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrMissingRole):
		Problem(w, http.StatusInternalServerError, "Resolution Failed", err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
