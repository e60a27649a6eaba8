package api

import (
	"errors"
	"net/http"

	"recipe-api/internal/recipes"
)

// Datastore errors are logged by the service and never shown to clients.
var errInternal = errors.New("internal server error")

// writeResult renders a service result. Successful acknowledgments carry no
// body.
func writeResult(w http.ResponseWriter, result recipes.Result) {
	switch result.Status {
	case recipes.StatusOK:
		if !result.HasBody() {
			w.WriteHeader(http.StatusOK)
			return
		}
		writeJSON(w, http.StatusOK, result.Body)
	case recipes.StatusNotFound:
		writeError(w, http.StatusNotFound, recipes.ErrRecordAbsent)
	case recipes.StatusBadRequest:
		WriteRequestError(w, ValidationError(result.Err))
	default:
		writeError(w, http.StatusInternalServerError, errInternal)
	}
}
