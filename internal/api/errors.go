package api

import (
	"errors"
	"net/http"

	"coursedeck/internal/reorder"
	"coursedeck/internal/storage"
)

// writeStoreError maps datastore failures onto the API's status taxonomy.
// Validation failures stay 400; everything the caller could not have known
// about gets its own status so clients can branch without parsing messages.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, storage.ErrAlreadyEnrolled), errors.Is(err, storage.ErrDepositSettled):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, storage.ErrAccountDisabled):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, reorder.ErrBoundary):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}
