package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/matiasleandrokruk/nerve/internal/domain/orch"
)

// writeJSON writes v as a JSON body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError writes the orchestrator error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, &orch.ServerError{Code: code, Message: message, Retriable: orch.Ptr(false)})
}

// writeServerError maps a backend error onto its HTTP status. Anything that
// is not an *orch.ServerError becomes a 500 with code "internal".
func writeServerError(w http.ResponseWriter, err error) {
	var se *orch.ServerError
	if !errors.As(err, &se) {
		writeError(w, http.StatusInternalServerError, orch.CodeInternal, "internal error")
		return
	}
	writeJSON(w, statusForCode(se.Code), se)
}

func statusForCode(code string) int {
	switch code {
	case orch.CodeUnknownTask:
		return http.StatusNotFound
	case orch.CodeUnknownModel, orch.CodeBadRequest:
		return http.StatusBadRequest
	case orch.CodeStreamConsumed:
		return http.StatusConflict
	case orch.CodeUnauthorized:
		return http.StatusUnauthorized
	case orch.CodeTransportUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
