package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wonny/egp/internal/contracts"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string       `json:"error"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, kind, message string) {
	respondJSON(w, status, ErrorResponse{Error: kind, Message: message})
}

// respondFailure maps an error onto a status code.
// Pipeline failures (bad data, infeasible constraints) are the caller's problem: 422.
func respondFailure(w http.ResponseWriter, err error) {
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: reqErr.Message,
			Details: reqErr.Fields,
		})
	case contracts.IsDomainError(err):
		respondError(w, http.StatusUnprocessableEntity, contracts.ErrorKind(err), err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
