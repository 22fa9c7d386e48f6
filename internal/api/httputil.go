package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/altairalabs/finguard/internal/fgerr"
)

const headerContentType = "Content-Type"
const contentTypeJSON = "application/json"

// ErrorResponse is the JSON body written for a failed request. It carries no
// stack trace or internal path, per spec.md's user-visible error contract.
type ErrorResponse struct {
	Error                string `json:"error"`
	Reason               string `json:"reason,omitempty"`
	RequiredRole         string `json:"requiredRole,omitempty"`
	RequiredConsentLevel string `json:"requiredConsentLevel,omitempty"`
	RequestID            string `json:"requestId,omitempty"`
}

var errMissingBody = errors.New("api: request body required")

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func readJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errMissingBody
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return errMissingBody
	}
	return nil
}

// writeError maps a component error to an HTTP status and writes a JSON
// ErrorResponse, matching spec.md §7's error taxonomy.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var decErr *fgerr.DecisionError
	if errors.As(err, &decErr) {
		writeJSON(w, statusFor(decErr.Kind), ErrorResponse{
			Error:                decErr.Error(),
			Reason:               decErr.Reason,
			RequiredRole:         decErr.RequiredRole,
			RequiredConsentLevel: decErr.RequiredConsentLevel,
			RequestID:            decErr.RequestID,
		})
		return
	}

	status = statusFor(err)
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, fgerr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, fgerr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fgerr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, fgerr.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, fgerr.ErrNotApproved):
		return http.StatusPreconditionFailed
	case errors.Is(err, fgerr.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, fgerr.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, fgerr.ErrConsentInsufficient):
		return http.StatusForbidden
	case errors.Is(err, fgerr.ErrIntegrity):
		return http.StatusInternalServerError
	case errors.Is(err, fgerr.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, fgerr.ErrEvaluation):
		return http.StatusInternalServerError
	case errors.Is(err, errMissingBody):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
