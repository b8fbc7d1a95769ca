package api

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "options_ledger/pkg/errors"
)

// ErrorResponse is the JSON body of every non-2xx reply
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// HTTPStatus maps an engine error to its HTTP status
func HTTPStatus(err error) int {
	switch apperrors.Kind(err) {
	case apperrors.ErrInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrInvalidState:
		return http.StatusConflict
	case apperrors.ErrUnauthorized:
		return http.StatusForbidden
	case apperrors.ErrWindowViolation, apperrors.ErrNotInTheMoney:
		return http.StatusUnprocessableEntity
	case apperrors.ErrTransferFailed:
		return http.StatusPaymentRequired
	case apperrors.ErrOracleUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorCode(err error) string {
	if kind := apperrors.Kind(err); kind != nil {
		return kind.Error()
	}
	return "internal error"
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := HTTPStatus(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", r.URL.Path, "request_id", requestID(r), "error", err)
		msg = "internal error"
	}
	writeJSON(w, code, ErrorResponse{Error: errorCode(err), Message: msg, RequestID: requestID(r)})
}

var errBadBody = errors.New("malformed request body")
