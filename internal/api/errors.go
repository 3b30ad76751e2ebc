package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"clinicflow/internal/core"
	"clinicflow/pkg/domain"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code       string             `json:"code"`
	Message    string             `json:"message"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

var errBadRequest = errors.New("bad request")

type badRequestError struct {
	msg string
}

func (e badRequestError) Error() string { return e.msg }
func (e badRequestError) Unwrap() error { return errBadRequest }

func badRequest(msg string) error { return badRequestError{msg: msg} }

// statusFor maps action errors onto HTTP status codes and stable error codes.
func statusFor(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Message: err.Error()}
	var violation domain.RuleViolationError
	switch {
	case core.IsNotFound(err):
		resp.Code = "NOT_FOUND"
		return http.StatusNotFound, resp
	case errors.Is(err, core.ErrConsentRequired):
		resp.Code = "CONSENT_REQUIRED"
		return http.StatusConflict, resp
	case errors.Is(err, core.ErrNoActivePlan):
		resp.Code = "NO_ACTIVE_PLAN"
		return http.StatusConflict, resp
	case errors.As(err, &violation):
		resp.Code = "RULE_VIOLATION"
		resp.Violations = violation.Result.Violations
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, core.ErrUnknownAssessment):
		resp.Code = "UNKNOWN_ASSESSMENT"
		return http.StatusBadRequest, resp
	case errors.Is(err, core.ErrNoteIndex):
		resp.Code = "NOTE_INDEX"
		return http.StatusBadRequest, resp
	case errors.Is(err, errBadRequest):
		resp.Code = "BAD_REQUEST"
		return http.StatusBadRequest, resp
	default:
		resp.Code = "INTERNAL"
		resp.Message = "internal server error"
		return http.StatusInternalServerError, resp
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, resp)
}
