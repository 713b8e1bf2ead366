package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/docshare/internal/common"
	"github.com/dmitrijs2005/docshare/internal/server/services"
)

const maxJSONBody = 1 << 20

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a service error to its HTTP status and public message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrSelfShare):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, common.ErrInvalidCredentials),
		errors.Is(err, common.ErrInvalidMFACode):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrSessionExpired):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, common.ErrAccountLocked):
		return http.StatusLocked, err.Error()
	case errors.Is(err, common.ErrPermissionDenied):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, common.ErrorNotFound),
		errors.Is(err, common.ErrAccountNotFound),
		errors.Is(err, common.ErrGrantNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, common.ErrAlreadyExists),
		errors.Is(err, common.ErrMFAAlreadyEnabled),
		errors.Is(err, common.ErrMFANotEnabled):
		return http.StatusConflict, err.Error()
	case services.IsIntegrityViolation(err):
		return http.StatusInternalServerError, "audit integrity violation"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	switch {
	case services.IsIntegrityViolation(err):
		s.logger.Error(r.Context(), "integrity violation", "integrity_violation", true, "error", err.Error(), "path", r.URL.Path)
	case status >= http.StatusInternalServerError:
		s.logger.Error(r.Context(), "request failed", "error", err.Error(), "path", r.URL.Path)
	}

	body := errorResponse{Error: msg}
	var se *services.SessionExpiredError
	if errors.As(err, &se) {
		body.Reason = string(se.Reason)
	}
	writeJSON(w, status, body)
}

// decodeBody reads a JSON body into dst and runs struct validation on it.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed body", common.ErrValidation)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", common.ErrValidation, err.Error())
	}
	return nil
}
