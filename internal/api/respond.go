package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"classlens/internal/engagement"
	"classlens/internal/report"
	"classlens/internal/session"
	"classlens/pkg/interfaces"
	"classlens/pkg/types"
)

// maxBodyBytes bounds request bodies; detail payloads are small JSON objects
const maxBodyBytes = 64 * 1024

type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads one JSON object into v, rejecting unknown fields and trailing data
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &requestError{msg: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return &requestError{msg: "request body must contain a single JSON object"}
	}
	return nil
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

// statusFor maps sentinel errors to HTTP status codes
// ARCHITECTURAL DISCOVERY: Client input errors are 4xx and carry their message,
// collaborator failures collapse into a generic 500
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr),
		types.IsValidationError(err),
		errors.Is(err, types.ErrInvalidScore),
		errors.Is(err, engagement.ErrInvalidDetail),
		errors.Is(err, session.ErrInvalidSessionName),
		errors.Is(err, session.ErrInvalidTeacherID),
		errors.Is(err, session.ErrInvalidJoinCode),
		errors.Is(err, report.ErrMissingTeacher),
		errors.Is(err, report.ErrMissingStudent):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrUnauthorized), errors.Is(err, engagement.ErrMissingIdentity):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionAlreadyEnded):
		return http.StatusConflict
	case errors.Is(err, engagement.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the status statusFor picks
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, status, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := ErrorResponse{Error: err.Error()}
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	writeJSON(w, status, resp)
}
