package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/codeatlas/atlas/internal/apperr"
)

// errorEnvelope is the uniform error body.
type errorEnvelope struct {
	ErrorCode string         `json:"error_code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
	RequestID string         `json:"request_id"`
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("response encode failed",
			zap.String("path", r.URL.Path), zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)

	envelope := errorEnvelope{
		ErrorCode: string(code),
		Message:   err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestIDFrom(r.Context()),
	}
	var ae *apperr.Error
	if errors.As(err, &ae) && len(ae.Details) > 0 {
		envelope.Details = ae.Details
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("error_code", string(code)),
			zap.Error(err))
	}
	s.writeJSON(w, r, status, envelope)
}

// decodeJSON reads a bounded JSON body into dst.
func (s *Server) decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		return apperr.Wrap(apperr.CodeInvalidRequest, "invalid request body", err)
	}
	return nil
}
