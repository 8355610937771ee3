package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/PortNumber53/fitmarket-payments/internal/middleware"
	"github.com/PortNumber53/fitmarket-payments/internal/models"
)

const maxRPCBody = 1 << 20

// rpcError is the wire error envelope: {"error":{"status":..., "message":...}}.
type rpcError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// statusFor classifies err into an HTTP status and RPC code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid-argument"
	case errors.Is(err, models.ErrPermissionDenied):
		return http.StatusForbidden, "permission-denied"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not-found"
	case errors.Is(err, models.ErrMissingConfiguration):
		return http.StatusPreconditionFailed, "failed-precondition"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the error envelope. Internal errors are logged and
// reported without detail.
func writeError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	code, status := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		logger.Error("rpc failed", slog.String("rpc", op), slog.Any("error", err))
		msg = "internal error"
	} else if code == http.StatusPreconditionFailed {
		logger.Warn("rpc unavailable", slog.String("rpc", op), slog.Any("error", err))
	}
	writeJSON(w, code, map[string]rpcError{"error": {Status: status, Message: msg}})
}

// decode reads a JSON request body into v. An empty body decodes as {}.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRPCBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: malformed request body: %v", models.ErrInvalidArgument, err)
	}
	return nil
}

// caller returns the authenticated caller or ErrUnauthenticated.
func caller(r *http.Request) (middleware.Caller, error) {
	c, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		return middleware.Caller{}, models.ErrUnauthenticated
	}
	return c, nil
}

func required(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", models.ErrInvalidArgument, field)
	}
	return nil
}
