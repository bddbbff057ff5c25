package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AdamBeresnev/parlor/internal/battle"
)

type errorBody struct {
	Error string      `json:"error"`
	Code  battle.Code `json:"code,omitempty"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func InternalServerError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	JSON(w, http.StatusInternalServerError, errorBody{Error: "Internal Server Error"})
}

func BadRequest(w http.ResponseWriter, msg string, err error) {
	if err != nil {
		slog.Warn("bad request", "message", msg, "error", err)
	} else {
		slog.Warn("bad request", "message", msg)
	}
	JSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func NotFound(w http.ResponseWriter, msg string, err error) {
	if err != nil {
		slog.Warn("not found", "message", msg, "error", err)
	} else {
		slog.Warn("not found", "message", msg)
	}
	JSON(w, http.StatusNotFound, errorBody{Error: msg})
}

func Unauthorized(w http.ResponseWriter, msg string) {
	JSON(w, http.StatusUnauthorized, errorBody{Error: msg})
}

func Forbidden(w http.ResponseWriter, msg string) {
	JSON(w, http.StatusForbidden, errorBody{Error: msg, Code: battle.CodeForbidden})
}

// DomainError maps engine errors to responses: validation failures are the
// caller's fault, state errors are conflicts, anything else is ours.
func DomainError(w http.ResponseWriter, msg string, err error) {
	var v *battle.ValidationError
	if errors.As(err, &v) {
		slog.Info("rejected", "message", msg, "code", v.Code)
		JSON(w, http.StatusBadRequest, errorBody{Error: v.Message, Code: v.Code})
		return
	}
	var s *battle.StateError
	if errors.As(err, &s) {
		slog.Warn("conflict", "message", msg, "error", err)
		JSON(w, http.StatusConflict, errorBody{Error: s.Error()})
		return
	}
	InternalServerError(w, msg, err)
}
