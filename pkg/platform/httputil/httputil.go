// Package httputil writes JSON responses and maps domain errors to HTTP.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "meshgate/pkg/domain-errors"
)

// Category tells clients what to do about an error: log in again, ask for
// access, retry later, or fix the request.
type Category string

const (
	CategoryCredential    Category = "credential"
	CategoryAuthorization Category = "authorization"
	CategoryTransient     Category = "transient"
	CategoryRequest       Category = "request"
	CategoryServer        Category = "server"
)

type errorBody struct {
	Error       string   `json:"error"`
	Description string   `json:"error_description,omitempty"`
	Category    Category `json:"category"`
}

// StatusFor maps a domain error code to an HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeValidation:
		return http.StatusUnprocessableEntity
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeInvalidState:
		return http.StatusConflict
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CategoryFor groups codes into client-actionable categories.
func CategoryFor(code dErrors.Code) Category {
	switch code {
	case dErrors.CodeUnauthorized:
		return CategoryCredential
	case dErrors.CodeForbidden:
		return CategoryAuthorization
	case dErrors.CodeTimeout, dErrors.CodeUnavailable:
		return CategoryTransient
	case dErrors.CodeInternal, dErrors.CodeInvariantViolation:
		return CategoryServer
	default:
		return CategoryRequest
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteRawJSON writes an already-encoded JSON document.
func WriteRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// WriteError writes err as {"error","error_description","category"}.
// Uncoded errors and internal errors never expose their description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := errorBody{Error: string(code), Category: CategoryFor(code)}
	if de, ok := dErrors.As(err); ok && code != dErrors.CodeInternal {
		body.Description = de.Message
	}
	WriteJSON(w, StatusFor(code), body)
}
