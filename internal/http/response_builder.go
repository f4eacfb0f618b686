// Package http is the JSON and multipart boundary of the service.
//
// This file holds the fluent response builder every handler writes through,
// and the mapping from domain errors to HTTP status codes.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"gastos/internal/core"
	applog "gastos/internal/log"
)

// Error codes carried in the error envelope.
const (
	CodeNotFound             = "not_found"
	CodeInvalidReference     = "invalid_reference"
	CodeInvalidAmount        = "invalid_amount"
	CodeInvalidDate          = "invalid_date"
	CodeInvalidInput         = "invalid_input"
	CodeConflict             = "conflict"
	CodeStorageFailure       = "storage_failure"
	CodeExpiredOrUnknownLink = "expired_or_unknown_link"
	CodePayloadTooLarge      = "payload_too_large"
	CodeRateLimited          = "rate_limited"
	CodeInternal             = "internal_error"
)

// JSONResponseBuilder provides a fluent API for JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value to encode. A nil body writes no content.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	data, err := json.Marshal(b.body)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":"internal_error","message":"response encoding failed"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(data, '\n'))
}

// ErrorBody is the envelope every failure is reported in.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func ErrorResponse(statusCode int, code, message, field string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(ErrorBody{Error: ErrorDetail{Code: code, Message: message, Field: field}})
}

// classify maps a domain error to its status and code.
func classify(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, CodePayloadTooLarge
	case errors.Is(err, core.ErrExpiredOrUnknownLink):
		return http.StatusNotFound, CodeExpiredOrUnknownLink
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, core.ErrInvalidReference):
		return http.StatusBadRequest, CodeInvalidReference
	case errors.Is(err, core.ErrInvalidAmount):
		return http.StatusBadRequest, CodeInvalidAmount
	case errors.Is(err, core.ErrInvalidDate):
		return http.StatusBadRequest, CodeInvalidDate
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, core.ErrStorageFailure):
		return http.StatusInternalServerError, CodeStorageFailure
	}
	return http.StatusInternalServerError, CodeInternal
}

// DomainError builds the error response for err. Server-side failures get a
// generic message; their detail only goes to the log.
func DomainError(err error) *JSONResponseBuilder {
	status, code := classify(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	return ErrorResponse(status, code, message, core.FieldOf(err))
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	logger := applog.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.LogError(r.Context(), "Request failed", err, r.Method+" "+r.URL.Path,
			applog.NewFields())
	} else {
		logger.DebugContext(r.Context(), "Request rejected", "code", code, "error", err.Error())
	}
	DomainError(err).Write(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	NewJSONResponse().Status(status).Body(v).Write(w)
}
