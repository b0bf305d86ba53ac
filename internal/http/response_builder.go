// Package http provides the allocation API server and its handlers.
//
// This file implements the Builder Pattern for constructing JSON responses.
// Every handler goes through it so status codes, headers and the error body
// shape stay consistent.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"allocator/internal/core"
	"allocator/internal/plans"
	"allocator/internal/plans/file"
	"allocator/internal/services"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Message    string `json:"message"`
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
}

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	raw        []byte
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	b.raw = nil
	return b
}

// Text sets a plain-text body and content type.
func (b *JSONResponseBuilder) Text(s string) *JSONResponseBuilder {
	b.headers["Content-Type"] = "text/plain; charset=utf-8"
	b.raw = []byte(s)
	b.body = nil
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.WriteHeader(b.statusCode)

	if b.raw != nil {
		_, _ = w.Write(b.raw)
		return
	}
	if b.body == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(b.body)
}

// ErrorResponse creates a standard JSON error response.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(ErrorBody{
			Message:    message,
			Error:      http.StatusText(statusCode),
			StatusCode: statusCode,
		})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// UnprocessableEntityError creates a 422 Unprocessable Entity error response.
func UnprocessableEntityError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusUnprocessableEntity, message)
}

// ConflictError creates a 409 Conflict error response.
func ConflictError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusConflict, message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

// MethodNotAllowedError creates a 405 Method Not Allowed error response.
func MethodNotAllowedError(message, allowedMethods string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusMethodNotAllowed, message).
		Header("Allow", allowedMethods)
}

// TooManyRequestsError creates a 429 response asking the client to retry later.
func TooManyRequestsError(retryAfter string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, please try again later").
		Header("Retry-After", retryAfter)
}

// ErrorFor maps a domain error to its response.
func ErrorFor(err error) *JSONResponseBuilder {
	switch {
	case errors.Is(err, plans.ErrPlanNotFound):
		return NotFoundError(err.Error())
	case errors.Is(err, core.ErrNonPositive),
		errors.Is(err, core.ErrNotANumber),
		errors.Is(err, core.ErrEmptyName),
		errors.Is(err, core.ErrInvalidPercentage):
		return UnprocessableEntityError(err.Error())
	case errors.Is(err, core.ErrEmptyPlan):
		return ConflictError(err.Error())
	case errors.Is(err, file.ErrMissingField),
		errors.Is(err, file.ErrNotAnArray),
		errors.Is(err, file.ErrInvalidName),
		errors.Is(err, errMalformedBody):
		return BadRequestError(err.Error())
	case errors.Is(err, services.ErrReadOnly):
		return MethodNotAllowedError(err.Error(), "GET")
	default:
		return InternalServerError("internal error")
	}
}
