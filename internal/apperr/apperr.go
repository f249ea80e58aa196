package apperr

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// AppError is an HTTP error rendered as {"error": ..., "code": ...} plus any
// extra fields.
type AppError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Fields  map[string]any `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func New(code int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Fields: map[string]any{}}
}

// WithField adds a field to the response body. "error" and "code" are
// reserved.
func (e *AppError) WithField(key string, value any) *AppError {
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	e.Fields[key] = value
	return e
}

func BadRequest(message string) *AppError {
	return New(http.StatusBadRequest, message, nil)
}

func Unauthorized(message string) *AppError {
	return New(http.StatusUnauthorized, message, nil)
}

func TooManyRequests(message string, retryAfter int) *AppError {
	return New(http.StatusTooManyRequests, message, nil).WithField("retry_after", retryAfter)
}

func BadGateway(message string, err error) *AppError {
	return New(http.StatusBadGateway, message, err)
}

func Internal(message string, err error) *AppError {
	return New(http.StatusInternalServerError, message, err)
}

func Write(w http.ResponseWriter, err *AppError) {
	w.Header().Set("Content-Type", "application/json")
	if v, ok := err.Fields["retry_after"].(int); ok && v > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(v))
	}
	w.WriteHeader(err.Code)
	payload := map[string]any{"error": err.Message, "code": err.Code}
	for k, v := range err.Fields {
		if k == "error" || k == "code" {
			continue
		}
		payload[k] = v
	}
	_ = json.NewEncoder(w).Encode(payload)
}
