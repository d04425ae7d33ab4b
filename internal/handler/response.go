package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"passwordless-auth/internal/service"
	"passwordless-auth/internal/util"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(code, message string) Response {
	return Response{
		Success: false,
		Error:   code,
		Message: message,
	}
}

func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// respondWithError writes a public error code and message; err is only
// logged.
func respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	if statusCode >= http.StatusInternalServerError {
		util.Error("HTTP error response",
			zap.Error(err),
			zap.Int("status_code", statusCode),
			zap.String("message", message))
	} else {
		util.Debug("HTTP error response",
			zap.Error(err),
			zap.Int("status_code", statusCode),
			zap.String("message", message))
	}
	respondWithJSON(w, statusCode, errorResponse(errorCode(statusCode), message))
}

// respondWithServiceError maps the service error taxonomy onto HTTP.
// invalidMessage is shown for a rejected credential.
func respondWithServiceError(w http.ResponseWriter, err error, invalidMessage string) {
	var limited *service.RateLimitedError

	switch {
	case errors.As(err, &limited):
		secs := limited.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		respondWithError(w, http.StatusTooManyRequests, err,
			fmt.Sprintf("Too many requests. Please try again in %d seconds.", secs))
	case errors.Is(err, service.ErrInvalidCredential):
		respondWithError(w, http.StatusUnauthorized, err, invalidMessage)
	case errors.Is(err, service.ErrInvalidInput):
		respondWithError(w, http.StatusBadRequest, err, "Invalid email address")
	case errors.Is(err, service.ErrUpstreamUnavailable):
		respondWithError(w, http.StatusServiceUnavailable, err, "Service temporarily unavailable")
	default:
		respondWithError(w, http.StatusInternalServerError, err, "Internal server error")
	}
}

func errorCode(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusUpgradeRequired:
		return "https_required"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal_error"
	}
}
