// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// GeocodingError represents a failed geocoder call.
type GeocodingError struct {
	Type    ErrorType
	Message string
	Err     error
}

// ErrorType classifies geocoding failures.
type ErrorType int

const (
	// ErrorTypeUnknown unexpected HTTP status.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeRateLimit the upstream asked us to slow down.
	ErrorTypeRateLimit
	// ErrorTypeTimeout connection or read timeout.
	ErrorTypeTimeout
	// ErrorTypeInvalidRequest the upstream rejected the query.
	ErrorTypeInvalidRequest
	// ErrorTypeNetworkError transport failure or unavailable service.
	ErrorTypeNetworkError
	// ErrorTypeMalformed the response could not be decoded into candidates.
	ErrorTypeMalformed
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeInvalidRequest:
		return "invalid_request"
	case ErrorTypeNetworkError:
		return "network"
	case ErrorTypeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

func (e *GeocodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *GeocodingError) Unwrap() error {
	return e.Err
}

func errorType(err error) (ErrorType, bool) {
	var geoErr *GeocodingError
	if errors.As(err, &geoErr) {
		return geoErr.Type, true
	}

	return ErrorTypeUnknown, false
}

// IsTransient reports whether err is worth retrying on a later run: network
// failures, timeouts and any non-2xx answer.
func IsTransient(err error) bool {
	t, ok := errorType(err)

	return ok && t != ErrorTypeMalformed
}

// IsMalformed reports whether the geocoder answered with something that is
// not a list of candidates. Retrying such a query is pointless.
func IsMalformed(err error) bool {
	t, ok := errorType(err)

	return ok && t == ErrorTypeMalformed
}

// IsRateLimitError checks whether the upstream throttled the request.
func IsRateLimitError(err error) bool {
	t, ok := errorType(err)

	return ok && t == ErrorTypeRateLimit
}

// IsTimeoutError checks whether the request timed out.
func IsTimeoutError(err error) bool {
	t, ok := errorType(err)

	return ok && t == ErrorTypeTimeout
}

func malformed(format string, args ...any) *GeocodingError {
	return &GeocodingError{
		Type:    ErrorTypeMalformed,
		Message: "malformed geocoder response",
		Err:     fmt.Errorf(format, args...),
	}
}

// classifyTransportError wraps an error returned by http.Client.Do.
func classifyTransportError(err error) *GeocodingError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &GeocodingError{Type: ErrorTypeTimeout, Message: "geocoding request timed out", Err: err}
	}

	return &GeocodingError{Type: ErrorTypeNetworkError, Message: "geocoding request failed", Err: err}
}

// ClassifyHTTPError maps a non-2xx status code to a geocoding error.
func ClassifyHTTPError(statusCode int, body string) *GeocodingError {
	var e *GeocodingError

	switch statusCode {
	case http.StatusTooManyRequests: // 429
		e = &GeocodingError{
			Type:    ErrorTypeRateLimit,
			Message: "rate limit reached",
		}
	case http.StatusBadRequest: // 400
		e = &GeocodingError{
			Type:    ErrorTypeInvalidRequest,
			Message: "invalid request",
		}
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		e = &GeocodingError{
			Type:    ErrorTypeNetworkError,
			Message: fmt.Sprintf("service unavailable (status %d)", statusCode),
		}
	default:
		e = &GeocodingError{
			Type:    ErrorTypeUnknown,
			Message: fmt.Sprintf("HTTP error %d", statusCode),
		}
	}

	if body != "" {
		e.Err = errors.New(body)
	}

	return e
}
