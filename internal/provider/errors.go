package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrUpstreamUnavailable covers network, auth, rate-limit and server-side failures.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUpstreamMalformed marks a response the adapter could not parse.
	ErrUpstreamMalformed = errors.New("upstream response malformed")
)

// ErrorType classifies provider errors
type ErrorType string

const (
	ErrorTypeAPIError   ErrorType = "api_error"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeAuth       ErrorType = "auth_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeBadRequest ErrorType = "bad_request"
	ErrorTypeMalformed  ErrorType = "malformed"
	ErrorTypeCanceled   ErrorType = "canceled"
)

// ClassifiedError wraps a provider error with classification
type ClassifiedError struct {
	Type        ErrorType
	Provider    ID
	Message     string
	StatusCode  int
	IsRetryable bool
	RetryAfter  time.Duration
	Original    error
}

func (e *ClassifiedError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return e.Message
}

func (e *ClassifiedError) Unwrap() error {
	return e.Original
}

// Temporary reports whether retrying the same call may succeed.
func (e *ClassifiedError) Temporary() bool {
	return e.IsRetryable
}

// Is maps the classification onto the package sentinels.
func (e *ClassifiedError) Is(target error) bool {
	switch target {
	case ErrUpstreamMalformed:
		return e.Type == ErrorTypeMalformed
	case ErrUpstreamUnavailable:
		switch e.Type {
		case ErrorTypeRateLimit, ErrorTypeAuth, ErrorTypeTimeout, ErrorTypeNetwork, ErrorTypeAPIError:
			return true
		}
	}
	return false
}

// Malformed builds the error adapters return when a listing or completion
// body cannot be interpreted.
func Malformed(id ID, err error) *ClassifiedError {
	return &ClassifiedError{
		Type:     ErrorTypeMalformed,
		Provider: id,
		Message:  fmt.Sprintf("unparseable response: %v", err),
		Original: err,
	}
}

// ClassifyError classifies an error from a provider
func ClassifyError(id ID, err error, statusCode int, responseBody string) *ClassifiedError {
	if err == nil {
		return nil
	}

	// If already classified, return as-is
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		if ce.Provider == "" {
			ce.Provider = id
		}
		return ce
	}

	classified := classify(err, statusCode, responseBody)
	classified.Provider = id
	classified.StatusCode = statusCode
	classified.Original = err
	return classified
}

func classify(err error, statusCode int, responseBody string) *ClassifiedError {
	if errors.Is(err, context.Canceled) {
		return &ClassifiedError{Type: ErrorTypeCanceled, Message: "request canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{Type: ErrorTypeTimeout, Message: "request timed out", IsRetryable: true}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &ClassifiedError{Type: ErrorTypeMalformed, Message: fmt.Sprintf("unparseable response: %v", err)}
	}

	msg := err.Error()
	if responseBody != "" {
		msg = msg + " " + responseBody
	}
	lowerMsg := strings.ToLower(msg)

	// Rate limiting
	if statusCode == http.StatusTooManyRequests || strings.Contains(lowerMsg, "rate_limit") ||
		strings.Contains(lowerMsg, "rate limit") ||
		strings.Contains(lowerMsg, "too_many_requests") ||
		strings.Contains(lowerMsg, "quota") {
		return &ClassifiedError{
			Type:        ErrorTypeRateLimit,
			Message:     "rate limited by provider",
			IsRetryable: true,
		}
	}

	// Auth errors
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return &ClassifiedError{
			Type:    ErrorTypeAuth,
			Message: fmt.Sprintf("authentication error (%d): %s", statusCode, err.Error()),
		}
	}

	if statusCode == http.StatusNotFound {
		return &ClassifiedError{
			Type:    ErrorTypeNotFound,
			Message: fmt.Sprintf("model or endpoint not found: %s", err.Error()),
		}
	}

	if statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout {
		return &ClassifiedError{
			Type:        ErrorTypeTimeout,
			Message:     fmt.Sprintf("provider timed out (%d)", statusCode),
			IsRetryable: true,
		}
	}

	// Server errors are retryable
	if statusCode >= 500 {
		return &ClassifiedError{
			Type:        ErrorTypeAPIError,
			Message:     fmt.Sprintf("provider server error (%d): %s", statusCode, err.Error()),
			IsRetryable: true,
		}
	}

	if statusCode >= 400 {
		return &ClassifiedError{
			Type:    ErrorTypeBadRequest,
			Message: fmt.Sprintf("request rejected (%d): %s", statusCode, err.Error()),
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &ClassifiedError{Type: ErrorTypeTimeout, Message: "request timed out", IsRetryable: true}
		}
		return &ClassifiedError{Type: ErrorTypeNetwork, Message: fmt.Sprintf("network error: %v", err), IsRetryable: true}
	}

	if strings.Contains(lowerMsg, "connection refused") ||
		strings.Contains(lowerMsg, "connection reset") ||
		strings.Contains(lowerMsg, "no such host") ||
		strings.Contains(lowerMsg, "eof") {
		return &ClassifiedError{Type: ErrorTypeNetwork, Message: fmt.Sprintf("network error: %v", err), IsRetryable: true}
	}
	if strings.Contains(lowerMsg, "timeout") {
		return &ClassifiedError{Type: ErrorTypeTimeout, Message: "request timed out", IsRetryable: true}
	}

	// Check for overloaded / exhausted
	if strings.Contains(lowerMsg, "overloaded") || strings.Contains(lowerMsg, "exhausted") ||
		strings.Contains(lowerMsg, "unavailable") {
		return &ClassifiedError{
			Type:        ErrorTypeAPIError,
			Message:     "provider is overloaded",
			IsRetryable: true,
		}
	}

	// Default: non-retryable API error
	return &ClassifiedError{
		Type:    ErrorTypeAPIError,
		Message: err.Error(),
	}
}

// UserFriendlyError wraps errors with helpful user-facing messages
type UserFriendlyError struct {
	Title            string // Short title for the error
	Message          string // Detailed user-friendly message
	Suggestion       string // What the user should do
	TechnicalDetails string // Technical error details (for debugging)
	Original         error  // Original error
}

func (e *UserFriendlyError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Title)
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Suggestion != "" {
		sb.WriteString("\n\nSuggestion: ")
		sb.WriteString(e.Suggestion)
	}
	if e.TechnicalDetails != "" {
		sb.WriteString("\n\nTechnical details: ")
		sb.WriteString(e.TechnicalDetails)
	}
	return sb.String()
}

func (e *UserFriendlyError) Unwrap() error {
	return e.Original
}

// MakeUserFriendly converts a classified provider error into a message for the terminal.
func MakeUserFriendly(err error, id ID) error {
	if err == nil {
		return nil
	}

	var uf *UserFriendlyError
	if errors.As(err, &uf) {
		return err
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return convertClassifiedError(ce, id, err)
	}

	return &UserFriendlyError{
		Title:            "API Error",
		Message:          fmt.Sprintf("The %s API returned an error", id),
		TechnicalDetails: err.Error(),
		Original:         err,
	}
}

func convertClassifiedError(ce *ClassifiedError, id ID, original error) error {
	switch ce.Type {
	case ErrorTypeAuth:
		return &UserFriendlyError{
			Title:   "Authentication Failed",
			Message: fmt.Sprintf("Unable to authenticate with %s.", id),
			Suggestion: fmt.Sprintf(`Please check your API key:
  1. Set %s in your environment or .env file
  2. Verify the key is valid at the provider's dashboard`, EnvVar(id)),
			TechnicalDetails: original.Error(),
			Original:         original,
		}

	case ErrorTypeRateLimit:
		return &UserFriendlyError{
			Title:   "Rate Limit Exceeded",
			Message: fmt.Sprintf("You've hit the rate limit for %s.", id),
			Suggestion: `Wait a few moments before trying again, check your plan/quota,
or pick a model from a different provider.`,
			TechnicalDetails: original.Error(),
			Original:         original,
		}

	case ErrorTypeNotFound:
		return &UserFriendlyError{
			Title:            "Model Not Found",
			Message:          "The requested model could not be found.",
			Suggestion:       "Run 'airefiner models --refresh' to see the current catalog.",
			TechnicalDetails: original.Error(),
			Original:         original,
		}

	case ErrorTypeTimeout:
		return &UserFriendlyError{
			Title:            "Request Timeout",
			Message:          "The request took too long and timed out.",
			Suggestion:       "Check your connection, shorten the input, or try again shortly.",
			TechnicalDetails: original.Error(),
			Original:         original,
		}

	case ErrorTypeNetwork:
		return &UserFriendlyError{
			Title:            "Network Error",
			Message:          fmt.Sprintf("Could not reach %s.", id),
			Suggestion:       "Check your internet connection and proxy settings.",
			TechnicalDetails: original.Error(),
			Original:         original,
		}

	default:
		return &UserFriendlyError{
			Title:            "API Error",
			Message:          fmt.Sprintf("An error occurred while communicating with %s.", id),
			TechnicalDetails: original.Error(),
			Original:         original,
		}
	}
}
