package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"github.com/snappy-loop/magicstory/internal/retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorKind classifies a provider failure
type ErrorKind string

const (
	AuthError       ErrorKind = "auth_error"
	RateLimited     ErrorKind = "rate_limited"
	InvalidResponse ErrorKind = "invalid_response"
	TransportError  ErrorKind = "transport_error"
)

// ErrConfiguration matches missing or rejected credentials and unknown provider names.
var ErrConfiguration = errors.New("provider configuration error")

// Error is a failed generation call, normalized across providers.
type Error struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports auth failures as configuration errors so callers can tell them
// apart from transient failures with errors.Is(err, ErrConfiguration).
func (e *Error) Is(target error) bool {
	return target == ErrConfiguration && e.Kind == AuthError
}

// ConfigurationError is returned at construction when a provider cannot be built.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// IsKind reports whether err is a provider Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var provErr *Error
	return errors.As(err, &provErr) && provErr.Kind == kind
}

func invalidResponse(provider, format string, args ...any) *Error {
	return &Error{Kind: InvalidResponse, Provider: provider, Err: fmt.Errorf(format, args...)}
}

// classify maps an SDK or transport error onto an *Error.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var provErr *Error
	if errors.As(err, &provErr) {
		return err
	}

	code := statusCode(err)
	kind := TransportError
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		kind = AuthError
	case code == http.StatusTooManyRequests:
		kind = RateLimited
	case code == 0:
		if st, ok := grpcStatus(err); ok {
			switch st.Code() {
			case codes.Unauthenticated, codes.PermissionDenied:
				kind = AuthError
			case codes.ResourceExhausted:
				kind = RateLimited
			}
		}
	}
	return &Error{Kind: kind, Provider: provider, StatusCode: code, Err: err}
}

// statusCode finds the HTTP status behind err, or 0 when the exchange never completed.
func statusCode(err error) int {
	var statusErr *retry.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	var openaiErr *openai.APIError
	if errors.As(err, &openaiErr) {
		return openaiErr.HTTPStatusCode
	}
	var openaiReqErr *openai.RequestError
	if errors.As(err, &openaiReqErr) {
		return openaiReqErr.HTTPStatusCode
	}
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode
	}
	var googleErr *googleapi.Error
	if errors.As(err, &googleErr) {
		return googleErr.Code
	}
	return 0
}

func grpcStatus(err error) (*status.Status, bool) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, false
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK || st.Code() == codes.Unknown {
		return nil, false
	}
	return st, true
}

// retryableGRPC reports whether a gRPC failure is worth another attempt.
func retryableGRPC(err error) bool {
	st, ok := grpcStatus(err)
	if !ok {
		return true
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied, codes.InvalidArgument:
		return false
	}
	return true
}
