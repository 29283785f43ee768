// ABOUTME: Error hierarchy for the model client with retryability classification.
// ABOUTME: ProviderError carries HTTP status metadata; transport retry consults IsRetryable.
package llm

import "fmt"

// ClientError is the base error type for the model client. All other error
// types in this package embed it.
type ClientError struct {
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns false for the base error. Subtypes override this.
func (e *ClientError) IsRetryable() bool {
	return false
}

// ConfigurationError indicates the client is miswired: missing API key,
// unknown provider, no default provider. Never retryable.
type ConfigurationError struct {
	ClientError
}

// ProviderError is an error returned by a provider's API, with the HTTP
// status and the provider's retryability classification.
type ProviderError struct {
	ClientError
	Provider   string
	StatusCode int
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (provider %s, status %d)", e.ClientError.Error(), e.Provider, e.StatusCode)
	}
	return e.ClientError.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.ClientError.Unwrap()
}

// IsRetryable reports the provider's classification.
func (e *ProviderError) IsRetryable() bool {
	return e.Retryable
}

// As enables errors.As to reach the embedded ClientError.
func (e *ProviderError) As(target any) bool {
	if t, ok := target.(**ClientError); ok {
		*t = &e.ClientError
		return true
	}
	return false
}

// RateLimitError represents a 429 response. Always retryable.
type RateLimitError struct {
	ProviderError
	RetryAfterSeconds float64
}

func (e *RateLimitError) Error() string     { return e.ProviderError.Error() }
func (e *RateLimitError) Unwrap() error     { return e.ProviderError.Unwrap() }
func (e *RateLimitError) IsRetryable() bool { return true }

func (e *RateLimitError) As(target any) bool {
	switch t := target.(type) {
	case **ProviderError:
		*t = &e.ProviderError
		return true
	case **ClientError:
		*t = &e.ClientError
		return true
	default:
		return false
	}
}

// newProviderError classifies a status code into the right error type.
func newProviderError(provider string, status int, message string, cause error) error {
	base := ProviderError{
		ClientError: ClientError{Message: message, Cause: cause},
		Provider:    provider,
		StatusCode:  status,
		Retryable:   status == 429 || status >= 500,
	}
	if status == 429 {
		return &RateLimitError{ProviderError: base}
	}
	return &base
}
