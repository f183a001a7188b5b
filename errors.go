package aidirector

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	ErrUnknownProvider       = errors.New("aidirector: unknown provider")
	ErrProviderNotConfigured = errors.New("aidirector: provider credential not configured")
	ErrProviderDisabled      = errors.New("aidirector: provider disabled")
	ErrQuotaExceeded         = errors.New("aidirector: quota exceeded")
	ErrRateLimited           = errors.New("aidirector: rate limited by provider")
	ErrAuthFailed            = errors.New("aidirector: authentication failed")
	ErrInvalidRequest        = errors.New("aidirector: invalid request")
	ErrProviderUnavailable   = errors.New("aidirector: provider unavailable")
	ErrMalformedUpstream     = errors.New("aidirector: malformed provider response")
	ErrAllProvidersFailed    = errors.New("aidirector: all providers failed")
	ErrNoJSONFound           = errors.New("aidirector: no JSON found in response")
	ErrParseJSON             = errors.New("aidirector: invalid JSON in response")
	ErrReservationNotFound   = errors.New("aidirector: reservation not found")
)

// ErrorKind is the coarse class of an error returned by the director.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindConfiguration      ErrorKind = "CONFIGURATION"
	KindQuotaExceeded      ErrorKind = "QUOTA_EXCEEDED"
	KindUpstream           ErrorKind = "UPSTREAM"
	KindAllProvidersFailed ErrorKind = "ALL_PROVIDERS_FAILED"
	KindMalformedResponse  ErrorKind = "MALFORMED_RESPONSE"
	KindInternal           ErrorKind = "INTERNAL"
)

// Classify maps err to its ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAllProvidersFailed):
		return KindAllProvidersFailed
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ErrUnknownProvider),
		errors.Is(err, ErrProviderNotConfigured),
		errors.Is(err, ErrProviderDisabled):
		return KindConfiguration
	case errors.Is(err, ErrNoJSONFound), errors.Is(err, ErrParseJSON):
		return KindMalformedResponse
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrAuthFailed),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrProviderUnavailable),
		errors.Is(err, ErrMalformedUpstream),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindUpstream
	default:
		return KindInternal
	}
}

// IsConfigurationError reports whether err means the provider cannot be used
// at all until an administrator changes its configuration.
func IsConfigurationError(err error) bool {
	return Classify(err) == KindConfiguration
}

// IsUpstreamError reports whether err came from talking to a provider.
func IsUpstreamError(err error) bool {
	return Classify(err) == KindUpstream
}

// Attempt records one provider invocation made while serving a call.
type Attempt struct {
	Provider string
	Model    string
	Err      error
}

// CallError is returned when no provider produced a result.
type CallError struct {
	Err      error
	Provider string
	Model    string
	Attempts []Attempt
}

func (e *CallError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "aidirector: provider=%s model=%s attempts=%d: %v", e.Provider, e.Model, len(e.Attempts), e.Err)
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s/%s: %v", a.Provider, a.Model, a.Err)
	}
	return b.String()
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// QuotaError is returned when an admission check rejects a call.
type QuotaError struct {
	Provider  string
	Model     string
	CallerID  string
	Dimension Dimension
	Snapshot  UsageSnapshot
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("aidirector: quota exceeded: provider=%s model=%s caller=%s dimension=%s (%.1f%%)",
		e.Provider, e.Model, e.CallerID, e.Dimension, e.Snapshot.Percentages[e.Dimension])
}

func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}
