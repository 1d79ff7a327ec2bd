package provider

import (
	"errors"
	"fmt"
)

// Kind classifies a failure independently of which provider produced it.
type Kind string

const (
	KindNotFound            Kind = "NotFound"
	KindAmbiguousParcel     Kind = "AmbiguousParcel"
	KindMissingCredential   Kind = "MissingCredential"
	KindUnauthorized        Kind = "Unauthorized"
	KindRateLimited         Kind = "RateLimited"
	KindProviderUnavailable Kind = "ProviderUnavailable"
	KindBadRequest          Kind = "BadRequest"
	KindQuotaExceeded       Kind = "QuotaExceeded"
)

// Message returns the user-facing text for a kind.
func (k Kind) Message() string {
	switch k {
	case KindNotFound:
		return "Address not found in NYC."
	case KindAmbiguousParcel:
		return "Address matched but no tax lot could be determined."
	case KindMissingCredential:
		return "PropertyScout API key is not configured."
	case KindUnauthorized:
		return "Provider rejected the configured credential."
	case KindRateLimited:
		return "Provider rate limit reached, try again shortly."
	case KindProviderUnavailable:
		return "Provider is unavailable."
	case KindBadRequest:
		return "Provider rejected the request."
	case KindQuotaExceeded:
		return "Monthly API budget exhausted."
	default:
		return "Unknown error."
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind     Kind
	Provider string
	// Status is the HTTP status code when the failure came from a response.
	Status int
	Err    error
}

func (e *Error) Error() string {
	var msg string
	switch {
	case e.Status != 0:
		msg = fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Kind, e.Status)
	case e.Provider != "":
		msg = fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	default:
		msg = string(e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on kind: errors.Is(err, &Error{Kind: KindNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Provider == "" || t.Provider == e.Provider)
}

// NewError creates a classified error.
func NewError(kind Kind, provider string, err error) error {
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// Errorf creates a classified error with a formatted cause.
func Errorf(kind Kind, provider, format string, args ...any) error {
	return &Error{Kind: kind, Provider: provider, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when err
// is nil or unclassified.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable returns true for rate limiting and provider outages.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindProviderUnavailable:
		return true
	default:
		return false
	}
}
