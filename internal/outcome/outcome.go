// Package outcome defines the classified failure kinds and the tagged
// request result shared by every asynchronous operation in the studio.
//
// Each operation resolves to an Outcome: Pending while work is in flight,
// Success with a value, or Failure with an ErrorKind and a human-readable
// message. The UI collaborator renders Outcomes directly and routes recovery
// on the kind (AuthExpired forces logout, the rest offer a retry).
package outcome

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind categorizes failures for recovery routing.
type ErrorKind string

const (
	// KindNetworkUnavailable indicates the remote service could not be reached
	// or answered with a transient server error.
	KindNetworkUnavailable ErrorKind = "NetworkUnavailable"
	// KindAuthExpired indicates the stored credential was rejected by an API.
	KindAuthExpired ErrorKind = "AuthExpired"
	// KindAuthExchangeFailed indicates the OAuth code exchange itself failed.
	KindAuthExchangeFailed ErrorKind = "AuthExchangeFailed"
	// KindFetchBlocked indicates an image could not be retrieved for analysis.
	KindFetchBlocked ErrorKind = "FetchBlocked"
	// KindMalformedResult indicates the inference response failed validation.
	KindMalformedResult ErrorKind = "MalformedResult"
	// KindTimeout indicates a network call exceeded its deadline.
	KindTimeout ErrorKind = "Timeout"
	// KindUnknown is anything else.
	KindUnknown ErrorKind = "Unknown"
)

// Error is a classified failure. Message is always human-readable and never
// just the kind name.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error with the given kind and message.
func New(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns a classified error wrapping err.
func Wrap(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Newf is New with formatting.
func Newf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or KindUnknown if err is unclassified.
func KindOf(err error) ErrorKind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindUnknown
}

// IsAuthExpired reports whether err carries KindAuthExpired.
func IsAuthExpired(err error) bool {
	return err != nil && KindOf(err) == KindAuthExpired
}

// Classify returns err as a classified *Error. Already-classified errors are
// returned unchanged; deadline expiry maps to Timeout and transport failures
// to NetworkUnavailable. fallback is used as the message for anything else.
func Classify(err error, fallback string) *Error {
	if err == nil {
		return nil
	}

	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, "The request timed out. Please try again.", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(KindTimeout, "The request timed out. Please try again.", err)
		}
		return Wrap(KindNetworkUnavailable, "Network error - check your internet connection", err)
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return Wrap(KindNetworkUnavailable, "Network error - check your internet connection", err)
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "connection refused") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "unreachable"):
		return Wrap(KindNetworkUnavailable, "Network error - check your internet connection", err)
	}

	return Wrap(KindUnknown, fallback, err)
}
