package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// statusCarrier is implemented by client errors that retain the HTTP status
// of a failed call, such as the places API error.
type statusCarrier interface {
	HTTPStatus() int
}

// IsTransient reports whether an error is safe to retry: a retryable HTTP
// status anywhere in the chain, a network-level timeout, or a connection
// failure. Everything else is permanent and fails the lookup on the spot.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var sc statusCarrier
	if errors.As(err, &sc) {
		return RetryableStatus(sc.HTTPStatus())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Wrapped transport errors from HTTP clients lose their type; fall back
	// to message patterns.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// RetryableStatus reports whether an HTTP status indicates a transient
// server-side condition.
func RetryableStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
