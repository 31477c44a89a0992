package fetch

import (
	"context"
	"errors"
	"strings"

	"github.com/hazyhaar/guet/netguard"
)

// Class categorizes a fetch failure for the watcher's retry handling.
type Class string

const (
	// ClassTransient failures are expected to clear on their own. The
	// watcher retries at the next scheduled tick and counts them toward
	// its consecutive-failure streak.
	ClassTransient Class = "transient"

	// ClassPermanent failures will not clear without intervention: page
	// gone, URL malformed, request blocked. Reported once; polling
	// continues at normal cadence.
	ClassPermanent Class = "permanent"
)

// Classify maps a failed fetch to its class. statusCode is the HTTP status
// when a response was received, 0 otherwise.
func Classify(statusCode int, err error) Class {
	// Status codes first.
	switch {
	case statusCode == 429 || statusCode == 408:
		return ClassTransient
	case statusCode >= 500:
		return ClassTransient
	case statusCode >= 400:
		// 404, 410, 401, 403 and the rest of the client errors.
		return ClassPermanent
	}

	if err == nil {
		return ClassTransient
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransient
	}
	if errors.Is(err, netguard.ErrPrivateAddress) ||
		errors.Is(err, netguard.ErrUnsafeScheme) ||
		errors.Is(err, netguard.ErrResponseTooLarge) {
		return ClassPermanent
	}
	if errors.Is(err, ErrNoRenderer) {
		return ClassPermanent
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "too many redirects"),
		strings.Contains(msg, "unsupported protocol"),
		strings.Contains(msg, "invalid url"),
		strings.Contains(msg, "blocked"):
		return ClassPermanent
	case isNetworkError(msg):
		return ClassTransient
	}

	// Unrecognized failures default to transient.
	return ClassTransient
}

func isNetworkError(msg string) bool {
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "dns") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "tls handshake")
}
