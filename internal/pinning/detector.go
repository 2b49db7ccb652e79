// Package pinning detects TLS clients that refuse the interception
// certificate (certificate pinning, custom trust stores) and remembers
// those hosts so future connections are tunneled instead of inspected.
package pinning

import (
	"errors"
	"strings"
	"syscall"
)

// failureSignatures are the handshake error fragments that indicate the
// client rejected our leaf rather than a transient network fault. The
// matching is case-insensitive substring.
var failureSignatures = []string{
	"unknown ca",
	"bad certificate",
	"alert certificate unknown",
	"handshake failure",
	"tlsv1 alert",
	"connection reset",
}

// Classify reports whether err looks like a pinning failure and, if so,
// which signature matched.
func Classify(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return "connection reset", true
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range failureSignatures {
		if strings.Contains(msg, sig) {
			return sig, true
		}
	}
	return "", false
}
