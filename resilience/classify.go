package resilience

import (
	"errors"
	"net"
	"strings"
)

// transientMarkers are message fragments that indicate a flaky remote call.
var transientMarkers = []string{
	"network",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"网络",
}

// IsTransient is the default classifier used when a Policy has none.
//
// Explicit markers win: MarkFatal before MarkTransient. Otherwise net.Error
// timeouts, ErrTimeout and ErrRateLimitExceeded are transient, then any error
// whose message contains a network or timeout indicator. Everything else is
// fatal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var fatal *FatalError
	if errors.As(err, &fatal) {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimitExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Always classifies every error as transient.
func Always(error) bool { return true }

// Never classifies every error as fatal.
func Never(error) bool { return false }
