package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// FailureKind buckets a dispatch failure into one of the operator-facing
// categories. Every kind maps to a distinct, actionable message so the
// execution log tells an operator what to check without reading stack traces.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureRefused
	FailureTimeout
	FailureNoHost
	FailureRejected
	FailureOther
)

func (k FailureKind) String() string {
	switch k {
	case FailureRefused:
		return "connection_refused"
	case FailureTimeout:
		return "timeout"
	case FailureNoHost:
		return "host_not_found"
	case FailureRejected:
		return "rejected"
	case FailureOther:
		return "error"
	}
	return "none"
}

func classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return FailureRefused
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureNoHost
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureOther
}

func failureMessage(kind FailureKind, ip string, timeout time.Duration, err error) string {
	switch kind {
	case FailureRefused:
		return fmt.Sprintf("device at %s refused the connection; check that it is powered on and listening", ip)
	case FailureTimeout:
		return fmt.Sprintf("device at %s did not answer within %s; it may be busy or unreachable", ip, timeout)
	case FailureNoHost:
		return fmt.Sprintf("host %s could not be resolved; check the configured address", ip)
	default:
		return fmt.Sprintf("request to device at %s failed: %v", ip, err)
	}
}
