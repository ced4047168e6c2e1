package outcome

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind buckets failures into the retry/alerting taxonomy.
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindRevert            Kind = "revert"
	KindBlockNotFound     Kind = "block-not-found"
	KindInsufficientFunds Kind = "insufficient-funds"
	KindConfig            Kind = "config"
	KindGeneric           Kind = "generic"
)

// ErrorReport is the normalized, bounded-size shape every failure is stored
// as. Raw errors can drag arbitrarily large payloads (ABI blobs, request
// dumps) into reports; only name/message/cause survive normalization.
type ErrorReport struct {
	Kind    Kind   `json:"kind"`
	Name    string `json:"name"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

// Error implements the error interface so reports can flow back up the stack.
func (r *ErrorReport) Error() string {
	if r.Cause != "" {
		return fmt.Sprintf("%s: %s (cause: %s)", r.Kind, r.Message, r.Cause)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Message)
}

// ConfigError builds a fail-fast configuration error report.
func ConfigError(format string, args ...any) *ErrorReport {
	return &ErrorReport{Kind: KindConfig, Name: "ConfigError", Message: fmt.Sprintf(format, args...)}
}

// Normalize classifies an arbitrary error into an ErrorReport. Already
// normalized reports pass through unchanged.
func Normalize(err error) *ErrorReport {
	if err == nil {
		return nil
	}

	var report *ErrorReport
	if errors.As(err, &report) {
		return report
	}

	rep := &ErrorReport{
		Kind:    classify(err),
		Name:    fmt.Sprintf("%T", err),
		Message: err.Error(),
	}
	if cause := errors.Unwrap(err); cause != nil && cause.Error() != err.Error() {
		rep.Cause = cause.Error()
	}
	return rep
}

func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert"):
		return KindRevert
	case IsBlockNotFound(err):
		return KindBlockNotFound
	case strings.Contains(msg, "insufficient funds") || strings.Contains(msg, "insufficient balance"):
		return KindInsufficientFunds
	default:
		return KindGeneric
	}
}

// IsBlockNotFound matches the error class produced by querying a lagging node
// behind a load balancer for a block it has not imported yet.
func IsBlockNotFound(err error) bool {
	if err == nil {
		return false
	}
	var report *ErrorReport
	if errors.As(err, &report) {
		return report.Kind == KindBlockNotFound
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "block not found") ||
		strings.Contains(msg, "header not found") ||
		strings.Contains(msg, "block could not be found") ||
		strings.Contains(msg, "cannot query unfinalized data")
}
