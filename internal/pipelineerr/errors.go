// Package pipelineerr defines the error taxonomy shared across the
// pipeline. Callers branch on policy with errors.Is/errors.As
// rather than string-matching.
package pipelineerr

import "errors"

// Sentinel errors, one per taxonomy kind. Wrapped errors
// (fmt.Errorf("...: %w", err)) should wrap one of these so errors.Is
// keeps working through the wrap chain.
var (
	ErrRateLimited     = errors.New("pipelineerr: rate limited")
	ErrTransientNetwork = errors.New("pipelineerr: transient network error")
	ErrRobotsBlocked   = errors.New("pipelineerr: blocked by robots.txt")
	ErrWAFBlocked      = errors.New("pipelineerr: blocked by WAF/origin")
	ErrSMTPTempFail    = errors.New("pipelineerr: smtp temporary failure")
	ErrSMTPHardFail    = errors.New("pipelineerr: smtp hard failure")
	ErrCatchAllDomain  = errors.New("pipelineerr: catch-all domain")
	ErrTCP25Blocked    = errors.New("pipelineerr: tcp/25 preflight blocked")
	ErrNoMX            = errors.New("pipelineerr: no mx or fallback a/aaaa records")
	ErrBudgetExceeded  = errors.New("pipelineerr: tenant 24h company budget exceeded")
	ErrValidation      = errors.New("pipelineerr: validation failed")
	ErrInternal        = errors.New("pipelineerr: internal error")
)

// Retryable reports whether the policy for err calls for a scheduled
// retry.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrTransientNetwork),
		errors.Is(err, ErrWAFBlocked),
		errors.Is(err, ErrSMTPTempFail):
		return true
	default:
		return false
	}
}

// Terminal reports whether err represents a final, non-retryable verdict.
func Terminal(err error) bool {
	switch {
	case errors.Is(err, ErrRobotsBlocked),
		errors.Is(err, ErrSMTPHardFail),
		errors.Is(err, ErrCatchAllDomain),
		errors.Is(err, ErrNoMX),
		errors.Is(err, ErrBudgetExceeded),
		errors.Is(err, ErrValidation):
		return true
	default:
		return false
	}
}
