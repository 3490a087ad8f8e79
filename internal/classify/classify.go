// Package classify turns the raw outputs of MX resolution, catch-all
// detection, and SMTP probing into the canonical four-value verdict
// stored on a VerificationResult. It is a pure function with no I/O,
// grounded on the other_examples mail_sorter classifySMTPResponse
// generalized to also weigh the catch-all verdict and a fallback signal
// for addresses RCPT TO probing could not settle.
package classify

import (
	"github.com/ignite/leadprobe/internal/domain"
	"github.com/ignite/leadprobe/internal/smtpprobe"
)

// FallbackStatus is the coarse verdict from a non-SMTP signal (syntax
// plus DNS plausibility, or a third-party data signal) used when RCPT TO
// probing gave no verdict: TCP:25 blocked, a timeout, no probe at all, or
// a temp_fail/unknown result (rules 2, 3, 4 and 9 below).
type FallbackStatus string

const (
	FallbackDeliverable   FallbackStatus = "deliverable"
	FallbackUndeliverable FallbackStatus = "undeliverable"
	FallbackUnknown       FallbackStatus = "unknown"
	FallbackNone          FallbackStatus = ""
)

// Input bundles everything the classifier needs to reach a verdict for
// one verification attempt.
type Input struct {
	NoMX              bool
	TCP25Blocked      bool
	Timeout           bool
	CatchAll          domain.CatchAllStatus
	SMTPAttempted     bool
	SMTPCategory      smtpprobe.Category
	SMTPCode          int
	Fallback          FallbackStatus
	// DeliveryConfirmed reports whether a prior VerificationResult for
	// this exact address already landed on VerifyValid. It is the only
	// thing that can upgrade a catch-all domain's verdict out of
	// risky_catch_all: a bare RCPT 2xx accept proves nothing on a domain
	// that accepts everything.
	DeliveryConfirmed bool
}

// Output is the classifier's verdict plus the reason code it fired on.
type Output struct {
	Status domain.VerifyStatus
	Reason string
}

// Classify applies the ordered rules below, stopping at the first that
// matches:
//
//  1. no MX (and no implicit-A fallback) -> invalid
//  2. the TCP:25 preflight never connected -> unknown_timeout, unless a
//     fallback signal is available, in which case the fallback decides
//  3. the SMTP probe timed out -> unknown_timeout, same fallback carve-out
//  4. no SMTP probe ran at all (Input.SMTPAttempted is false) and the
//     domain is confirmed catch-all -> risky_catch_all, unless a prior
//     confirmed delivery exists for this exact address, which upgrades
//     it to valid; with neither signal, the fallback decides
//  5. RCPT TO hard-failed (5xx) -> invalid
//  6. the domain is confirmed catch-all -> risky_catch_all regardless of
//     what this probe's RCPT result was, unless a prior confirmed
//     delivery exists for this exact address, which upgrades it to valid
//  7. RCPT TO accepted (2xx), confirmed not catch-all -> valid
//  8. RCPT TO accepted (2xx) but the catch-all verdict is not yet known ->
//     risky_catch_all with a distinct reason, since the accept could be a
//     real mailbox or a domain that accepts everything
//  9. anything else (temp_fail/unknown on a non-catch-all domain) -> the
//     fallback signal decides; with no fallback, unknown_timeout
func Classify(in Input) Output {
	if in.NoMX {
		return Output{Status: domain.VerifyInvalid, Reason: domain.ReasonNoMX}
	}

	if in.TCP25Blocked {
		if out, ok := fromFallback(in.Fallback, domain.ReasonTCP25Blocked); ok {
			return out
		}
		return Output{Status: domain.VerifyUnknownTimeout, Reason: domain.ReasonTCP25Blocked}
	}

	if in.Timeout {
		if out, ok := fromFallback(in.Fallback, domain.ReasonTimeout); ok {
			return out
		}
		return Output{Status: domain.VerifyUnknownTimeout, Reason: domain.ReasonTimeout}
	}

	if !in.SMTPAttempted {
		if out, ok := catchAllVerdict(in); ok {
			return out
		}
		if out, ok := fromFallback(in.Fallback, domain.ReasonFallbackUnknown); ok {
			return out
		}
		return Output{Status: domain.VerifyUnknownTimeout, Reason: domain.ReasonFallbackUnknown}
	}

	if in.SMTPCategory == smtpprobe.CategoryHardFail {
		return Output{Status: domain.VerifyInvalid, Reason: domain.ReasonRCPT5xx}
	}

	if out, ok := catchAllVerdict(in); ok {
		return out
	}

	switch in.SMTPCategory {
	case smtpprobe.CategoryAccept:
		if in.CatchAll == domain.CatchAllNo {
			return Output{Status: domain.VerifyValid, Reason: domain.ReasonRCPT2xxNonCatchAll}
		}
		return Output{Status: domain.VerifyRiskyCatchAll, Reason: domain.ReasonCatchAllUnknownRCPT2xx}

	default: // temp_fail or unknown
		if out, ok := fromFallback(in.Fallback, domain.ReasonFallbackUnknown); ok {
			return out
		}
		return Output{Status: domain.VerifyUnknownTimeout, Reason: domain.ReasonFallbackUnknown}
	}
}

// catchAllVerdict applies rule 6 (and its no-probe-ran counterpart, rule
// 4): on a domain confirmed catch-all, the per-probe SMTP result carries
// no evidence, since a catch-all accepts everything. Only a prior
// confirmed delivery for this exact address can clear the domain's
// catch-all verdict.
func catchAllVerdict(in Input) (Output, bool) {
	if in.CatchAll != domain.CatchAllYes {
		return Output{}, false
	}
	if in.DeliveryConfirmed {
		return Output{Status: domain.VerifyValid, Reason: domain.ReasonDeliveredOnCatchAll}, true
	}
	return Output{Status: domain.VerifyRiskyCatchAll, Reason: domain.ReasonCatchAllDomain}, true
}

func fromFallback(fb FallbackStatus, unknownReason string) (Output, bool) {
	switch fb {
	case FallbackDeliverable:
		return Output{Status: domain.VerifyValid, Reason: domain.ReasonFallbackDeliverable}, true
	case FallbackUndeliverable:
		return Output{Status: domain.VerifyInvalid, Reason: domain.ReasonFallbackUndeliverable}, true
	default:
		return Output{}, false
	}
}
