// Package pipeline drives the three-stage analysis: discover conflict
// threads, rank them into tiers, repair structural defects. Each stage runs
// behind a retry/fallback policy that tolerates the generation service's
// noisy output while still producing deterministic, validated artifacts.
package pipeline

import (
	"fmt"
	"strings"
)

// FieldError is a structured validation failure: the offending field path
// plus a human-readable reason. The reasons are echoed verbatim into the
// next retry's instruction context, which is what lets retries converge
// instead of repeating the same mistake blindly.
type FieldError struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// formatFieldErrors renders validation failures for diagnostics and
// corrective prompts.
func formatFieldErrors(errs []FieldError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = "- " + e.String()
	}
	return strings.Join(parts, "\n")
}

// OutcomeKind tags a stage-step result. Retry logic is driven by switching
// on this tag rather than by unwinding errors, which keeps it auditable and
// testable without mocking panics or sentinel chains.
type OutcomeKind int

const (
	// OutcomeSuccess carries a validated stage output.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRetryable carries a failure worth re-invoking for: transport,
	// extraction, parse, or validation.
	OutcomeRetryable
	// OutcomeFatal carries a failure no retry can fix: cancellation,
	// authentication, or a business-rule violation.
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// StageOutcome is the tagged result of one stage step.
type StageOutcome struct {
	Kind OutcomeKind

	// Err is set for retryable and fatal outcomes.
	Err error

	// FieldErrors carries structured validation failures when Err came
	// from validation; embedded in the corrective retry prompt.
	FieldErrors []FieldError
}

// success returns a success outcome.
func success() StageOutcome {
	return StageOutcome{Kind: OutcomeSuccess}
}

// retryable wraps a failure the stage should re-invoke for.
func retryable(err error, fieldErrs ...FieldError) StageOutcome {
	return StageOutcome{Kind: OutcomeRetryable, Err: err, FieldErrors: fieldErrs}
}

// fatal wraps a failure no retry can fix.
func fatal(err error) StageOutcome {
	return StageOutcome{Kind: OutcomeFatal, Err: err}
}

// BusinessRuleError is a cross-record invariant violation detected after
// validation (e.g. zero threads survive coverage filtering). Not retryable
// within the stage: re-asking the model cannot change the arithmetic.
type BusinessRuleError struct {
	Rule   string
	Detail string
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule %s: %s", e.Rule, e.Detail)
}
