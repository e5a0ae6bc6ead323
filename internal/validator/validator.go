// Package validator classifies raw model responses before they are accepted
// as job results. Anything other than a valid classification is treated as a
// failed backend call so the usual fallback and retry paths apply.
package validator

import (
	"fmt"
	"regexp"
	"strings"
)

// Quality classifies a model response.
type Quality string

const (
	QualityValid          Quality = "valid"
	QualityEmpty          Quality = "empty"
	QualityWhitespaceOnly Quality = "whitespace_only"
	QualityTooShort       Quality = "too_short"
	QualityErrorIndicator Quality = "error_indicator"
)

// DefaultMinLength is the minimum usable response length in characters.
const DefaultMinLength = 10

// Retryable reports whether a response with this quality might improve on an
// immediate retry. Refusals and error prefixes tend to repeat; empty or
// truncated output is often transient.
func (q Quality) Retryable() bool {
	switch q {
	case QualityEmpty, QualityWhitespaceOnly, QualityTooShort:
		return true
	default:
		return false
	}
}

// errorPatterns match responses where the model errored or refused instead
// of answering. Matched against the lowercased, trimmed response.
var errorPatterns = []*regexp.Regexp{
	// Explicit error prefixes
	regexp.MustCompile(`^error:`),
	regexp.MustCompile(`^\[error\]`),
	regexp.MustCompile(`^exception:`),
	// Refusals
	regexp.MustCompile(`^sorry,?\s+i (can't|cannot|am unable)`),
	regexp.MustCompile(`^i apologize,?\s+(but\s+)?i`),
	regexp.MustCompile(`^i('m| am) sorry,?\s+(but\s+)?(i|unable)`),
	regexp.MustCompile(`^i (can't|cannot|won't|am unable to)\b`),
	// Self-identification that usually precedes a refusal
	regexp.MustCompile(`^as an ai`),
	regexp.MustCompile(`^as a language model`),
	regexp.MustCompile(`^i am (an|a) ai`),
	// Truncated or placeholder output
	regexp.MustCompile(`^\.\.\.$`),
	regexp.MustCompile(`^\[truncated\]`),
	regexp.MustCompile(`^\[content (removed|blocked)\]`),
}

// Result is the outcome of validating one response.
type Result struct {
	Valid   bool
	Quality Quality
	Reason  string
}

// Err returns nil for a valid result and an *Error describing the defect
// otherwise.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &Error{Quality: r.Quality, Reason: r.Reason}
}

// Error is a response that failed validation.
type Error struct {
	Quality Quality
	Reason  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("response validation failed (%s): %s", e.Quality, e.Reason)
}

// Validate classifies text. minLength <= 0 falls back to DefaultMinLength.
// Length is measured on the trimmed text.
func Validate(text string, minLength int) Result {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}

	if text == "" {
		return Result{Quality: QualityEmpty, Reason: "response is empty"}
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{Quality: QualityWhitespaceOnly, Reason: "response contains only whitespace"}
	}

	if len(trimmed) < minLength {
		return Result{
			Quality: QualityTooShort,
			Reason:  fmt.Sprintf("response too short: %d chars (min %d)", len(trimmed), minLength),
		}
	}

	lower := strings.ToLower(trimmed)
	for _, pattern := range errorPatterns {
		if pattern.MatchString(lower) {
			return Result{
				Quality: QualityErrorIndicator,
				Reason:  fmt.Sprintf("response matches error pattern %q", pattern.String()),
			}
		}
	}

	return Result{Valid: true, Quality: QualityValid}
}
