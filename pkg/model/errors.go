package model

import "fmt"

// Error is a sentinel error type, following the teacher's pattern of plain
// string-backed errors instead of a bespoke error hierarchy.
type Error string

func (e Error) Error() string { return string(e) }

const (
	// ErrNotFound is a sentinel for a lookup with no rows. The adapters in
	// this module report no rows as an empty result instead of returning it.
	ErrNotFound Error = "not found"
	// ErrRateLimited is returned when an upstream source throttles us.
	ErrRateLimited Error = "rate limited by upstream service"
)

// InvalidQueryError is a user-facing classifier rejection (§4.1, §7).
type InvalidQueryError struct {
	Reason string
}

func (e *InvalidQueryError) Error() string { return e.Reason }

// SourceUnavailableError wraps a transient adapter failure. The collator
// fails the whole request rather than guessing at a partial answer (§4.4.5).
type SourceUnavailableError struct {
	Source DataSource
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// SourceCapError records that an adapter truncated results at its hard
// result cap (§4.2, §7). It is not fatal: the caller still gets a response,
// with this attached as a warning.
type SourceCapError struct {
	Source DataSource
	Cap    int
}

func (e *SourceCapError) Error() string {
	return fmt.Sprintf("source %s result cap (%d) reached, results truncated", e.Source, e.Cap)
}

// ExpansionTimeoutError is returned (as a warning, not a hard failure) when
// set expansion exceeds its hard deadline (§4.5, §7).
type ExpansionTimeoutError struct {
	Name string
}

func (e *ExpansionTimeoutError) Error() string {
	return fmt.Sprintf("set expansion of %s exceeded its timeout", e.Name)
}

// ExpansionTruncatedError is returned (as a warning) when set expansion
// hits its size or depth cap before converging (§4.5, §7).
type ExpansionTruncatedError struct {
	Name   string
	Reason string
}

func (e *ExpansionTruncatedError) Error() string {
	return fmt.Sprintf("set expansion of %s truncated: %s", e.Name, e.Reason)
}
