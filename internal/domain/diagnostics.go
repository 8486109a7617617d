package domain

import "time"

// DiagnosticStatus indicates whether a single startup check passed.
type DiagnosticStatus string

const (
	DiagnosticStatusPass DiagnosticStatus = "pass"
	DiagnosticStatusWarn DiagnosticStatus = "warn"
	DiagnosticStatusFail DiagnosticStatus = "fail"
)

// DiagnosticItem is one startup check result with optional hint.
// FixAvailable marks checks the app can repair itself, such as
// installing a missing engine or creating a directory.
type DiagnosticItem struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Status       DiagnosticStatus `json:"status"`
	Message      string           `json:"message"`
	Hint         string           `json:"hint,omitempty"`
	FixAvailable bool             `json:"fixAvailable,omitempty"`
}

// DiagnosticReport aggregates startup checks for UI and CLI output.
type DiagnosticReport struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	HasFailures bool             `json:"hasFailures"`
	Items       []DiagnosticItem `json:"items"`
}
