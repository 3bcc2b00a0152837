// Package trigger defines the events the four monitor sources emit
// and the aggregator that merges them into a single escalating threat
// decision handed to the destruction engine.
package trigger

import "time"

// Source identifies which monitor produced an event.
type Source uint8

const (
	SourceInactivity Source = iota
	SourceReauthOverdue
	SourceRemoteRevocation
	SourceForensicDetection
	// SourceManual is a user-initiated panic wipe from the host app.
	SourceManual
)

// String returns a human-readable source name.
func (s Source) String() string {
	switch s {
	case SourceInactivity:
		return "inactivity"
	case SourceReauthOverdue:
		return "reauth_overdue"
	case SourceRemoteRevocation:
		return "remote_revocation"
	case SourceForensicDetection:
		return "forensic_detection"
	case SourceManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Severity grades an event.
type Severity uint8

const (
	SeverityWarning Severity = iota
	SeverityCritical
)

// String returns a human-readable severity name.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Event is a single emitted decision from a trigger source. Immutable
// once created; produced by a source, consumed once by the aggregator,
// never persisted.
type Event struct {
	Source     Source
	Severity   Severity
	Reason     string
	DetectedAt time.Time
	Evidence   []string
}
