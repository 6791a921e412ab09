package events

import "time"

// EventType identifies the kind of event being published.
type EventType string

const (
	RunStarted        EventType = "run_started"
	DeviceBackedUp    EventType = "device_backed_up"
	ExtractionFailed  EventType = "extraction_failed"
	ReplicationFailed EventType = "replication_failed"
	RunCompleted      EventType = "run_completed"
)

// Severity indicates the urgency of an event.
type Severity int

const (
	SeverityInfo     Severity = 0
	SeverityWarning  Severity = 1
	SeverityCritical Severity = 2
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a config string to a Severity, defaulting to warning.
func ParseSeverity(s string) Severity {
	switch s {
	case "info":
		return SeverityInfo
	case "warning":
		return SeverityWarning
	case "critical":
		return SeverityCritical
	default:
		return SeverityWarning
	}
}

// Event is the payload published through the bus.
type Event struct {
	Type       EventType
	Severity   Severity
	Hostname   string
	DeviceUUID string
	Message    string
	Timestamp  time.Time
}
