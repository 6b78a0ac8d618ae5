package entity

import "time"

// FailureKind classifies why a delivery attempt failed.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureTransient FailureKind = "transient"
	FailureTimeout   FailureKind = "timeout"
	// FailurePermanent attempts (rejected token or address, missing credential)
	// are never retried.
	FailurePermanent FailureKind = "permanent"
)

// DeliveryOutcome is the persisted record of one (device, channel) delivery attempt.
// Job-level audit rows produced by the schedule trigger have DeviceID 0.
type DeliveryOutcome struct {
	ID             int64
	DeviceID       int64
	TenantID       string
	Channel        ChannelType
	Source         SourceKind
	JobID          *int64
	Title          string
	Body           string
	Success        bool
	Message        string
	FailureKind    FailureKind
	RetryCount     int
	FirstAttemptAt time.Time
	LastAttemptAt  time.Time
}
