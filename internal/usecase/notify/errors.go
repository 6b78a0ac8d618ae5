package notify

import "errors"

// Sentinel errors for notify use case operations.
var (
	// ErrNoTargetDevices indicates that the target resolved to no active device.
	ErrNoTargetDevices = errors.New("no target devices found")

	// ErrTemplateNotFound indicates that the referenced template does not exist
	// for the tenant (by id, or by code in the requested and default locale).
	ErrTemplateNotFound = errors.New("notification message template not found")
)
