package dispatch

import "errors"

var (
	// ErrNoEligibleDevices is returned when a dispatch call resolves to no devices at all.
	ErrNoEligibleDevices = errors.New("no eligible devices")

	// ErrNoSender marks a batch for a channel that has no sender registered.
	ErrNoSender = errors.New("no sender registered for channel")
)
