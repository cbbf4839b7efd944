package models

import "time"

// Operation is an applied operation log entry, keyed by the device's
// idempotency id. Replays of an already applied entry are acknowledged
// without side effects.
type Operation struct {
	ID            string
	DeviceID      string
	Type          string
	AttachmentID  string
	RemoteURL     string
	OwnerMetadata map[string]string
	CreatedAt     time.Time
	AppliedAt     time.Time
}
