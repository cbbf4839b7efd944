package models

import "time"

// OperationType classifies an operation log entry.
type OperationType string

const (
	OperationAdd    OperationType = "ADD"
	OperationDelete OperationType = "DELETE"
)

// OperationID derives the stable idempotency key for the single logical
// ADD/DELETE event of an attachment. Appending twice with the same key
// produces exactly one row.
func OperationID(attachmentID string, op OperationType) string {
	return attachmentID + ":" + string(op)
}

// OperationEntry is an immutable fact: "this attachment was added/deleted
// with this outcome". Rows are never updated except to stamp DeliveredAt or
// FailedReason, and never deleted, which gives the remote system a
// replayable audit trail.
type OperationEntry struct {
	// ID is the idempotency key, see OperationID.
	ID string

	Type OperationType

	AttachmentID string

	// RemoteURL is present on ADD entries once uploaded.
	RemoteURL string

	// OwnerMetadata is copied from the attachment's metadata bag at
	// creation time.
	OwnerMetadata Metadata

	CreatedAt time.Time

	// DeliveredAt is nil until the backend connector confirms remote
	// application.
	DeliveredAt *time.Time

	// FailedReason is set when the remote rejects the entry structurally.
	// Such entries are terminal and never retried.
	FailedReason string
}

// Delivered reports whether the entry was confirmed applied remotely.
func (e *OperationEntry) Delivered() bool {
	return e.DeliveredAt != nil
}

// Terminal reports whether the entry reached a terminal failure.
func (e *OperationEntry) Terminal() bool {
	return e.FailedReason != ""
}
