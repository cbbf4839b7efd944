package models

import "time"

// AttachmentState is the server's view of an attachment's lifecycle.
type AttachmentState string

const (
	// AttachmentPresent means an ADD was applied and the object is live.
	AttachmentPresent AttachmentState = "PRESENT"
	// AttachmentDeleted means a DELETE was applied. The row is kept so a
	// late or replayed ADD for the same attachment stays rejected.
	AttachmentDeleted AttachmentState = "DELETED"
)

// Attachment is the reconciled record of one uploaded capture.
type Attachment struct {
	ID            string
	DeviceID      string
	RemoteURL     string
	StorageKey    string
	MediaType     string
	OwnerMetadata map[string]string
	State         AttachmentState
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
