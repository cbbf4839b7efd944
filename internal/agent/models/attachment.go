// Package models defines the agent-side data models for attachment sync.
package models

import (
	"encoding/json"
	"time"
)

// State classifies where an attachment is in its upload lifecycle.
type State string

const (
	// StateQueuedUpload marks an attachment waiting to be claimed by an
	// upload worker.
	StateQueuedUpload State = "QUEUED_UPLOAD"

	// StateUploading marks an attachment exclusively leased to one worker.
	StateUploading State = "UPLOADING"

	// StateSynced marks an attachment durably stored remotely.
	StateSynced State = "SYNCED"

	// StateQueuedDelete marks an attachment awaiting remote deletion.
	StateQueuedDelete State = "QUEUED_DELETE"

	// StateFailed is terminal: the retry bound was exhausted and the
	// attachment needs manual intervention or an explicit re-enqueue.
	StateFailed State = "FAILED"
)

// Metadata is the opaque key/value bag set by the capture layer (schedule
// id, photo id, technician id, role). The sync core never interprets it; it
// is copied verbatim onto operation log entries.
type Metadata map[string]string

// JSON serializes the bag for storage. A nil bag serializes as "{}" so the
// column stays non-null.
func (m Metadata) JSON() (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// MetadataFromJSON deserializes a metadata bag stored as JSON.
func MetadataFromJSON(s string) (Metadata, error) {
	if s == "" {
		return Metadata{}, nil
	}
	var m Metadata
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Attachment is one locally captured file tracked through upload to remote
// durability.
//
// Invariant: at most one of LocalPath/RemoteURL may be empty, never both.
// A SYNCED record keeps both until local cleanup runs.
type Attachment struct {
	// ID is a stable unique identifier assigned at capture time.
	ID string

	// LocalPath points at the on-device file. Required until the record is
	// remote-only.
	LocalPath string

	// RemoteURL is set only after a successful upload and is immutable
	// once set.
	RemoteURL string

	// MediaType is the MIME type derived from the encoded bytes.
	MediaType string

	// SizeBytes is the byte length of the local file at enqueue time.
	SizeBytes int64

	State State

	// RetryCount starts at 0 and is incremented on each failed attempt.
	RetryCount int

	// NextRetryAt gates re-claiming after a failure. Zero means eligible
	// immediately.
	NextRetryAt time.Time

	Metadata Metadata

	CreatedAt time.Time
	UpdatedAt time.Time
}
