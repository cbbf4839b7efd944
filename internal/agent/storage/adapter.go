// Package storage defines the pluggable capability that turns a local file
// into a durably-addressable remote URL.
package storage

import (
	"context"
	"time"

	"github.com/fieldtrace/mediasync/internal/agent/models"
)

// SignedTarget is a short-lived, single-use upload destination obtained
// from the broker.
type SignedTarget struct {
	// UploadURL receives the byte transfer (HTTP PUT).
	UploadURL string

	// RemoteURL is the stable address of the object once the transfer
	// completes.
	RemoteURL string

	// MediaType travels with the target so the PUT carries the same
	// Content-Type the broker signed for.
	MediaType string

	ExpiresAt time.Time
}

// Adapter is the storage capability consumed by the upload workers.
//
// Transfer is treated as atomic: either the remote object exists at
// RemoteURL afterwards, or the call reports failure.
type Adapter interface {
	// RequestUploadTarget obtains a signed destination. A broker
	// rejection (auth) fails distinctly from the broker being merely
	// unreachable; callers tell them apart with errors.Is.
	RequestUploadTarget(ctx context.Context, a *models.Attachment) (*SignedTarget, error)

	// Transfer uploads the local file and returns the final remote URL.
	Transfer(ctx context.Context, localPath string, target *SignedTarget) (string, error)

	// Delete removes the remote object. It is idempotent; failures are
	// retried independently of upload retries.
	Delete(ctx context.Context, attachmentID, remoteURL string) error
}
