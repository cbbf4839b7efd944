package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fieldtrace/mediasync/internal/agent/api"
	"github.com/fieldtrace/mediasync/internal/agent/models"
	"github.com/fieldtrace/mediasync/internal/common"
	"github.com/fieldtrace/mediasync/internal/logging"
)

// Broker is the slice of the API client the adapter needs.
type Broker interface {
	SignUpload(ctx context.Context, attachmentID, mediaType string) (*api.SignUploadResponse, error)
	DeleteAttachment(ctx context.Context, attachmentID, remoteURL string) error
}

// SignedURLAdapter implements Adapter against the signed-URL upload
// contract: ask the broker for a PUT target, stream the file bytes to it,
// report the stable object URL.
type SignedURLAdapter struct {
	broker Broker
	httpc  *http.Client
	log    logging.Logger
}

func NewSignedURLAdapter(broker Broker, transferTimeout time.Duration, log logging.Logger) *SignedURLAdapter {
	return &SignedURLAdapter{
		broker: broker,
		httpc:  &http.Client{Timeout: transferTimeout},
		log:    log.With("component", "storage_adapter"),
	}
}

func (s *SignedURLAdapter) RequestUploadTarget(ctx context.Context, a *models.Attachment) (*SignedTarget, error) {
	resp, err := s.broker.SignUpload(ctx, a.ID, a.MediaType)
	if err != nil {
		return nil, err
	}
	return &SignedTarget{
		UploadURL: resp.UploadURL,
		RemoteURL: resp.RemoteURL,
		MediaType: a.MediaType,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

func (s *SignedURLAdapter) Transfer(ctx context.Context, localPath string, target *SignedTarget) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, errors.Join(common.ErrLocalStorage, err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", localPath, errors.Join(common.ErrLocalStorage, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.UploadURL, f)
	if err != nil {
		return "", err
	}
	req.ContentLength = info.Size()
	mediaType := target.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", mediaType)

	resp, err := s.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("put %s: %w: %w", target.UploadURL, common.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("upload failed: %s; body: %s: %w", resp.Status, string(b), common.ErrTransient)
	}

	return target.RemoteURL, nil
}

func (s *SignedURLAdapter) Delete(ctx context.Context, attachmentID, remoteURL string) error {
	return s.broker.DeleteAttachment(ctx, attachmentID, remoteURL)
}
