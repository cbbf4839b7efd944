// Package httpapi exposes the server's JSON endpoints: device registration
// and login, upload signing, operation log reconciliation and attachment
// deletion.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fieldtrace/mediasync/internal/common"
	"github.com/fieldtrace/mediasync/internal/logging"
	"github.com/fieldtrace/mediasync/internal/server/models"
	"github.com/fieldtrace/mediasync/internal/server/services"
	"github.com/gin-gonic/gin"
)

// DeviceAuthenticator is the slice of the device service the transport uses.
type DeviceAuthenticator interface {
	Register(ctx context.Context, name, secret string) (*models.Device, error)
	Login(ctx context.Context, deviceID, secret string) (string, error)
	Authenticate(token string) (string, error)
}

// UploadSigner issues presigned upload targets and removes stored objects.
type UploadSigner interface {
	SignUpload(ctx context.Context, deviceID, attachmentID, mediaType string) (*services.SignedUpload, error)
	DeleteObject(ctx context.Context, deviceID, attachmentID string) error
}

// Reconciler applies device operation log batches.
type Reconciler interface {
	Apply(ctx context.Context, deviceID string, entries []services.OperationInput) ([]services.OperationOutcome, error)
}

type Handler struct {
	devices    DeviceAuthenticator
	signer     UploadSigner
	reconciler Reconciler
	log        logging.Logger
}

func NewHandler(devices DeviceAuthenticator, signer UploadSigner, reconciler Reconciler, log logging.Logger) *Handler {
	return &Handler{
		devices:    devices,
		signer:     signer,
		reconciler: reconciler,
		log:        log.With("component", "httpapi"),
	}
}

type registerRequest struct {
	Name   string `json:"name"`
	Secret string `json:"secret" binding:"required"`
}

type registerResponse struct {
	DeviceID string `json:"deviceId"`
}

type loginRequest struct {
	DeviceID string `json:"deviceId" binding:"required"`
	Secret   string `json:"secret" binding:"required"`
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
}

type signUploadRequest struct {
	AttachmentID string `json:"attachmentId" binding:"required"`
	MediaType    string `json:"mediaType"`
}

type signUploadResponse struct {
	UploadURL string    `json:"uploadUrl"`
	RemoteURL string    `json:"remoteUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type operationPayload struct {
	ID            string            `json:"id"`
	OperationType string            `json:"operationType"`
	AttachmentID  string            `json:"attachmentId"`
	RemoteURL     string            `json:"remoteUrl"`
	OwnerMetadata map[string]string `json:"ownerMetadata"`
	CreatedAt     time.Time         `json:"createdAt"`
}

type operationsRequest struct {
	Entries []operationPayload `json:"entries"`
}

type operationResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type operationsResponse struct {
	Results []operationResult `json:"results"`
}

type deleteRequest struct {
	AttachmentID string `json:"attachmentId" binding:"required"`
	RemoteURL    string `json:"remoteUrl"`
}

func (h *Handler) healthz(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := h.devices.Register(c.Request.Context(), req.Name, req.Secret)
	if err != nil {
		if errors.Is(err, common.ErrPermanentRejected) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.internalError(c, "registering device", err)
		return
	}
	c.JSON(http.StatusOK, registerResponse{DeviceID: d.ID})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.devices.Login(c.Request.Context(), req.DeviceID, req.Secret)
	if err != nil {
		if errors.Is(err, common.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid device credentials"})
			return
		}
		h.internalError(c, "logging device in", err)
		return
	}
	c.JSON(http.StatusOK, loginResponse{AccessToken: token})
}

func (h *Handler) signUpload(c *gin.Context) {
	var req signUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	signed, err := h.signer.SignUpload(c.Request.Context(), deviceID(c), req.AttachmentID, req.MediaType)
	if err != nil {
		h.internalError(c, "signing upload", err)
		return
	}
	c.JSON(http.StatusOK, signUploadResponse{
		UploadURL: signed.UploadURL,
		RemoteURL: signed.RemoteURL,
		ExpiresAt: signed.ExpiresAt,
	})
}

func (h *Handler) operations(c *gin.Context) {
	var req operationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries := make([]services.OperationInput, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, services.OperationInput{
			ID:            e.ID,
			Type:          e.OperationType,
			AttachmentID:  e.AttachmentID,
			RemoteURL:     e.RemoteURL,
			OwnerMetadata: e.OwnerMetadata,
			CreatedAt:     e.CreatedAt,
		})
	}

	outcomes, err := h.reconciler.Apply(c.Request.Context(), deviceID(c), entries)
	if err != nil {
		h.internalError(c, "applying operations", err)
		return
	}

	results := make([]operationResult, 0, len(outcomes))
	for _, o := range outcomes {
		results = append(results, operationResult{ID: o.ID, Status: o.Status, Reason: o.Reason})
	}
	c.JSON(http.StatusOK, operationsResponse{Results: results})
}

func (h *Handler) deleteAttachment(c *gin.Context) {
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.signer.DeleteObject(c.Request.Context(), deviceID(c), req.AttachmentID); err != nil {
		h.internalError(c, "deleting object", err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) internalError(c *gin.Context, action string, err error) {
	h.log.Error(c.Request.Context(), action, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
