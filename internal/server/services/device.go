// Package services contains server-side business logic: device auth, upload
// signing and reconciliation of device operation logs.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldtrace/mediasync/internal/common"
	"github.com/fieldtrace/mediasync/internal/server/auth"
	"github.com/fieldtrace/mediasync/internal/server/config"
	"github.com/fieldtrace/mediasync/internal/server/models"
	"github.com/fieldtrace/mediasync/internal/server/repositories/devices"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DeviceService handles device registration and login.
type DeviceService struct {
	repo                        devices.Repository
	jwtSecret                   []byte
	accessTokenValidityDuration time.Duration
}

func NewDeviceService(repo devices.Repository, cfg *config.Config) *DeviceService {
	return &DeviceService{
		repo:                        repo,
		jwtSecret:                   []byte(cfg.SecretKey),
		accessTokenValidityDuration: cfg.AccessTokenValidityDuration,
	}
}

// Register creates a device with a fresh id and stores a bcrypt hash of the
// provided secret. The secret itself is never persisted.
func (s *DeviceService) Register(ctx context.Context, name, secret string) (*models.Device, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty device secret: %w", common.ErrPermanentRejected)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing secret: %w", err)
	}

	d := &models.Device{
		ID:         uuid.New().String(),
		Name:       name,
		SecretHash: hash,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("creating device: %w", err)
	}
	return d, nil
}

// Login verifies the device secret and mints an access token. Unknown
// devices and wrong secrets are indistinguishable to the caller.
func (s *DeviceService) Login(ctx context.Context, deviceID, secret string) (string, error) {
	d, err := s.repo.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "", common.ErrUnauthorized
		}
		return "", fmt.Errorf("loading device: %w", err)
	}

	if bcrypt.CompareHashAndPassword(d.SecretHash, []byte(secret)) != nil {
		return "", common.ErrUnauthorized
	}

	return auth.GenerateToken(d.ID, s.jwtSecret, s.accessTokenValidityDuration)
}

// Authenticate resolves an access token back to a device id.
func (s *DeviceService) Authenticate(token string) (string, error) {
	return auth.GetDeviceIDFromToken(token, s.jwtSecret)
}
