package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	sc "github.com/fieldtrace/mediasync/internal/server/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}

	deleteObject = func(c *s3.Client, ctx context.Context, in *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
		return c.DeleteObject(ctx, in)
	}
)

// SignedUpload is a short-lived upload destination plus the stable URL the
// object will have once stored.
type SignedUpload struct {
	UploadURL string
	RemoteURL string
	ExpiresAt time.Time
}

// PresignService issues presigned PUT URLs against the S3-compatible
// backend and removes objects when attachments are deleted.
type PresignService struct {
	config *sc.Config
}

func NewPresignService(config *sc.Config) *PresignService {
	return &PresignService{config: config}
}

// StorageKey derives the object key for an attachment. The key is a pure
// function of device and attachment id, so re-signing after a crashed
// upload targets the same object instead of leaking orphans.
func StorageKey(deviceID, attachmentID string) string {
	return fmt.Sprintf("devices/%s/%s", deviceID, attachmentID)
}

func (s *PresignService) getClient() (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(context.Background(),
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		o.UsePathStyle = true
	}), nil
}

// SignUpload returns a presigned PUT for the attachment's storage key.
func (s *PresignService) SignUpload(ctx context.Context, deviceID, attachmentID, mediaType string) (*SignedUpload, error) {
	client, err := s.getClient()
	if err != nil {
		return nil, err
	}
	presignClient := newS3PresignClient(client)

	bucket := s.config.S3Bucket
	key := StorageKey(deviceID, attachmentID)

	in := &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}
	if mediaType != "" {
		in.ContentType = &mediaType
	}

	req, err := presignPutObject(presignClient, ctx, in,
		s3.WithPresignExpires(s.config.SignedURLValidityDuration))
	if err != nil {
		return nil, err
	}

	return &SignedUpload{
		UploadURL: req.URL,
		RemoteURL: s.remoteURL(key),
		ExpiresAt: time.Now().Add(s.config.SignedURLValidityDuration),
	}, nil
}

// DeleteObject removes the attachment's object from storage. Deleting a key
// that was never uploaded is not an error.
func (s *PresignService) DeleteObject(ctx context.Context, deviceID, attachmentID string) error {
	client, err := s.getClient()
	if err != nil {
		return err
	}

	bucket := s.config.S3Bucket
	key := StorageKey(deviceID, attachmentID)

	_, err = deleteObject(client, ctx, &s3.DeleteObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	return err
}

func (s *PresignService) remoteURL(key string) string {
	base := strings.TrimRight(s.config.S3BaseEndpoint, "/")
	return fmt.Sprintf("%s/%s/%s", base, s.config.S3Bucket, key)
}
