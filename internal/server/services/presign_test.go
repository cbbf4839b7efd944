package services

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	sc "github.com/fieldtrace/mediasync/internal/server/config"
)

func newPresignSvc() *PresignService {
	cfg := &sc.Config{
		S3Region:                  "us-east-1",
		S3RootUser:                "minioadmin",
		S3RootPassword:            "minioadmin",
		S3BaseEndpoint:            "http://127.0.0.1:9000/",
		S3Bucket:                  "captures",
		SignedURLValidityDuration: 15 * time.Minute,
	}
	return NewPresignService(cfg)
}

func stubAWS(t *testing.T) {
	t.Helper()

	origLoad := loadDefaultAWSConfig
	origNewS3 := newS3ClientFromConfig
	origNewPre := newS3PresignClient
	origPut := presignPutObject
	origDel := deleteObject
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNewS3
		newS3PresignClient = origNewPre
		presignPutObject = origPut
		deleteObject = origDel
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return &s3.Client{}
	}
	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return &s3.PresignClient{}
	}
}

func TestStorageKey_Deterministic(t *testing.T) {
	a := StorageKey("d1", "att-1")
	b := StorageKey("d1", "att-1")
	if a != b {
		t.Fatalf("storage key not deterministic: %q vs %q", a, b)
	}
	if a != "devices/d1/att-1" {
		t.Fatalf("unexpected storage key: %q", a)
	}
}

func TestSignUpload(t *testing.T) {
	stubAWS(t)
	svc := newPresignSvc()

	var capturedKey, capturedContentType string
	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		capturedKey = *in.Key
		if in.ContentType != nil {
			capturedContentType = *in.ContentType
		}
		return &v4.PresignedHTTPRequest{URL: "http://signed/" + *in.Key}, nil
	}

	signed, err := svc.SignUpload(context.Background(), "d1", "att-1", "image/jpeg")
	if err != nil {
		t.Fatalf("SignUpload error: %v", err)
	}

	if capturedKey != "devices/d1/att-1" {
		t.Fatalf("unexpected key: %q", capturedKey)
	}
	if capturedContentType != "image/jpeg" {
		t.Fatalf("content type not forwarded: %q", capturedContentType)
	}
	if signed.UploadURL != "http://signed/devices/d1/att-1" {
		t.Fatalf("unexpected upload url: %q", signed.UploadURL)
	}
	if signed.RemoteURL != "http://127.0.0.1:9000/captures/devices/d1/att-1" {
		t.Fatalf("unexpected remote url: %q", signed.RemoteURL)
	}
	if signed.ExpiresAt.Before(time.Now()) {
		t.Fatalf("expiry in the past: %v", signed.ExpiresAt)
	}
}

func TestDeleteObject(t *testing.T) {
	stubAWS(t)
	svc := newPresignSvc()

	var capturedBucket, capturedKey string
	deleteObject = func(c *s3.Client, ctx context.Context, in *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
		capturedBucket = *in.Bucket
		capturedKey = *in.Key
		return &s3.DeleteObjectOutput{}, nil
	}

	if err := svc.DeleteObject(context.Background(), "d1", "att-1"); err != nil {
		t.Fatalf("DeleteObject error: %v", err)
	}
	if capturedBucket != "captures" || capturedKey != "devices/d1/att-1" {
		t.Fatalf("unexpected target: %s/%s", capturedBucket, capturedKey)
	}
}
