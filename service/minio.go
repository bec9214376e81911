package service

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/AnTengye/contractsign/config"
	"github.com/AnTengye/contractsign/pkg/logger"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ArchiveService keeps copies of PDFs uploaded for verification in MinIO
type ArchiveService struct {
	client *minio.Client
	bucket string
	config *config.ArchiveConfig
}

func NewArchiveService(cfg *config.ArchiveConfig) (*ArchiveService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &ArchiveService{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *ArchiveService) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// ObjectName is where an uploaded PDF for token is stored
func ObjectName(token, filename string) string {
	return fmt.Sprintf("verification/%s/%s-%s", token, uuid.New().String(), path.Base(filename))
}

// Store uploads a verification PDF
func (s *ArchiveService) Store(ctx context.Context, token, filename string, data []byte) error {
	objectName := ObjectName(token, filename)
	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/pdf",
		UserMetadata: map[string]string{
			"document-token": token,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}

	publicURL := s.GetPublicURL(objectName)
	url, err := s.GetPresignedURL(ctx, objectName)
	if err != nil {
		logger.Warn(ctx, "archived pdf has no download link", "object", objectName, "public_url", publicURL, "error", err)
		return nil
	}
	logger.Info(ctx, "pdf archived", "token", token, "object", objectName, "url", url, "public_url", publicURL)
	return nil
}

// GetPresignedURL generates a presigned URL for the object with expiration
func (s *ArchiveService) GetPresignedURL(ctx context.Context, objectName string) (string, error) {
	expiry := time.Duration(s.config.ExpireDays) * 24 * time.Hour
	url, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url.String(), nil
}

// GetPublicURL returns a public URL for the object (if bucket policy allows)
func (s *ArchiveService) GetPublicURL(objectName string) string {
	protocol := "http"
	if s.config.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, s.config.Endpoint, s.bucket, objectName)
}
