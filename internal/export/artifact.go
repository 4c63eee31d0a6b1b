// Package export renders compliance exports of the audit trail and stores
// the resulting artifacts.
package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

// S3API is the subset of the S3 client used by ArtifactStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArtifactStore writes export artifacts to S3. If bucket is empty, all
// operations are no-ops and exports are returned inline only.
type ArtifactStore struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

func NewArtifactStore(s3Client S3API, bucket string, logger *logging.Logger) *ArtifactStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &ArtifactStore{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled returns true if artifact storage is configured.
func (s *ArtifactStore) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// Put uploads one artifact and returns its object key.
func (s *ArtifactStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("export: s3 put %s: %w", key, err)
	}
	s.logger.Info("export artifact stored", "s3_key", key, "bytes", len(data))
	return key, nil
}
