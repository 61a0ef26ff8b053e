package aws

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3ArtifactStore implements ArtifactStore on one S3 bucket.
type S3ArtifactStore struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
}

// NewS3ArtifactStore creates an artifact store for bucket.
func NewS3ArtifactStore(client *s3.Client, bucket string) *S3ArtifactStore {
	return &S3ArtifactStore{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
	}
}

// Upload stores data under key and returns the key as the handle.
func (s *S3ArtifactStore) Upload(ctx context.Context, key string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-rdp"),
	})
	if err != nil {
		return "", fmt.Errorf("uploading to s3://%s/%s: %w", s.bucket, key, err)
	}
	return key, nil
}

// PresignedURL returns a GET link for handle valid for ttl.
func (s *S3ArtifactStore) PresignedURL(ctx context.Context, handle string, ttl time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(handle),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presigning s3://%s/%s: %w", s.bucket, handle, err)
	}
	return req.URL, nil
}
