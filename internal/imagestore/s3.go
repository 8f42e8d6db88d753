package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the subset of *s3.Client the store uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps images as "<folder>/<name>" objects in one bucket.
type S3Store struct {
	client    s3API
	bucket    string
	publicURL string
}

var _ Store = (*S3Store)(nil)

// NewS3Store loads AWS credentials and region from the default chain
// (environment, shared config, instance role). publicURL is the base objects
// are served from; empty means the bucket's virtual-hosted S3 endpoint.
func NewS3Store(ctx context.Context, bucket, publicURL string) (*S3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("imagestore: S3 bucket is required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("imagestore: loading AWS config: %w", err)
	}
	return newS3Store(s3.NewFromConfig(awsCfg), bucket, publicURL), nil
}

func newS3Store(client s3API, bucket, publicURL string) *S3Store {
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://%s.s3.amazonaws.com", bucket)
	}
	return &S3Store{client: client, bucket: bucket, publicURL: strings.TrimRight(publicURL, "/")}
}

func (s *S3Store) key(folder, name string) string {
	return folder + "/" + name
}

func (s *S3Store) Put(ctx context.Context, folder, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(folder, name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("image/jpeg"),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return fmt.Errorf("imagestore: uploading %s: %w", name, err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, folder, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(folder, name)),
	})
	if err != nil {
		return fmt.Errorf("imagestore: deleting %s: %w", name, err)
	}
	return nil
}

func (s *S3Store) URL(folder, name string) string {
	return s.publicURL + "/" + s.key(folder, name)
}
