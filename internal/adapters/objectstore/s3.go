// Package objectstore implements the media object store on S3-compatible
// storage. Any endpoint speaking the S3 API works, including MinIO and R2.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Options configure the S3 client.
type Options struct {
	// Endpoint overrides the AWS endpoint for S3-compatible stores. Empty
	// means the default AWS resolution applies.
	Endpoint string
	Region   string
	Bucket   string

	// Static credentials. When both are empty the default AWS credential
	// chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle addresses objects as endpoint/bucket/key instead of
	// bucket.endpoint/key. Required for MinIO.
	UsePathStyle bool
}

// S3Store implements core.ObjectStore against an S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates an object store client for the configured bucket.
func NewS3Store(ctx context.Context, opts Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}

	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if opts.AccessKeyID != "" || opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return &S3Store{client: client, bucket: opts.Bucket}, nil
}

// Download fetches the object at key into destPath, creating parent
// directories as needed. The file is written atomically via a temp file.
func (s *S3Store) Download(ctx context.Context, key, destPath string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get object %s: %w", key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return fmt.Errorf("finalize download: %w", err)
	}
	return nil
}

// Upload stores the file at srcPath under key and returns its location.
func (s *S3Store) Upload(ctx context.Context, key, srcPath, contentType string) (string, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.Location(key), nil
}

// Put stores an in-memory payload under key and returns its location.
func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.Location(key), nil
}

// Location returns the bucket-relative location recorded for stored objects.
func (s *S3Store) Location(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}
