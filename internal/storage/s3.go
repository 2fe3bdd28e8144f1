package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Options configures the S3 archiver.
type Options struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Uploader is the subset of the S3 upload manager the archiver uses.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archiver mirrors produced artifacts into a bucket.
type S3Archiver struct {
	client   *s3.Client
	uploader Uploader
	bucket   string
	prefix   string
}

// NewS3Archiver loads AWS config (default chain, optionally static keys) and
// builds an uploader for opts.Bucket.
func NewS3Archiver(ctx context.Context, opts Options) (*S3Archiver, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is empty")
	}
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return &S3Archiver{
		client:   cli,
		uploader: manager.NewUploader(cli),
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
	}, nil
}

// NewS3ArchiverWithUploader is used when the caller already owns an uploader.
func NewS3ArchiverWithUploader(u Uploader, bucket, prefix string) *S3Archiver {
	return &S3Archiver{uploader: u, bucket: bucket, prefix: prefix}
}

// Key returns the object key for an artifact.
func (a *S3Archiver) Key(operation, id, name string) string {
	return path.Join(a.prefix, operation, id, name)
}

// Archive uploads the file at localPath and returns its s3:// URL.
func (a *S3Archiver) Archive(ctx context.Context, operation, id, localPath, contentType string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	key := a.Key(operation, id, filepath.Base(localPath))
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"conversion-id": id,
			"operation":     operation,
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3 failed: %w", err)
	}
	url := fmt.Sprintf("s3://%s/%s", a.bucket, key)
	log.Info().Str("conversion_id", id).Str("url", url).Msg("archived artifact")
	return url, nil
}

// HeadBucket verifies the bucket is reachable.
func (a *S3Archiver) HeadBucket(ctx context.Context) error {
	if a.client == nil {
		return fmt.Errorf("s3 client not configured")
	}
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	return err
}
