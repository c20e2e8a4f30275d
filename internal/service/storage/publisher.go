// Package storage publishes exported files to object storage.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"airlift-demo/internal/config"
	"airlift-demo/internal/domain"
)

// Publisher copies a local file to a destination and returns its URI.
type Publisher interface {
	Publish(ctx context.Context, localPath string) (string, error)
	Enabled() bool
}

// NopPublisher is used when no object storage is configured.
type NopPublisher struct{}

// Publish implements Publisher; it does nothing.
func (NopPublisher) Publish(context.Context, string) (string, error) { return "", nil }

// Enabled implements Publisher.
func (NopPublisher) Enabled() bool { return false }

// objectPutter is the subset of the S3 client used for uploads.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads files to <bucket>/<prefix>/<file name>.
type S3Publisher struct {
	client objectPutter
	bucket string
	prefix string
	signer URLSigner
	logger *slog.Logger
}

// NewPublisher returns an S3Publisher when cfg carries S3 settings and a
// NopPublisher otherwise.
func NewPublisher(cfg *config.Config, logger *slog.Logger) Publisher {
	if !cfg.HasS3Config() {
		return NopPublisher{}
	}
	opts := s3.Options{
		Region: *cfg.S3Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			*cfg.S3KeyID, *cfg.S3Secret, "",
		),
	}
	if cfg.S3Endpoint != nil {
		endpoint := *cfg.S3Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true // S3-compatible stores
	}
	client := s3.New(opts)
	return NewS3Publisher(client, *cfg.S3Bucket, "exports", logger).WithSigner(NewS3Presigner(client))
}

// NewS3Publisher creates a new S3Publisher.
func NewS3Publisher(client objectPutter, bucket, prefix string, logger *slog.Logger) *S3Publisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &S3Publisher{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With("component", "publisher"),
	}
}

// WithSigner makes p issue download links through signer.
func (p *S3Publisher) WithSigner(signer URLSigner) *S3Publisher {
	p.signer = signer
	return p
}

// Enabled implements Publisher.
func (p *S3Publisher) Enabled() bool { return true }

// PresignGetObject implements URLSigner.
func (p *S3Publisher) PresignGetObject(ctx context.Context, s3URI string, expiry time.Duration) (string, error) {
	if p.signer == nil {
		return "", domain.ErrConfig("publisher has no URL signer")
	}
	return p.signer.PresignGetObject(ctx, s3URI, expiry)
}

// Publish implements Publisher.
func (p *S3Publisher) Publish(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath) //nolint:gosec // path is an export produced by this process
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close() //nolint:errcheck

	key := path.Join(p.prefix, filepath.Base(localPath))
	if _, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(localPath)),
	}); err != nil {
		return "", fmt.Errorf("upload %s to s3://%s/%s: %w", localPath, p.bucket, key, err)
	}

	uri := fmt.Sprintf("s3://%s/%s", p.bucket, key)
	p.logger.Info("published file", "path", localPath, "uri", uri)
	return uri, nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
