package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"airlift-demo/internal/domain"
)

// DownloadURLExpiry is how long presigned download links stay valid.
const DownloadURLExpiry = 24 * time.Hour

// URLSigner issues time-limited download links for published files.
type URLSigner interface {
	PresignGetObject(ctx context.Context, s3URI string, expiry time.Duration) (string, error)
}

// S3Presigner signs GET requests for objects in S3-compatible storage.
type S3Presigner struct {
	client *s3.PresignClient
}

// NewS3Presigner wraps client in a presign client.
func NewS3Presigner(client *s3.Client) *S3Presigner {
	return &S3Presigner{client: s3.NewPresignClient(client)}
}

// PresignGetObject returns a presigned GET URL for an s3://bucket/key URI.
func (p *S3Presigner) PresignGetObject(ctx context.Context, s3URI string, expiry time.Duration) (string, error) {
	bucket, key, err := parseS3URI(s3URI)
	if err != nil {
		return "", err
	}
	req, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", s3URI, err)
	}
	return req.URL, nil
}

// parseS3URI splits "s3://bucket/path/to/file" into bucket and key.
func parseS3URI(s3URI string) (bucket, key string, err error) {
	u, err := url.Parse(s3URI)
	if err != nil {
		return "", "", domain.ErrValidation("parse S3 URI %q: %v", s3URI, err)
	}
	if u.Scheme != "s3" {
		return "", "", domain.ErrValidation("expected s3:// scheme, got %q in %q", u.Scheme, s3URI)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", domain.ErrValidation("S3 URI %q needs a bucket and a key", s3URI)
	}
	return u.Host, key, nil
}
