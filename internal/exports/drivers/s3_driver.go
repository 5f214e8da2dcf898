package drivers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Export keys are never rewritten, so stored objects can be cached forever.
const exportCacheControl = "private, max-age=31536000, immutable"

// S3Options places exports inside a bucket.
type S3Options struct {
	Bucket string
	// Prefix is prepended to every export key, e.g. "exports/".
	Prefix string
	// PublicURL is the bucket's base URL when it is publicly readable.
	// Presigned URLs are handed out otherwise.
	PublicURL string
	// URLExpiry bounds presigned URLs when the caller passes no expiry.
	URLExpiry time.Duration
}

// S3Driver keeps exported reports in an S3-compatible bucket.
type S3Driver struct {
	client  *s3.Client
	presign *s3.PresignClient
	opts    S3Options
}

func NewS3Driver(client *s3.Client, opts S3Options) *S3Driver {
	opts.PublicURL = strings.TrimSuffix(opts.PublicURL, "/")
	if opts.Prefix != "" && !strings.HasSuffix(opts.Prefix, "/") {
		opts.Prefix += "/"
	}
	if opts.URLExpiry <= 0 {
		opts.URLExpiry = time.Hour
	}
	return &S3Driver{client: client, presign: s3.NewPresignClient(client), opts: opts}
}

func (d *S3Driver) objectKey(key string) string {
	return d.opts.Prefix + key
}

// Save uploads an export. The object is served as a download named after key.
func (d *S3Driver) Save(ctx context.Context, key string, content io.Reader, contentType string) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(d.opts.Bucket),
		Key:                aws.String(d.objectKey(key)),
		Body:               content,
		ContentType:        aws.String(contentType),
		ContentDisposition: aws.String(attachment(key)),
		CacheControl:       aws.String(exportCacheControl),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

func (d *S3Driver) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.opts.Bucket),
		Key:    aws.String(d.objectKey(key)),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("s3 get %s: %w", key, err)
	}

	contentType := aws.ToString(out.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return out.Body, contentType, nil
}

// Delete removes an export. S3 reports success for missing keys.
func (d *S3Driver) Delete(ctx context.Context, key string) error {
	if _, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.opts.Bucket),
		Key:    aws.String(d.objectKey(key)),
	}); err != nil {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}

func (d *S3Driver) GenerateURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if d.opts.PublicURL != "" {
		return d.opts.PublicURL + "/" + d.objectKey(key), nil
	}
	if expires <= 0 {
		expires = d.opts.URLExpiry
	}

	signed, err := d.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(d.opts.Bucket),
		Key:                        aws.String(d.objectKey(key)),
		ResponseContentDisposition: aws.String(attachment(key)),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("s3 presign %s: %w", key, err)
	}
	return signed.URL, nil
}

func attachment(key string) string {
	return fmt.Sprintf("attachment; filename=%q", path.Base(key))
}
