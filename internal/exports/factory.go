package exports

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/OpenNSW/reportbuilder/internal/config"
	"github.com/OpenNSW/reportbuilder/internal/exports/drivers"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewStorageFromConfig returns the export storage driver selected by cfg.Type.
func NewStorageFromConfig(ctx context.Context, cfg config.StorageConfig) (StorageDriver, error) {
	switch cfg.Type {
	case "local":
		slog.InfoContext(ctx, "initializing local export storage", "dir", cfg.LocalBaseDir)
		return drivers.NewLocalFSDriver(cfg.LocalBaseDir, cfg.LocalPublicURL)
	case "s3":
		slog.InfoContext(ctx, "initializing S3 export storage", "endpoint", cfg.S3Endpoint, "bucket", cfg.S3Bucket)
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return drivers.NewS3Driver(client, drivers.S3Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			PublicURL: cfg.S3PublicURL,
			URLExpiry: cfg.S3URLExpiry,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func newS3Client(ctx context.Context, cfg config.StorageConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		// MinIO and other S3-compatible stores need path-style addressing.
		o.UsePathStyle = true
	}), nil
}
