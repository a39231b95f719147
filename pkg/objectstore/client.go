// Package objectstore wraps the AWS S3 SDK behind the two operations the
// pipeline needs: a complete key listing and an object fetch.
package objectstore

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/streamparse/docflow/pkg/config"
	apperrors "github.com/streamparse/docflow/pkg/errors"
)

// API is the subset of the S3 client the pipeline uses. It exists so tests
// can substitute a fake.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Client provides listing and retrieval against an S3-compatible store.
type Client struct {
	api    API
	logger *slog.Logger
}

// New builds a Client from config. Static credentials (including an optional
// session token for temporary credentials) take precedence; otherwise the
// default AWS credential chain applies. A custom endpoint switches to
// path-style addressing for S3-compatible stores.
func New(ctx context.Context, cfg config.S3Config) (*Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrConfig, "loading aws config: %v", err)
	}
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewFromAPI(api), nil
}

// NewFromAPI builds a Client around an existing S3 API implementation.
func NewFromAPI(api API) *Client {
	return &Client{
		api:    api,
		logger: slog.Default().With("component", "objectstore"),
	}
}

// ListKeys returns every object key under bucket/prefix, following
// continuation tokens until the listing is exhausted. An empty bucket or
// prefix with no objects yields an empty slice, not an error.
func (c *Client) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	var token *string
	pages := 0
	for {
		out, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrTransient, "listing s3://%s/%s: %v", bucket, prefix, err)
		}
		pages++
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	c.logger.Debug("listing complete",
		"bucket", bucket,
		"prefix", prefix,
		"pages", pages,
		"keys", len(keys),
	)
	return keys, nil
}

// Get fetches the full contents of an object.
func (c *Client) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	start := time.Now()
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrTransient, "fetching s3://%s/%s: %v", bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrTransient, "reading s3://%s/%s body: %v", bucket, key, err)
	}
	c.logger.Debug("object fetched",
		"key", key,
		"size", len(data),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return data, nil
}
