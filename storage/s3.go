// Package storage persists rendered clip artifacts in S3 so posters that
// ingest by URL (Instagram) and restarted processes can reach them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// Config contains the S3 client settings. Empty values fall back to the
// standard AWS config/credential chain.
type Config struct {
	Bucket string
	Region string
	// Profile selects a named shared config/credentials profile
	Profile string
	// UsePathStyle forces path-style addressing for S3-compatible providers
	UsePathStyle bool
	// PublicBaseURL, when set, is used to build clip URLs instead of the
	// default virtual-hosted S3 URL
	PublicBaseURL string
}

// Clips wraps the AWS SDK S3 client behind the narrow surface the
// publishing pipeline needs.
type Clips struct {
	client *s3.Client
	cfg    Config
}

// New creates a clip artifact store using the default AWS configuration chain
func New(ctx context.Context, cfg Config) (*Clips, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: bucket required")
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	c := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &Clips{client: c, cfg: cfg}, nil
}

// Key returns the object key for a rendered clip file
func Key(clipPath string) string {
	return "clips/" + filepath.Base(clipPath)
}

// Put uploads a rendered clip
func (c *Clips) Put(ctx context.Context, key string, body io.Reader) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.cfg.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("video/mp4"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get fetches a clip's streaming body. Caller must Close it.
func (c *Clips) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return out.Body, nil
}

// Exists reports whether a clip object is present
func (c *Clips) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
			return false, nil
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
			return false, nil
		}
		return false, fmt.Errorf("head %s: %w", key, err)
	}
	return true, nil
}

// Delete removes a clip object
func (c *Clips) Delete(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// URL returns the public URL for a clip key
func (c *Clips) URL(key string) string {
	if c.cfg.PublicBaseURL != "" {
		return fmt.Sprintf("%s/%s", c.cfg.PublicBaseURL, key)
	}
	region := c.cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.cfg.Bucket, region, key)
}
