package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures the view publisher. Endpoint may point at any S3-compatible store.
type S3Options struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Publisher uploads the pivot view file to an S3 bucket.
type S3Publisher struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Publisher builds an S3 client. Static credentials are used when given, otherwise
// the default AWS credential chain applies.
func NewS3Publisher(ctx context.Context, opts S3Options) (*S3Publisher, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			endpoint := opts.Endpoint
			if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
				endpoint = "https://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Publisher{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

// ObjectKey returns the key a local file is published under.
func (p *S3Publisher) ObjectKey(localPath string) string {
	return path.Join(p.prefix, filepath.Base(localPath))
}

// Publish uploads the file at localPath, replacing any previous object.
func (p *S3Publisher) Publish(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("s3: open %q: %w", localPath, err)
	}
	defer f.Close()

	key := p.ObjectKey(localPath)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("s3: put s3://%s/%s: %w", p.bucket, key, err)
	}
	return nil
}
