package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

// S3Scheme is the destination scheme served by S3Writer.
const S3Scheme = "s3"

const defaultS3RetryWait = 5 * time.Second

// S3Params configures an S3Writer. Endpoint is set for S3 compatible
// services such as MinIO, which usually also need UsePathStyle.
type S3Params struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	NumRetries      uint
}

// S3Writer writes s3://bucket/key destinations with the AWS SDK.
type S3Writer struct {
	uploader   *manager.Uploader
	numRetries uint
	retryWait  time.Duration
	logger     log.Logger
}

// NewS3Writer ...
func NewS3Writer(ctx context.Context, params S3Params, logger log.Logger) (*S3Writer, error) {
	cfg, err := loadAWSConfig(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(*cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
		}
		o.UsePathStyle = params.UsePathStyle
	})

	return newS3Writer(client, params.NumRetries, logger), nil
}

func newS3Writer(client manager.UploadAPIClient, numRetries uint, logger log.Logger) *S3Writer {
	return &S3Writer{
		uploader:   manager.NewUploader(client),
		numRetries: numRetries,
		retryWait:  defaultS3RetryWait,
		logger:     logger,
	}
}

// Put ...
func (w *S3Writer) Put(ctx context.Context, in PutInput) error {
	bucket, key, err := parseS3URL(in.URL)
	if err != nil {
		return err
	}

	return retry.Times(w.numRetries).Wait(w.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			w.logger.Debugf("Retrying s3://%s/%s (attempt %d)", bucket, key, attempt+1)
		}

		input := &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          newProgressReader(in.Body, in.OnProgress),
			ContentLength: aws.Int64(int64(len(in.Body))),
		}
		if in.ContentType != "" {
			input.ContentType = aws.String(in.ContentType)
		}

		_, err := w.uploader.Upload(ctx, input)
		if err == nil {
			return nil, true
		}
		if ctx.Err() != nil {
			return fmt.Errorf("put object: %w", ctx.Err()), true
		}

		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("put object (%s): %w", apiErr.ErrorCode(), err), false
		}
		return fmt.Errorf("put object: %w", err), false
	})
}

func parseS3URL(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse destination: %w", err)
	}
	if u.Scheme != S3Scheme {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("destination %q must have the form s3://bucket/key", raw)
	}
	return u.Host, key, nil
}

func loadAWSConfig(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("Using static S3 credentials")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	} else {
		logger.Debugf("No static S3 credentials, using the default credential chain")
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load default aws config: %w", err)
	}

	return &cfg, nil
}
