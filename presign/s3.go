package presign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artist-submissions/go-uploadkit/uploadapi"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/samber/lo"
)

// S3Params ...
type S3Params struct {
	Bucket          string
	Region          string
	Endpoint        string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
	Expiry          time.Duration
}

// S3Store signs URLs against an S3 compatible bucket.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	expiry  time.Duration
}

// NewS3Store ...
func NewS3Store(ctx context.Context, params S3Params, logger log.Logger) (*S3Store, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}
	if params.Expiry <= 0 {
		return nil, fmt.Errorf("URL expiry must be positive")
	}

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

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  params.Bucket,
		expiry:  params.Expiry,
	}, nil
}

func loadAWSConfig(ctx context.Context, region, accessKeyID, secretKey string, logger log.Logger) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PresignPut signs a single PUT. No content type is signed, so the client
// may send the body without any extra header.
func (s *S3Store) PresignPut(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", storeError(err)
	}
	return req.URL, nil
}

// CreateMultipart ...
func (s *S3Store) CreateMultipart(ctx context.Context, key, mimeType string) (string, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return "", storeError(err)
	}
	return aws.ToString(out.UploadId), nil
}

// PresignPart ...
func (s *S3Store) PresignPart(ctx context.Context, key, uploadID string, partNumber int) (string, error) {
	req, err := s.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(int32(partNumber)),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", storeError(err)
	}
	return req.URL, nil
}

// CompleteMultipart ...
func (s *S3Store) CompleteMultipart(ctx context.Context, key, uploadID string, parts []uploadapi.CompletedPart) (string, error) {
	completed := lo.Map(parts, func(p uploadapi.CompletedPart, _ int) types.CompletedPart {
		return types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(fmt.Sprintf("%q", p.ETag)),
		}
	})

	out, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return "", storeError(err)
	}
	return aws.ToString(out.Location), nil
}

func storeError(err error) error {
	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		if apiError.ErrorCode() == (&types.NoSuchUpload{}).ErrorCode() {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, err)
		}
		return &StoreError{Code: apiError.ErrorCode(), Err: err}
	}
	return &StoreError{Code: "Unknown", Err: err}
}
