// Package amazons3 stores instance bytes in an S3-compatible bucket.
package amazons3

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/store"
)

// Ensure service implements interface.
var _ store.BlobStore = (*BlobStore)(nil)

// Config describes the target bucket.
type Config struct {
	Bucket string
	Region string

	// Endpoint of an S3-compatible service. Path-style addressing is used
	// when set.
	Endpoint string

	// Static credentials. The default AWS credential chain is used when empty.
	AccessKey string
	SecretKey string
}

// BlobStore keeps blobs as objects of a single bucket.
type BlobStore struct {
	client *s3.Client
	bucket string
}

// New returns a BlobStore for cfg.
func New(ctx context.Context, cfg Config) (*BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, dicomweb.Errorf(dicomweb.EINVALID, "bucket required for S3 blob store")
	}

	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, dicomweb.Errorf(dicomweb.EINVALID, "load AWS config: %v", err)
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		})
	}

	return &BlobStore{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
	}, nil
}

// PutBlob writes data to the object named key.
func (s *BlobStore) PutBlob(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(dicomweb.MediaTypeDICOM),
	})
	if err != nil {
		return dicomweb.Errorf(dicomweb.ESTORE, "put object s3://%s/%s: %v", s.bucket, key, err)
	}
	return nil
}

// GetBlob reads the object named key.
func (s *BlobStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, dicomweb.Errorf(dicomweb.ENOTFOUND, "blob not found: s3://%s/%s", s.bucket, key)
	} else if err != nil {
		return nil, dicomweb.Errorf(dicomweb.ESTORE, "get object s3://%s/%s: %v", s.bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, dicomweb.Errorf(dicomweb.ESTORE, "read object s3://%s/%s: %v", s.bucket, key, err)
	}
	return data, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
