// Package s3 implements storage.Service on any S3-compatible backend
// (AWS S3 or MinIO via the base endpoint override).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/apexkit/backend/internal/storage"
)

// Config carries the S3 connection settings. For MinIO set BaseEndpoint and
// the root user/password as the key pair.
type Config struct {
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string

	// URLExpiry bounds presigned URLs; zero means 15 minutes.
	URLExpiry time.Duration
}

// api is the subset of the S3 client the provider uses; satisfied by
// *s3.Client.
type api interface {
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// presigner is the presigning subset; satisfied by *s3.PresignClient.
type presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Service is the hosted storage provider.
type Service struct {
	client    api
	presign   presigner
	urlExpiry time.Duration
}

var _ storage.Service = (*Service)(nil)

// New builds the S3 client from static credentials and wraps it as a
// storage.Service.
func New(ctx context.Context, cfg Config) (*Service, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
		o.UsePathStyle = cfg.BaseEndpoint != ""
	})

	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &Service{
		client:    client,
		presign:   s3.NewPresignClient(client),
		urlExpiry: expiry,
	}, nil
}

func mapErr(err error) error {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return fmt.Errorf("%w: %w", storage.ErrNotFound, err)
	}
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return fmt.Errorf("%w: %w", storage.ErrBucketNotFound, err)
	}
	return fmt.Errorf("%w: %w", storage.ErrTransport, err)
}

func (s *Service) CreateBucket(ctx context.Context, bucket string) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return mapErr(err)
	}
	return nil
}

func (s *Service) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (*storage.File, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return &storage.File{
		Path:        path,
		Size:        int64(len(data)),
		ContentType: contentType,
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

func (s *Service) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, mapErr(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrTransport, err)
	}
	return data, nil
}

func (s *Service) Delete(ctx context.Context, bucket, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return mapErr(err)
	}
	return nil
}

func (s *Service) List(ctx context.Context, bucket, prefix string) ([]storage.File, error) {
	var files []storage.File
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, mapErr(err)
		}

		for _, obj := range out.Contents {
			f := storage.File{Path: aws.ToString(obj.Key)}
			if obj.Size != nil {
				f.Size = *obj.Size
			}
			if obj.LastModified != nil {
				f.UpdatedAt = obj.LastModified.UTC()
			}
			files = append(files, f)
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			return files, nil
		}
		token = out.NextContinuationToken
	}
}

// PublicURL returns a presigned GET URL.
func (s *Service) PublicURL(ctx context.Context, bucket, path string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(s.urlExpiry))
	if err != nil {
		return "", mapErr(err)
	}
	return req.URL, nil
}
