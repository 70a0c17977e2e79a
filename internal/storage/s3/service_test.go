package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/apexkit/backend/internal/storage"
)

type fakeAPI struct {
	createBucketFn func(*s3.CreateBucketInput) (*s3.CreateBucketOutput, error)
	putObjectFn    func(*s3.PutObjectInput) (*s3.PutObjectOutput, error)
	getObjectFn    func(*s3.GetObjectInput) (*s3.GetObjectOutput, error)
	deleteObjectFn func(*s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error)
	listFn         func(*s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error)
}

func (f *fakeAPI) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	return f.createBucketFn(in)
}

func (f *fakeAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return f.putObjectFn(in)
}

func (f *fakeAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return f.getObjectFn(in)
}

func (f *fakeAPI) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return f.deleteObjectFn(in)
}

func (f *fakeAPI) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return f.listFn(in)
}

type fakePresigner struct {
	fn func(*s3.GetObjectInput) (*v4.PresignedHTTPRequest, error)
}

func (f *fakePresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return f.fn(in)
}

func TestUpload(t *testing.T) {
	var captured *s3.PutObjectInput
	svc := &Service{client: &fakeAPI{
		putObjectFn: func(in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			captured = in
			return &s3.PutObjectOutput{}, nil
		},
	}}

	file, err := svc.Upload(context.Background(), "avatars", "u1/pic.png", []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if file.Path != "u1/pic.png" || file.Size != 9 || file.ContentType != "image/png" {
		t.Fatalf("unexpected file: %+v", file)
	}

	if aws.ToString(captured.Bucket) != "avatars" || aws.ToString(captured.Key) != "u1/pic.png" {
		t.Fatalf("unexpected input: %+v", captured)
	}
	body, _ := io.ReadAll(captured.Body)
	if !bytes.Equal(body, []byte("png-bytes")) {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestDownload(t *testing.T) {
	svc := &Service{client: &fakeAPI{
		getObjectFn: func(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte("data")))}, nil
		},
	}}

	data, err := svc.Download(context.Background(), "avatars", "u1/pic.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(data, []byte("data")) {
		t.Fatalf("unexpected data: %q", data)
	}
}

func TestDownload_NoSuchKey(t *testing.T) {
	svc := &Service{client: &fakeAPI{
		getObjectFn: func(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return nil, &types.NoSuchKey{}
		},
	}}

	_, err := svc.Download(context.Background(), "avatars", "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestDownload_NoSuchBucket(t *testing.T) {
	svc := &Service{client: &fakeAPI{
		getObjectFn: func(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return nil, &types.NoSuchBucket{}
		},
	}}

	_, err := svc.Download(context.Background(), "nope", "p")
	if !errors.Is(err, storage.ErrBucketNotFound) {
		t.Fatalf("want ErrBucketNotFound, got %v", err)
	}
}

func TestDownload_OpaqueErrorWrappedAsTransport(t *testing.T) {
	svc := &Service{client: &fakeAPI{
		getObjectFn: func(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return nil, errors.New("connection refused")
		},
	}}

	_, err := svc.Download(context.Background(), "avatars", "p")
	if !errors.Is(err, storage.ErrTransport) {
		t.Fatalf("want ErrTransport, got %v", err)
	}
}

func TestCreateBucket_AlreadyOwnedIsNotAnError(t *testing.T) {
	svc := &Service{client: &fakeAPI{
		createBucketFn: func(in *s3.CreateBucketInput) (*s3.CreateBucketOutput, error) {
			return nil, &types.BucketAlreadyOwnedByYou{}
		},
	}}

	if err := svc.CreateBucket(context.Background(), "avatars"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDelete(t *testing.T) {
	var captured *s3.DeleteObjectInput
	svc := &Service{client: &fakeAPI{
		deleteObjectFn: func(in *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
			captured = in
			return &s3.DeleteObjectOutput{}, nil
		},
	}}

	if err := svc.Delete(context.Background(), "avatars", "u1/pic.png"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if aws.ToString(captured.Key) != "u1/pic.png" {
		t.Fatalf("unexpected input: %+v", captured)
	}
}

func TestList_FollowsContinuationTokens(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	svc := &Service{client: &fakeAPI{
		listFn: func(in *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
			calls++
			if calls == 1 {
				if in.ContinuationToken != nil {
					t.Fatalf("unexpected token on first page")
				}
				return &s3.ListObjectsV2Output{
					Contents: []types.Object{
						{Key: aws.String("a/one.txt"), Size: aws.Int64(3), LastModified: aws.Time(now)},
					},
					IsTruncated:           aws.Bool(true),
					NextContinuationToken: aws.String("t1"),
				}, nil
			}
			if aws.ToString(in.ContinuationToken) != "t1" {
				t.Fatalf("unexpected token: %v", in.ContinuationToken)
			}
			return &s3.ListObjectsV2Output{
				Contents: []types.Object{
					{Key: aws.String("a/two.txt"), Size: aws.Int64(5), LastModified: aws.Time(now)},
				},
			}, nil
		},
	}}

	files, err := svc.List(context.Background(), "docs", "a/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 2 || files[0].Path != "a/one.txt" || files[1].Path != "a/two.txt" {
		t.Fatalf("unexpected files: %+v", files)
	}
	if files[1].Size != 5 || !files[1].UpdatedAt.Equal(now) {
		t.Fatalf("unexpected metadata: %+v", files[1])
	}
}

func TestPublicURL(t *testing.T) {
	svc := &Service{
		presign: &fakePresigner{fn: func(in *s3.GetObjectInput) (*v4.PresignedHTTPRequest, error) {
			if aws.ToString(in.Bucket) != "avatars" || aws.ToString(in.Key) != "u1/pic.png" {
				t.Fatalf("unexpected input: %+v", in)
			}
			return &v4.PresignedHTTPRequest{URL: "https://example.com/signed"}, nil
		}},
		urlExpiry: time.Minute,
	}

	url, err := svc.PublicURL(context.Background(), "avatars", "u1/pic.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://example.com/signed" {
		t.Fatalf("unexpected url: %q", url)
	}
}
