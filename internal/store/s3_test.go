package store

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3 struct {
	HeadObjectFunc func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObjectFunc  func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObjectFunc  func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObjectFunc func(context.Context, *s3.CopyObjectInput, ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

func (m *mockS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.HeadObjectFunc != nil {
		return m.HeadObjectFunc(ctx, in, opts...)
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *mockS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.GetObjectFunc != nil {
		return m.GetObjectFunc(ctx, in, opts...)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(""))}, nil
}

func (m *mockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.PutObjectFunc != nil {
		return m.PutObjectFunc(ctx, in, opts...)
	}
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	if m.CopyObjectFunc != nil {
		return m.CopyObjectFunc(ctx, in, opts...)
	}
	return &s3.CopyObjectOutput{}, nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

func TestS3Store_HeadMetadata(t *testing.T) {
	modified := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	api := &mockS3{
		HeadObjectFunc: func(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
			assert.Equal(t, "bucket", aws.ToString(in.Bucket))
			assert.Equal(t, "dir/file.txt", aws.ToString(in.Key))
			return &s3.HeadObjectOutput{
				Metadata:      map[string]string{"sha512": "abc"},
				ETag:          aws.String(`"etag-1"`),
				ContentLength: aws.Int64(3),
				ContentType:   aws.String("text/plain"),
				LastModified:  &modified,
			}, nil
		},
	}

	info, err := NewS3StoreWithClient(api).HeadMetadata(context.Background(), "bucket", "dir/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "abc", info.Metadata["sha512"])
	assert.Equal(t, "etag-1", info.ETag)
	assert.Equal(t, int64(3), info.Size)
	assert.Equal(t, "text/plain", info.ContentType)
	assert.Equal(t, modified, info.LastModified)
}

func TestS3Store_ErrorMapping(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		notFound     bool
		precondition bool
		code         string
	}{
		{name: "not found type", err: &types.NotFound{}, notFound: true},
		{name: "no such key type", err: &types.NoSuchKey{}, notFound: true},
		{name: "no such key code", err: &smithy.GenericAPIError{Code: "NoSuchKey"}, notFound: true},
		{name: "precondition", err: &smithy.GenericAPIError{Code: "PreconditionFailed"}, precondition: true, code: "PreconditionFailed"},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDenied", Message: "nope"}, code: "AccessDenied"},
		{name: "network", err: errors.New("dial tcp: i/o timeout")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockS3{
				HeadObjectFunc: func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
					return nil, tt.err
				},
			}

			_, err := NewS3StoreWithClient(api).HeadMetadata(context.Background(), "b", "k")
			require.Error(t, err)

			if tt.notFound {
				assert.ErrorIs(t, err, ErrNotFound)
				assert.False(t, IsServiceError(err))
				return
			}

			var svcErr *ServiceError
			require.ErrorAs(t, err, &svcErr)
			assert.Equal(t, "HeadObject", svcErr.Op)
			assert.Equal(t, "b", svcErr.Bucket)
			assert.Equal(t, "k", svcErr.Key)
			assert.Equal(t, tt.code, svcErr.Code)
			assert.Equal(t, tt.precondition, errors.Is(err, ErrPreconditionFailed))
			assert.NotErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestS3Store_GetObject_WritesAtomically(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o644))

	api := &mockS3{
		GetObjectFunc: func(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			assert.Equal(t, types.ChecksumModeEnabled, in.ChecksumMode)
			return &s3.GetObjectOutput{
				Body:     io.NopCloser(strings.NewReader("XYZ")),
				ETag:     aws.String(`"e2"`),
				Metadata: map[string]string{"sha512": "d"},
			}, nil
		},
	}

	info, err := NewS3StoreWithClient(api).GetObject(context.Background(), "b", "k", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size)
	assert.Equal(t, "e2", info.ETag)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "XYZ", string(data))

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(dest), ".*.part"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestS3Store_GetObject_BodyFailureKeepsDestination(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o644))

	api := &mockS3{
		GetObjectFunc: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{Body: io.NopCloser(failingReader{})}, nil
		},
	}

	_, err := NewS3StoreWithClient(api).GetObject(context.Background(), "b", "k", dest)
	require.Error(t, err)
	assert.True(t, IsServiceError(err), "body read failures come from the store: %v", err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(dest), ".*.part"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestS3Store_GetObject_NotFound(t *testing.T) {
	api := &mockS3{
		GetObjectFunc: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return nil, &types.NoSuchKey{}
		},
	}

	dest := filepath.Join(t.TempDir(), "out.txt")
	_, err := NewS3StoreWithClient(api).GetObject(context.Background(), "b", "k", dest)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoFileExists(t, dest)
}

func TestS3Store_PutObject(t *testing.T) {
	src := filepath.Join(t.TempDir(), "body.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello world"), 0o644))

	var got *s3.PutObjectInput
	var body []byte
	api := &mockS3{
		PutObjectFunc: func(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			got = in
			b, err := io.ReadAll(in.Body)
			require.NoError(t, err)
			body = b
			return &s3.PutObjectOutput{ETag: aws.String(`"p1"`)}, nil
		},
	}

	meta := map[string]string{"sha512": "digest"}
	info, err := NewS3StoreWithClient(api).PutObject(context.Background(), "b", "k", src, meta)
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "hello world", string(body))
	assert.Equal(t, int64(11), aws.ToInt64(got.ContentLength))
	assert.Equal(t, meta, got.Metadata)
	assert.Contains(t, aws.ToString(got.ContentType), "text/plain")
	assert.Equal(t, "p1", info.ETag)
}

func TestS3Store_PutObject_MissingBody(t *testing.T) {
	_, err := NewS3StoreWithClient(&mockS3{}).PutObject(context.Background(), "b", "k", filepath.Join(t.TempDir(), "nope"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestS3Store_UpdateMetadata(t *testing.T) {
	var got *s3.CopyObjectInput
	api := &mockS3{
		HeadObjectFunc: func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
			return &s3.HeadObjectOutput{ContentType: aws.String("application/json"), ContentLength: aws.Int64(7)}, nil
		},
		CopyObjectFunc: func(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
			got = in
			return &s3.CopyObjectOutput{CopyObjectResult: &types.CopyObjectResult{ETag: aws.String(`"c1"`)}}, nil
		},
	}

	meta := map[string]string{"sha512": "d", "owner": "ops"}
	info, err := NewS3StoreWithClient(api).UpdateMetadata(context.Background(), "bucket", "dir/a b.txt", "etag-1", meta)
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "bucket/dir/a%20b.txt", aws.ToString(got.CopySource))
	assert.Equal(t, types.MetadataDirectiveReplace, got.MetadataDirective)
	assert.Equal(t, `"etag-1"`, aws.ToString(got.CopySourceIfMatch))
	assert.Equal(t, "application/json", aws.ToString(got.ContentType))
	assert.Equal(t, meta, got.Metadata)
	assert.Equal(t, "c1", info.ETag)
	assert.Equal(t, int64(7), info.Size)
}

func TestS3Store_UpdateMetadata_PreconditionFailed(t *testing.T) {
	api := &mockS3{
		CopyObjectFunc: func(context.Context, *s3.CopyObjectInput, ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed"}
		},
	}

	_, err := NewS3StoreWithClient(api).UpdateMetadata(context.Background(), "b", "k", "etag", nil)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	assert.True(t, IsServiceError(err))
}

func TestNewS3Store_StaticCredentials(t *testing.T) {
	s, err := NewS3Store(context.Background(), &S3Config{
		Region:    "us-east-1",
		Endpoint:  "http://127.0.0.1:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	require.NoError(t, err)
	assert.NotNil(t, s.api)
}

func TestS3Store_AsUpdater(t *testing.T) {
	s, err := NewS3Store(context.Background(), &S3Config{Region: "us-east-1", DisableMetadataCopy: true})
	require.NoError(t, err)
	_, ok := Updater(s)
	assert.False(t, ok)

	_, ok = Updater(NewS3StoreWithClient(&mockS3{}))
	assert.True(t, ok)
}
