package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

const defaultContentType = "application/octet-stream"

// S3Config describes how to reach an S3 compatible endpoint.
type S3Config struct {
	Region string
	// Endpoint overrides the AWS endpoint, e.g. for MinIO. Setting it implies
	// path-style addressing.
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	// DisableMetadataCopy turns off metadata-only updates for endpoints that
	// reject CopyObject onto the same key. Baselines then re-upload the body.
	DisableMetadataCopy bool
}

// S3Store implements ObjectStore and MetadataUpdater on top of S3.
type S3Store struct {
	api          S3API
	metadataCopy bool
}

// NewS3Store builds an S3 client from cfg. Without static keys the default
// AWS credential chain is used.
func NewS3Store(ctx context.Context, cfg *S3Config) (*S3Store, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	store := NewS3StoreWithClient(client)
	store.metadataCopy = !cfg.DisableMetadataCopy
	return store, nil
}

// NewS3StoreWithClient wraps an existing S3 client.
func NewS3StoreWithClient(api S3API) *S3Store {
	return &S3Store{api: api, metadataCopy: true}
}

// AsUpdater implements UpdaterProvider.
func (s *S3Store) AsUpdater() (MetadataUpdater, bool) {
	if !s.metadataCopy {
		return nil, false
	}
	return s, true
}

// ===================================================================================================

func (s *S3Store) HeadMetadata(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	resp, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, mapError("HeadObject", bucket, key, err)
	}

	return &ObjectInfo{
		Metadata:     resp.Metadata,
		ETag:         trimETag(resp.ETag),
		Size:         aws.ToInt64(resp.ContentLength),
		ContentType:  aws.ToString(resp.ContentType),
		LastModified: aws.ToTime(resp.LastModified),
	}, nil
}

func (s *S3Store) GetObject(ctx context.Context, bucket, key, destPath string) (*ObjectInfo, error) {
	resp, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket:       &bucket,
		Key:          &key,
		ChecksumMode: types.ChecksumModeEnabled,
	})
	if err != nil {
		return nil, mapError("GetObject", bucket, key, err)
	}
	defer resp.Body.Close()

	n, err := writeFileAtomic(destPath, resp.Body)
	if err != nil {
		var readErr *bodyReadError
		if errors.As(err, &readErr) {
			return nil, &ServiceError{Op: "GetObject", Bucket: bucket, Key: key, Err: readErr.err}
		}
		return nil, fmt.Errorf("write %s: %w", destPath, err)
	}

	slog.Debug("s3 get object", "bucket", bucket, "key", key, "path", destPath, "size", humanize.Bytes(uint64(n)))

	return &ObjectInfo{
		Metadata:     resp.Metadata,
		ETag:         trimETag(resp.ETag),
		Size:         n,
		ContentType:  aws.ToString(resp.ContentType),
		LastModified: aws.ToTime(resp.LastModified),
	}, nil
}

func (s *S3Store) PutObject(ctx context.Context, bucket, key, bodyPath string, metadata map[string]string) (*ObjectInfo, error) {
	f, err := os.Open(bodyPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	contentType := detectContentType(bodyPath)

	resp, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
		Metadata:      metadata,
	})
	if err != nil {
		return nil, mapError("PutObject", bucket, key, err)
	}

	slog.Debug("s3 put object", "bucket", bucket, "key", key, "path", bodyPath, "size", humanize.Bytes(uint64(info.Size())))

	// PutObjectOutput carries no LastModified
	return &ObjectInfo{
		Metadata:     metadata,
		ETag:         trimETag(resp.ETag),
		Size:         info.Size(),
		ContentType:  contentType,
		LastModified: time.Now().UTC(),
	}, nil
}

// UpdateMetadata copies the object onto itself with replaced metadata. The
// copy is conditional on ifMatch so it fails with ErrPreconditionFailed if the
// body changed since it was read.
func (s *S3Store) UpdateMetadata(ctx context.Context, bucket, key, ifMatch string, metadata map[string]string) (*ObjectInfo, error) {
	// REPLACE drops the content type unless it is sent again
	head, err := s.HeadMetadata(ctx, bucket, key)
	if err != nil {
		return nil, err
	}

	input := &s3.CopyObjectInput{
		Bucket:            &bucket,
		Key:               &key,
		CopySource:        aws.String(copySource(bucket, key)),
		MetadataDirective: types.MetadataDirectiveReplace,
		Metadata:          metadata,
	}
	if head.ContentType != "" {
		input.ContentType = aws.String(head.ContentType)
	}
	if ifMatch != "" {
		input.CopySourceIfMatch = aws.String(`"` + ifMatch + `"`)
	}

	resp, err := s.api.CopyObject(ctx, input)
	if err != nil {
		return nil, mapError("CopyObject", bucket, key, err)
	}

	result := &ObjectInfo{
		Metadata:    metadata,
		Size:        head.Size,
		ContentType: head.ContentType,
	}
	if resp.CopyObjectResult != nil {
		result.ETag = trimETag(resp.CopyObjectResult.ETag)
		result.LastModified = aws.ToTime(resp.CopyObjectResult.LastModified)
	}
	return result, nil
}

// ===================================================================================================

func mapError(op, bucket, key string, err error) error {
	var noSuchKey *types.NoSuchKey
	var notFoundErr *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFoundErr) {
		return notFound(op, bucket, key)
	}

	svcErr := &ServiceError{Op: op, Bucket: bucket, Key: key, Err: err}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		svcErr.Code = apiErr.ErrorCode()
		switch svcErr.Code {
		case "NoSuchKey", "NotFound":
			return notFound(op, bucket, key)
		case "PreconditionFailed":
			svcErr.Err = fmt.Errorf("%w: %w", ErrPreconditionFailed, err)
			return svcErr
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			// HEAD responses have no body, so the code may be missing
			if svcErr.Code == "" || svcErr.Code == "NoSuchKey" {
				return notFound(op, bucket, key)
			}
		case http.StatusPreconditionFailed:
			svcErr.Err = fmt.Errorf("%w: %w", ErrPreconditionFailed, err)
		}
	}

	return svcErr
}

func trimETag(etag *string) string {
	return strings.ReplaceAll(aws.ToString(etag), "\"", "")
}

func copySource(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return bucket + "/" + strings.Join(parts, "/")
}

func detectContentType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil || mt == nil {
		return defaultContentType
	}
	return mt.String()
}

var (
	_ ObjectStore     = (*S3Store)(nil)
	_ MetadataUpdater = (*S3Store)(nil)
	_ UpdaterProvider = (*S3Store)(nil)
)
