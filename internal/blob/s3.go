package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3 is a Store backed by an S3-compatible bucket. Object puts are atomic
// on the server side, so the tmp+rename dance of the local backend is not
// needed. Configuration beyond the root URL comes from the environment:
// S3_ENDPOINT (default s3.amazonaws.com), AWS_ACCESS_KEY_ID,
// AWS_SECRET_ACCESS_KEY, S3_INSECURE.
type S3 struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ Store = (*S3)(nil)

// OpenS3 opens an S3 store for a root of the form "s3://bucket/prefix".
func OpenS3(root string) (*S3, error) {
	trimmed := strings.TrimPrefix(root, "s3://")
	bucket, prefix, _ := strings.Cut(trimmed, "/")
	if bucket == "" {
		return nil, fmt.Errorf("invalid s3 blob root %q: missing bucket", root)
	}

	endpoint := os.Getenv("S3_ENDPOINT")
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		}),
		Secure: os.Getenv("S3_INSECURE") != "true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *S3) key(path string) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	return s.prefix + path, nil
}

// Put implements Store.
func (s *S3) Put(ctx context.Context, path string, r io.Reader) (PutResult, error) {
	key, err := s.key(path)
	if err != nil {
		return PutResult{}, err
	}

	h := xxhash.New()
	info, err := s.client.PutObject(ctx, s.bucket, key, io.TeeReader(r, h), -1,
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return PutResult{}, fmt.Errorf("failed to put s3 blob %s: %w", path, err)
	}
	return PutResult{Size: info.Size, Sum: h.Sum64()}, nil
}

// Get implements Store.
func (s *S3) Get(ctx context.Context, path string) ([]byte, error) {
	rc, err := s.OpenRange(ctx, path, 0, -1)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("failed to read s3 blob %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

// OpenRange implements Store.
func (s *S3) OpenRange(ctx context.Context, path string, offset, length int64) (io.ReadCloser, error) {
	key, err := s.key(path)
	if err != nil {
		return nil, err
	}

	opts := minio.GetObjectOptions{}
	if offset > 0 || length >= 0 {
		end := int64(0) // zero end means "to EOF" for SetRange
		if length >= 0 {
			end = offset + length - 1
		}
		if err := opts.SetRange(offset, end); err != nil {
			return nil, fmt.Errorf("%s: %w", path, ErrInvalidRange)
		}
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, mapS3Error(path, err)
	}
	// GetObject is lazy; force the first read so missing objects and bad
	// ranges surface here, not mid-stream.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, mapS3Error(path, err)
	}
	return obj, nil
}

// Stat implements Store.
func (s *S3) Stat(ctx context.Context, path string) (Info, error) {
	key, err := s.key(path)
	if err != nil {
		return Info{}, err
	}
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return Info{}, mapS3Error(path, err)
	}
	return Info{Size: info.Size, ModTime: info.LastModified}, nil
}

// DeletePrefix implements Store.
func (s *S3) DeletePrefix(ctx context.Context, prefix string) error {
	key, err := s.key(prefix)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}

	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: key, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("failed to list s3 prefix %s: %w", prefix, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to delete s3 blob %s: %w", obj.Key, err)
		}
	}
	return nil
}

func mapS3Error(path string, err error) error {
	var respErr minio.ErrorResponse
	if errors.As(err, &respErr) {
		switch respErr.Code {
		case "NoSuchKey", "NoSuchBucket":
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		case "InvalidRange":
			return fmt.Errorf("%s: %w", path, ErrInvalidRange)
		}
	}
	return fmt.Errorf("s3 blob %s: %w", path, err)
}
