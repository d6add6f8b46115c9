package filetransfer

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOStore is an ObjectStore backed by minio-go. MinIO only rolls keys up
// on "/", so any non-empty delimiter lists one level.
type MinIOStore struct {
	client *minio.Client
}

// NewMinIOStore connects to opts.Endpoint. An https scheme enables TLS.
func NewMinIOStore(accessKey, secretKey string, opts S3Options) (*MinIOStore, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("%w: minio endpoint is required", ErrInvalidArgument)
	}
	host, secure := opts.Endpoint, false
	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		host, secure = u.Host, u.Scheme == "https"
	}
	lookup := minio.BucketLookupAuto
	if opts.UsePathStyle {
		lookup = minio.BucketLookupPath
	}
	client, err := minio.New(host, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, opts.SessionToken),
		Secure:       secure,
		Region:       opts.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOStore{client: client}, nil
}

func (m *MinIOStore) ListBuckets(ctx context.Context) ([]string, error) {
	buckets, err := m.client.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(buckets))
	for _, b := range buckets {
		names = append(names, b.Name)
	}
	return names, nil
}

func (m *MinIOStore) ListObjects(ctx context.Context, bucket, prefix, delimiter string) ([]ObjectInfo, []string, error) {
	recursive := delimiter == ""
	var (
		objects  []ObjectInfo
		prefixes []string
	)
	for o := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: recursive}) {
		if o.Err != nil {
			return nil, nil, o.Err
		}
		if !recursive && strings.HasSuffix(o.Key, "/") && o.Key != prefix {
			prefixes = append(prefixes, o.Key)
			continue
		}
		objects = append(objects, ObjectInfo{Key: o.Key, Size: o.Size, LastModified: o.LastModified})
	}
	return objects, prefixes, nil
}

func (m *MinIOStore) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	_, err := m.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{})
	return err
}

func (m *MinIOStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// minio defers the request until first use; Stat surfaces missing keys
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, err
	}
	return obj, nil
}

func (m *MinIOStore) DeleteObject(ctx context.Context, bucket, key string) error {
	return m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}
