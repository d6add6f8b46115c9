package filetransfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cafex/cafex/framework/concurrent"
	"github.com/cafex/cafex/framework/report"
)

// Backend selects the S3 client implementation
type Backend string

const (
	BackendAWS   Backend = "aws"
	BackendMinIO Backend = "minio"
)

const folderDelimiter = "/"

// ObjectInfo describes one stored object
type ObjectInfo struct {
	Key          string    `json:"file_name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ObjectStore is the storage surface S3Session needs. Both backends and
// test fakes implement it.
type ObjectStore interface {
	ListBuckets(ctx context.Context) ([]string, error)
	// ListObjects returns the objects under prefix. With a delimiter the
	// keys rolled up into common prefixes are returned as prefixes instead.
	ListObjects(ctx context.Context, bucket, prefix, delimiter string) ([]ObjectInfo, []string, error)
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64) error
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, bucket, key string) error
}

// S3Options configure OpenSession
type S3Options struct {
	// Backend defaults to BackendAWS
	Backend      Backend
	Region       string
	SessionToken string

	// Endpoint overrides the service address, e.g. "http://localhost:9000"
	// for a local MinIO. Required for BackendMinIO.
	Endpoint     string
	UsePathStyle bool
}

// ContentInfo is the recursive listing returned by ReadContent
type ContentInfo struct {
	Count   int
	Keys    []string
	Details []ObjectInfo
}

// S3Session runs bucket operations against an ObjectStore
type S3Session struct {
	store    ObjectStore
	limit    int
	logger   *slog.Logger
	recorder report.Recorder
}

// OpenSession creates a session for the configured backend
func (u *Utils) OpenSession(ctx context.Context, accessKey, secretKey string, opts S3Options) (*S3Session, error) {
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("%w: access key and secret key are required", ErrInvalidArgument)
	}
	var (
		store ObjectStore
		err   error
	)
	switch opts.Backend {
	case "", BackendAWS:
		store, err = NewAWSStore(ctx, accessKey, secretKey, opts)
	case BackendMinIO:
		store, err = NewMinIOStore(accessKey, secretKey, opts)
	default:
		return nil, fmt.Errorf("%w: unknown s3 backend %q", ErrInvalidArgument, opts.Backend)
	}
	if err != nil {
		u.logger.Error("s3 session failed", "backend", opts.Backend, "error", err)
		return nil, err
	}
	return u.NewS3Session(store), nil
}

// NewS3Session wraps an existing store
func (u *Utils) NewS3Session(store ObjectStore) *S3Session {
	return &S3Session{
		store:    store,
		limit:    u.maxConcurrent,
		logger:   u.logger.With("protocol", "s3"),
		recorder: u.recorder,
	}
}

// ListBuckets returns the bucket names visible to the credentials
func (s *S3Session) ListBuckets(ctx context.Context) ([]string, error) {
	buckets, err := s.store.ListBuckets(ctx)
	if err != nil {
		s.logger.Error("list buckets failed", "error", err)
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	return buckets, nil
}

func requireBucket(bucket string) error {
	if strings.TrimSpace(bucket) == "" {
		return fmt.Errorf("%w: bucket name is required", ErrInvalidArgument)
	}
	return nil
}

// ReadObjects lists one level under prefix. When the level holds folders
// their prefixes are returned, otherwise the object keys.
func (s *S3Session) ReadObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	if err := requireBucket(bucket); err != nil {
		return nil, err
	}
	objects, prefixes, err := s.store.ListObjects(ctx, bucket, prefix, folderDelimiter)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
	}
	if len(prefixes) > 0 {
		return prefixes, nil
	}
	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		keys = append(keys, o.Key)
	}
	return keys, nil
}

// ListFolders returns the folder prefixes directly under prefix
func (s *S3Session) ListFolders(ctx context.Context, bucket, prefix string) (int, []string, error) {
	if err := requireBucket(bucket); err != nil {
		return 0, nil, err
	}
	_, prefixes, err := s.store.ListObjects(ctx, bucket, prefix, folderDelimiter)
	if err != nil {
		return 0, nil, fmt.Errorf("list folders %s/%s: %w", bucket, prefix, err)
	}
	return len(prefixes), prefixes, nil
}

// ReadContent lists every object under prefix, recursively
func (s *S3Session) ReadContent(ctx context.Context, bucket, prefix string) (*ContentInfo, error) {
	if err := requireBucket(bucket); err != nil {
		return nil, err
	}
	objects, _, err := s.store.ListObjects(ctx, bucket, prefix, "")
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, prefix, err)
	}
	info := &ContentInfo{Count: len(objects), Details: objects}
	for _, o := range objects {
		info.Keys = append(info.Keys, o.Key)
	}
	return info, nil
}

// UploadFile stores localPath under key. An empty key uses the file name.
func (s *S3Session) UploadFile(ctx context.Context, localPath, bucket, key string) error {
	if err := requireBucket(bucket); err != nil {
		return err
	}
	if key == "" {
		key = filepath.Base(localPath)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if err := s.store.PutObject(ctx, bucket, key, f, st.Size()); err != nil {
		s.logger.Error("upload failed", "bucket", bucket, "key", key, "error", err)
		report.Error(s.recorder, "s3 upload "+key, err)
		return fmt.Errorf("%w: put %s/%s: %v", ErrTransfer, bucket, key, err)
	}
	s.logger.Debug("object uploaded", "bucket", bucket, "key", key, "size", st.Size())
	report.Pass(s.recorder, "s3 upload "+key, localPath, bucket+"/"+key)
	return nil
}

// DownloadFile writes the object at key to localPath, creating parent
// directories
func (s *S3Session) DownloadFile(ctx context.Context, bucket, key, localPath string) error {
	if err := requireBucket(bucket); err != nil {
		return err
	}
	if err := ensureDir(filepath.Dir(localPath)); err != nil {
		return err
	}
	rc, err := s.store.GetObject(ctx, bucket, key)
	if err != nil {
		s.logger.Error("download failed", "bucket", bucket, "key", key, "error", err)
		report.Error(s.recorder, "s3 download "+key, err)
		return fmt.Errorf("%w: get %s/%s: %v", ErrTransfer, bucket, key, err)
	}
	defer rc.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("%w: copy %s/%s: %v", ErrTransfer, bucket, key, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	report.Pass(s.recorder, "s3 download "+key, bucket+"/"+key, localPath)
	return nil
}

// DeleteObject removes key from bucket
func (s *S3Session) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := requireBucket(bucket); err != nil {
		return err
	}
	if err := s.store.DeleteObject(ctx, bucket, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	s.logger.Info("object deleted", "bucket", bucket, "key", key)
	return nil
}

// UploadFiles uploads every path under prefix in parallel and returns the
// keys written
func (s *S3Session) UploadFiles(ctx context.Context, bucket, prefix string, paths []string) ([]string, error) {
	return concurrent.MapWithLimit(ctx, paths, s.limit, func(ctx context.Context, p string) (string, error) {
		key := path.Join(prefix, filepath.Base(p))
		return key, s.UploadFile(ctx, p, bucket, key)
	})
}

// DownloadFiles downloads keys into localDir in parallel and returns the
// local paths written
func (s *S3Session) DownloadFiles(ctx context.Context, bucket string, keys []string, localDir string) ([]string, error) {
	return concurrent.MapWithLimit(ctx, keys, s.limit, func(ctx context.Context, key string) (string, error) {
		local := filepath.Join(localDir, path.Base(key))
		return local, s.DownloadFile(ctx, bucket, key, local)
	})
}
