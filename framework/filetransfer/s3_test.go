package filetransfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNoSuchKey = errors.New("NoSuchKey")

type memStore struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
}

func newMemStore(buckets ...string) *memStore {
	m := &memStore{buckets: map[string]map[string][]byte{}}
	for _, b := range buckets {
		m.buckets[b] = map[string][]byte{}
	}
	return m
}

func (m *memStore) ListBuckets(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for b := range m.buckets {
		names = append(names, b)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memStore) ListObjects(_ context.Context, bucket, prefix, delimiter string) ([]ObjectInfo, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.buckets[bucket] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var (
		objects  []ObjectInfo
		prefixes []string
		seen     = map[string]bool{}
	)
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if i := strings.Index(rest, delimiter); delimiter != "" && i >= 0 {
			p := prefix + rest[:i+len(delimiter)]
			if !seen[p] {
				seen[p] = true
				prefixes = append(prefixes, p)
			}
			continue
		}
		objects = append(objects, ObjectInfo{Key: k, Size: int64(len(m.buckets[bucket][k]))})
	}
	return objects, prefixes, nil
}

func (m *memStore) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucket][key] = data
	return nil
}

func (m *memStore) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.buckets[bucket][key]
	if !ok {
		return nil, errNoSuchKey
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) DeleteObject(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets[bucket], key)
	return nil
}

func seededSession(t *testing.T) (*S3Session, *memStore) {
	t.Helper()
	store := newMemStore("raw", "curated")
	store.buckets["raw"]["data/2024/a.csv"] = []byte("a")
	store.buckets["raw"]["data/2025/b.csv"] = []byte("bb")
	store.buckets["raw"]["data/readme.txt"] = []byte("readme")
	store.buckets["raw"]["flat/x.json"] = []byte("{}")
	return New().NewS3Session(store), store
}

func TestS3ListBuckets(t *testing.T) {
	s, _ := seededSession(t)
	buckets, err := s.ListBuckets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"curated", "raw"}, buckets)
}

func TestS3ReadObjects(t *testing.T) {
	s, _ := seededSession(t)
	ctx := context.Background()

	folders, err := s.ReadObjects(ctx, "raw", "data/")
	require.NoError(t, err)
	assert.Equal(t, []string{"data/2024/", "data/2025/"}, folders)

	keys, err := s.ReadObjects(ctx, "raw", "flat/")
	require.NoError(t, err)
	assert.Equal(t, []string{"flat/x.json"}, keys)

	_, err = s.ReadObjects(ctx, "", "flat/")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestS3ListFoldersAndReadContent(t *testing.T) {
	s, _ := seededSession(t)
	ctx := context.Background()

	n, folders, err := s.ListFolders(ctx, "raw", "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"data/", "flat/"}, folders)

	content, err := s.ReadContent(ctx, "raw", "data/")
	require.NoError(t, err)
	assert.Equal(t, 3, content.Count)
	assert.Equal(t, []string{"data/2024/a.csv", "data/2025/b.csv", "data/readme.txt"}, content.Keys)
	assert.Equal(t, int64(2), content.Details[1].Size)
}

func TestS3UploadDownloadDelete(t *testing.T) {
	s, store := seededSession(t)
	ctx := context.Background()
	dir := t.TempDir()

	var paths []string
	for _, name := range []string{"one.csv", "two.csv"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(name), 0o600))
		paths = append(paths, p)
	}
	keys, err := s.UploadFiles(ctx, "curated", "out/2024", paths)
	require.NoError(t, err)
	assert.Equal(t, []string{"out/2024/one.csv", "out/2024/two.csv"}, keys)
	assert.Equal(t, []byte("two.csv"), store.buckets["curated"]["out/2024/two.csv"])

	local, err := s.DownloadFiles(ctx, "curated", keys, filepath.Join(dir, "back"))
	require.NoError(t, err)
	data, err := os.ReadFile(local[0])
	require.NoError(t, err)
	assert.Equal(t, "one.csv", string(data))

	require.NoError(t, s.DeleteObject(ctx, "curated", "out/2024/one.csv"))
	err = s.DownloadFile(ctx, "curated", "out/2024/one.csv", filepath.Join(dir, "gone.csv"))
	require.ErrorIs(t, err, ErrTransfer)
}

func TestOpenSession_Validation(t *testing.T) {
	u := New()
	ctx := context.Background()

	_, err := u.OpenSession(ctx, "", "secret", S3Options{})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = u.OpenSession(ctx, "key", "secret", S3Options{Backend: "gcs"})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = u.OpenSession(ctx, "key", "secret", S3Options{Backend: BackendMinIO})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

const listBucketsXML = `<?xml version="1.0" encoding="UTF-8"?>
<ListAllMyBucketsResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Owner><ID>1</ID><DisplayName>tester</DisplayName></Owner><Buckets><Bucket><Name>curated</Name><CreationDate>2024-01-01T00:00:00.000Z</CreationDate></Bucket><Bucket><Name>raw</Name><CreationDate>2024-01-01T00:00:00.000Z</CreationDate></Bucket></Buckets></ListAllMyBucketsResult>`

const listObjectsXML = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>raw</Name><Prefix>data/</Prefix><KeyCount>2</KeyCount><MaxKeys>1000</MaxKeys><Delimiter>/</Delimiter><IsTruncated>false</IsTruncated><Contents><Key>data/readme.txt</Key><LastModified>2024-01-02T03:04:05.000Z</LastModified><ETag>&quot;abc&quot;</ETag><Size>6</Size><StorageClass>STANDARD</StorageClass></Contents><CommonPrefixes><Prefix>data/2024/</Prefix></CommonPrefixes></ListBucketResult>`

func fakeS3Server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		switch {
		case r.URL.Path == "/":
			_, _ = io.WriteString(w, listBucketsXML)
		case r.URL.Path == "/raw" || r.URL.Path == "/raw/":
			_, _ = io.WriteString(w, listObjectsXML)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAWSStore(t *testing.T) {
	srv := fakeS3Server(t)
	s, err := New().OpenSession(context.Background(), "key", "secret", S3Options{Endpoint: srv.URL, UsePathStyle: true})
	require.NoError(t, err)

	buckets, err := s.ListBuckets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"curated", "raw"}, buckets)

	store := s.store.(*AWSStore)
	objects, prefixes, err := store.ListObjects(context.Background(), "raw", "data/", "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"data/2024/"}, prefixes)
	require.Len(t, objects, 1)
	assert.Equal(t, "data/readme.txt", objects[0].Key)
	assert.Equal(t, int64(6), objects[0].Size)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), objects[0].LastModified)
}

func TestMinIOStore(t *testing.T) {
	srv := fakeS3Server(t)
	s, err := New().OpenSession(context.Background(), "key", "secret", S3Options{
		Backend:      BackendMinIO,
		Endpoint:     srv.URL,
		Region:       "us-east-1",
		UsePathStyle: true,
	})
	require.NoError(t, err)

	buckets, err := s.ListBuckets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"curated", "raw"}, buckets)
}
