package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 records path-style object requests
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	buckets map[string]bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
		buckets: make(map[string]bool),
	}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")

	switch {
	case key == "" && r.Method == http.MethodHead:
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case key == "" && r.Method == http.MethodPut:
		f.buckets[bucket] = true
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[path] = body
		f.types[path] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodDelete:
		delete(f.objects, path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T, fake *fakeS3, ensure bool) (*S3Store, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewS3Store(context.Background(), Config{
		Bucket:          "avatars",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
		EnsureBucket:    ensure,
	})
	require.NoError(t, err)
	return store, srv
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), Config{})
	assert.Error(t, err)
}

func TestAvatarKey(t *testing.T) {
	key := AvatarKey("u1", "image/png", []byte("img"))
	assert.True(t, strings.HasPrefix(key, "avatars/u1/"))
	assert.True(t, strings.HasSuffix(key, ".png"))
	assert.Equal(t, key, AvatarKey("u1", "image/png", []byte("img")), "same content same key")
	assert.NotEqual(t, key, AvatarKey("u1", "image/png", []byte("other")))
}

func TestPutAndDelete(t *testing.T) {
	fake := newFakeS3()
	store, srv := newTestStore(t, fake, true)
	ctx := context.Background()

	assert.True(t, fake.buckets["avatars"], "bucket created on startup")

	obj, err := store.Put(ctx, "avatars/u1/abc.png", "image/png", []byte("pixels"))
	require.NoError(t, err)
	assert.Equal(t, "avatars/u1/abc.png", obj.Key)
	assert.Equal(t, srv.URL+"/avatars/avatars/u1/abc.png", obj.URL)

	fake.mu.Lock()
	assert.Equal(t, []byte("pixels"), fake.objects["avatars/avatars/u1/abc.png"])
	assert.Equal(t, "image/png", fake.types["avatars/avatars/u1/abc.png"])
	fake.mu.Unlock()

	require.NoError(t, store.Delete(ctx, obj.Key))
	fake.mu.Lock()
	assert.Empty(t, fake.objects)
	fake.mu.Unlock()

	assert.NoError(t, store.HealthCheck(ctx))
}

func TestURL(t *testing.T) {
	s := &S3Store{cfg: Config{Bucket: "b", Region: "eu-west-1"}}
	assert.Equal(t, "https://b.s3.eu-west-1.amazonaws.com/avatars/u1/x.png", s.URL("avatars/u1/x.png"))

	s.cfg.PublicBaseURL = "https://cdn.example.com/"
	assert.Equal(t, "https://cdn.example.com/avatars/u1/x.png", s.URL("avatars/u1/x.png"))
}
