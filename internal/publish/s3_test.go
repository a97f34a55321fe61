package publish

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "", want: "01RUN/tiles.zip"},
		{prefix: "slides", want: "slides/01RUN/tiles.zip"},
		{prefix: "/slides/2026/", want: "slides/2026/01RUN/tiles.zip"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ObjectKey(tt.prefix, "01RUN", "/out/dir/tiles.zip"))
	}
}

// fakeS3 answers the handful of S3 calls the publisher makes.
type fakeS3 struct {
	mu           sync.Mutex
	bucketExists bool
	madeBucket   bool
	objects      map[string][]byte
	contentTypes map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket := strings.TrimSuffix(r.URL.Path, "/") == "/tiles"
	switch {
	case r.Method == http.MethodHead && bucket:
		if !f.bucketExists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && bucket:
		f.bucketExists = true
		f.madeBucket = true
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		if strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
			body = decodeChunked(body)
		}
		f.objects[r.URL.Path] = body
		f.contentTypes[r.URL.Path] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

// decodeChunked strips aws-chunked framing: "<hex size>[;ext]\r\n<data>\r\n"
// repeated until a zero-size chunk.
func decodeChunked(body []byte) []byte {
	var out []byte
	for {
		header, rest, ok := bytes.Cut(body, []byte("\r\n"))
		if !ok {
			return out
		}
		sizeHex, _, _ := bytes.Cut(header, []byte(";"))
		size, err := strconv.ParseInt(string(sizeHex), 16, 64)
		if err != nil || size == 0 || int64(len(rest)) < size {
			return out
		}
		out = append(out, rest[:size]...)
		body = bytes.TrimPrefix(rest[size:], []byte("\r\n"))
	}
}

func newFakeS3(t *testing.T, exists bool) (*fakeS3, Options) {
	t.Helper()
	fake := &fakeS3{bucketExists: exists, objects: map[string][]byte{}, contentTypes: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return fake, Options{
		Endpoint:  u.Host,
		Bucket:    "tiles",
		Prefix:    "runs",
		Region:    "us-east-1",
		AccessKey: "minio",
		SecretKey: "minio123",
	}
}

func TestS3_Publish(t *testing.T) {
	fake, opts := newFakeS3(t, true)
	archive := filepath.Join(t.TempDir(), "tiles.zip")
	require.NoError(t, os.WriteFile(archive, []byte("PK archive"), 0o600))

	s, err := NewS3(context.Background(), opts)
	require.NoError(t, err)
	assert.False(t, fake.madeBucket)

	location, err := s.Publish(context.Background(), "01RUN", archive)
	require.NoError(t, err)
	assert.Equal(t, "s3://tiles/runs/01RUN/tiles.zip", location)
	assert.Equal(t, []byte("PK archive"), fake.objects["/tiles/runs/01RUN/tiles.zip"])
	assert.Equal(t, "application/zip", fake.contentTypes["/tiles/runs/01RUN/tiles.zip"])
}

func TestNewS3_CreatesBucket(t *testing.T) {
	fake, opts := newFakeS3(t, false)

	_, err := NewS3(context.Background(), opts)
	require.NoError(t, err)
	assert.True(t, fake.madeBucket)
}

func TestNewS3_InvalidEndpoint(t *testing.T) {
	_, err := NewS3(context.Background(), Options{Endpoint: "http://bad endpoint", Bucket: "tiles"})
	require.Error(t, err)
}
