package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/diplomaflow/internal/gcp"
)

// maxAssetSize bounds a single download. The CJK font is the largest asset
// at roughly 20 MB.
const maxAssetSize = 64 << 20

// HTTPFetcher downloads http and https locations.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, location *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http get: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxAssetSize {
		return nil, fmt.Errorf("asset larger than %d bytes", maxAssetSize)
	}
	return data, nil
}

// GCSFetcher reads gs://bucket/object locations.
type GCSFetcher struct {
	client  *storage.Client
	timeout time.Duration
}

func NewGCSFetcher(client *storage.Client, timeout time.Duration) *GCSFetcher {
	return &GCSFetcher{client: client, timeout: timeout}
}

func (f *GCSFetcher) Fetch(ctx context.Context, location *url.URL) ([]byte, error) {
	bucket, object := location.Host, strings.TrimPrefix(location.Path, "/")
	if bucket == "" || object == "" {
		return nil, fmt.Errorf("gcs location must be gs://bucket/object")
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	return gcp.ReadObject(ctx, f.client.Bucket(bucket), object)
}

// FileFetcher reads file:// locations from the local disk.
type FileFetcher struct{}

func (FileFetcher) Fetch(_ context.Context, location *url.URL) ([]byte, error) {
	path := location.Path
	if path == "" {
		path = location.Opaque
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}
