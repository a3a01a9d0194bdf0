package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

const gcsScheme = "gs://"

// GCSStore keeps artifacts in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore uses application default credentials.
func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("blob: GCS_BUCKET is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("blob: gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Put uploads data. Artifacts are write-once, so existing objects are never
// overwritten; keys are content addressed and an existing object is reused.
func (s *GCSStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	object := s.objectName(key)
	ref := gcsScheme + s.bucket + "/" + object
	wc := s.client.Bucket(s.bucket).Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("blob: gcs write: %w", err)
	}
	if err := wc.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return ref, nil
		}
		return "", fmt.Errorf("blob: gcs close: %w", err)
	}
	return ref, nil
}

// Get downloads the object behind ref.
func (s *GCSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	trimmed := strings.TrimPrefix(ref, gcsScheme+s.bucket+"/")
	if trimmed == ref {
		return nil, fmt.Errorf("blob: reference %q outside bucket %s", ref, s.bucket)
	}
	rc, err := s.client.Bucket(s.bucket).Object(trimmed).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blob: gcs reader: %w", err)
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) objectName(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}
