package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSBlob stores each key as one object under prefix in a Cloud Storage bucket.
type GCSBlob struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSBlob(ctx context.Context, bucket string, prefix string) (*GCSBlob, error) {
	if bucket == "" {
		return nil, errors.New("snapshot bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("gcs bucket %q not found or not accessible: %w", bucket, err)
	}
	return &GCSBlob{client: client, bucket: bucket, prefix: prefix}, nil
}

func (b *GCSBlob) object(key string) *storage.ObjectHandle {
	return b.client.Bucket(b.bucket).Object(b.prefix + key + ".json")
}

func (b *GCSBlob) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := b.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (b *GCSBlob) Put(ctx context.Context, key string, data []byte) error {
	wc := b.object(key).NewWriter(ctx)
	wc.ContentType = "application/json"
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return err
	}
	return wc.Close()
}

func (b *GCSBlob) Delete(ctx context.Context, key string) error {
	err := b.object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (b *GCSBlob) Close() error {
	return b.client.Close()
}
