package publish

import (
	"context"
	"fmt"
	"io"
	"os"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// BlobPublisher writes to any gocloud bucket URL (file://, mem://, s3://, gs://).
type BlobPublisher struct {
	bucket *blob.Bucket
	name   string
}

func OpenBlob(ctx context.Context, bucketURL string) (*BlobPublisher, error) {
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return &BlobPublisher{bucket: bkt, name: bucketURL}, nil
}

func NewBlobPublisher(bkt *blob.Bucket, name string) *BlobPublisher {
	return &BlobPublisher{bucket: bkt, name: name}
}

func (p *BlobPublisher) Name() string {
	return p.name
}

func (p *BlobPublisher) Put(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := p.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: rasterContentType})
	if err != nil {
		return fmt.Errorf("open writer for %s: %w", key, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

func (p *BlobPublisher) Close() error {
	return p.bucket.Close()
}
