package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// BucketProbe checks that the media bucket is reachable with the configured credentials.
type BucketProbe struct {
	client *gcs.Client
	bucket string
}

// NewBucketProbe constructs a probe for bucket.
func NewBucketProbe(client *gcs.Client, bucket string) (*BucketProbe, error) {
	if client == nil {
		return nil, errors.New("storage probe: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	return &BucketProbe{client: client, bucket: bucket}, nil
}

// Ping fetches the bucket attributes.
func (p *BucketProbe) Ping(ctx context.Context) error {
	if _, err := p.client.Bucket(p.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("storage: bucket %s: %w", p.bucket, err)
	}
	return nil
}
