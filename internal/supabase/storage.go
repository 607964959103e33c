package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// BucketClient performs object operations within one bucket. Receipt and KYC
// uploads go through here.
type BucketClient struct {
	client *Client
	bucket string
}

// Upload writes an object. With opts.Upsert the object is replaced if it
// already exists.
func (b *BucketClient) Upload(ctx context.Context, path string, data []byte, opts UploadOptions) error {
	reqURL := b.objectURL(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	b.client.setHeaders(req, "")

	contentType := opts.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	req.Header.Set("Content-Type", contentType)
	if opts.CacheControl != "" {
		req.Header.Set("Cache-Control", opts.CacheControl)
	}
	if opts.Upsert {
		req.Header.Set("x-upsert", "true")
	}

	_, err = b.client.do(req)
	return err
}

// Download reads an object.
func (b *BucketClient) Download(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.objectURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	b.client.setHeaders(req, "")
	return b.client.do(req)
}

// Remove deletes objects by path.
func (b *BucketClient) Remove(ctx context.Context, paths ...string) error {
	payload, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return fmt.Errorf("marshal paths: %w", err)
	}

	reqURL := b.client.storageURL + "/object/" + b.bucket
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	b.client.setHeaders(req, "")
	req.Header.Set("Content-Type", "application/json")

	_, err = b.client.do(req)
	return err
}

// PublicURL returns the public address for an object in a public bucket;
// this is the URL persisted on submissions and credentials.
func (b *BucketClient) PublicURL(path string) string {
	return b.client.storageURL + "/object/public/" + b.bucket + "/" + escapePath(path)
}

func (b *BucketClient) objectURL(path string) string {
	return b.client.storageURL + "/object/" + b.bucket + "/" + escapePath(path)
}

func escapePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
