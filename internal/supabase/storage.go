package supabase

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Storage uploads screenshots to a bucket of the record store's object storage.
type Storage struct {
	client *Client
	bucket string
}

func NewStorage(client *Client, bucket string) *Storage {
	return &Storage{client: client, bucket: strings.Trim(bucket, "/")}
}

// Upload stores data and returns the object's public URL.
func (s *Storage) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" || len(data) == 0 {
		return "", &RequestError{Op: "upload object", Err: errors.New("object key and body are required")}
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	header := http.Header{}
	header.Set("x-upsert", "true")
	_, _, err := s.client.do(ctx, request{
		op:          "upload object",
		method:      http.MethodPost,
		path:        storagePrefix + s.bucket + "/" + key,
		body:        data,
		contentType: contentType,
		header:      header,
	})
	if err != nil {
		return "", err
	}
	return s.PublicURL(key), nil
}

func (s *Storage) PublicURL(key string) string {
	return s.client.baseURL + storagePrefix + "public/" + s.bucket + "/" + strings.TrimLeft(key, "/")
}
