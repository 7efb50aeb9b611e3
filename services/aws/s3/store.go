package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const scheme = "s3"

// IsURI reports whether dst names an object instead of a local path.
func IsURI(dst string) bool {
	return strings.HasPrefix(dst, scheme+"://")
}

// ParseURI splits s3://bucket/key into its parts.
func ParseURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != scheme {
		return "", "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", errors.New("invalid s3 uri: " + uri)
	}
	return bucket, key, nil
}

// Store writes results to a bucket.
type Store struct {
	uploader *manager.Uploader
}

func NewStore(client manager.UploadAPIClient) *Store {
	return &Store{uploader: manager.NewUploader(client)}
}

// Put uploads body to uri and returns the bucket and key it was stored at.
func (s *Store) Put(ctx context.Context, uri string, body []byte, contentType string) (bucket, key string, err error) {
	bucket, key, err = ParseURI(uri)
	if err != nil {
		return "", "", err
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.Upload(ctx, in); err != nil {
		return "", "", err
	}
	return bucket, key, nil
}
