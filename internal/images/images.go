// Package images stores pantry item photos in S3-compatible object storage.
package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/pantrysync/internal/apperr"
	"github.com/dukerupert/pantrysync/internal/ids"
)

// MaxSize caps an uploaded photo.
const MaxSize = 5 << 20

// ErrNotConfigured is returned when no bucket or credentials are set.
var ErrNotConfigured = errors.New("image storage not configured")

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config holds S3-compatible storage settings. PublicURL is the base that
// object keys are appended to; when empty, path-style URLs on Endpoint are
// used.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PublicURL string `yaml:"public_url"`
}

// Enabled reports whether uploads can be made.
func (c Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

type Store struct {
	cfg    Config
	client s3Client
}

// New returns a Store. With an incomplete Config every upload fails with
// ErrNotConfigured.
func New(cfg Config) *Store {
	s := &Store{cfg: cfg}
	if cfg.Enabled() {
		s.client = newS3Client(cfg)
	}
	return s
}

func newS3Client(cfg Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Key builds the object key for a new photo of an item.
func Key(householdID, itemID, contentType string) (string, error) {
	ext, ok := extensions[contentType]
	if !ok {
		return "", apperr.Validation("unsupported image type %q", contentType)
	}
	return fmt.Sprintf("%s/pantry/%s/%s.%s", householdID, itemID, strings.ToLower(ids.New()), ext), nil
}

// Upload stores a photo for an item and returns its public URL.
func (s *Store) Upload(ctx context.Context, householdID, itemID, contentType string, body io.Reader, size int64) (string, error) {
	if s.client == nil {
		return "", ErrNotConfigured
	}
	if size <= 0 || size > MaxSize {
		return "", apperr.Validation("image must be between 1 byte and %d bytes", MaxSize)
	}
	key, err := Key(householdID, itemID, contentType)
	if err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", apperr.Unavailable("upload image", fmt.Errorf("put object: %w", err))
	}
	return s.URL(key), nil
}

// URL returns the public URL of key.
func (s *Store) URL(key string) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/") + "/" + key
	}
	base := strings.TrimRight(s.cfg.Endpoint, "/")
	if base == "" {
		base = fmt.Sprintf("https://s3.%s.amazonaws.com", s.cfg.Region)
	}
	return base + "/" + s.cfg.Bucket + "/" + key
}

// KeyFromURL reverses URL. ok is false for URLs this store did not issue.
func (s *Store) KeyFromURL(raw string) (key string, ok bool) {
	prefix := s.URL("")
	if !strings.HasPrefix(raw, prefix) {
		return "", false
	}
	key = strings.TrimPrefix(raw, prefix)
	if _, err := url.PathUnescape(key); err != nil || key == "" {
		return "", false
	}
	return key, true
}

// Delete removes the photo at raw if this store issued it.
func (s *Store) Delete(ctx context.Context, raw string) error {
	if s.client == nil {
		return ErrNotConfigured
	}
	key, ok := s.KeyFromURL(raw)
	if !ok {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return apperr.Unavailable("delete image", fmt.Errorf("delete object: %w", err))
	}
	return nil
}
