package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/xerrors"
)

type S3Config struct {
	Bucket string
	// EndpointURL points the client at an S3 compatible server such as MinIO.
	// S3_ENDPOINT_URL is used when it is empty.
	EndpointURL string
}

type s3Storage struct {
	client *s3.Client
	bucket string
}

func NewS3Storage(ctx context.Context, c S3Config) (Storage, error) {
	if c.Bucket == "" {
		c.Bucket = os.Getenv("S3_BUCKET")
	}
	if c.Bucket == "" {
		return nil, xerrors.New("no bucket configured")
	}
	if c.EndpointURL == "" {
		c.EndpointURL = os.Getenv("S3_ENDPOINT_URL")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Errorf("failed to load AWS config: %w", err)
	}

	return &s3Storage{
		client: s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			if c.EndpointURL != "" {
				o.BaseEndpoint = aws.String(c.EndpointURL)
			}
			o.UsePathStyle = true
		}),
		bucket: c.Bucket,
	}, nil
}

func (s *s3Storage) url(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func (s *s3Storage) Put(ctx context.Context, key string, data []byte) (string, error) {
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(http.DetectContentType(data)),
	}); err != nil {
		return "", xerrors.Errorf("failed to put %s: %w", s.url(key), err)
	}

	return s.url(key), nil
}

// Get accepts an s3:// URL in the configured bucket or a bare key.
func (s *s3Storage) Get(ctx context.Context, url string) ([]byte, error) {
	key := url
	if strings.HasPrefix(url, "s3://") {
		var ok bool
		key, ok = strings.CutPrefix(url, s.url(""))
		if !ok {
			return nil, xerrors.Errorf("%s is outside bucket %s", url, s.bucket)
		}
	}

	object, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to get %s: %w", url, err)
	}
	defer object.Body.Close()

	data, err := io.ReadAll(object.Body)
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %w", url, err)
	}

	return data, nil
}
