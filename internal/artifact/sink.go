// Package artifact persists run outputs to the local filesystem or S3.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"

	"corpus-pipeline/internal/config"
)

const (
	ContentTypeJSON  = "application/json"
	ContentTypeJSONL = "application/x-ndjson"
)

// Sink stores one artifact and returns where it landed.
type Sink interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// New picks the sink configured by cfg.ArtifactBackend.
func New(ctx context.Context, cfg config.Config) (Sink, error) {
	switch strings.ToLower(cfg.ArtifactBackend) {
	case "", "local":
		return NewLocalSink(cfg.ArtifactDir), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, errors.New("artifact backend s3 requires s3_bucket")
		}
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &S3Sink{client: client, bucket: cfg.S3Bucket, prefix: cfg.S3Prefix}, nil
	default:
		return nil, errors.Newf("unknown artifact backend %q", cfg.ArtifactBackend)
	}
}

// LocalSink writes artifacts beneath a base directory.
type LocalSink struct {
	baseDir string
}

func NewLocalSink(baseDir string) *LocalSink {
	if baseDir == "" {
		baseDir = "data/processed"
	}
	return &LocalSink{baseDir: baseDir}
}

func (l *LocalSink) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, sanitizeKey(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, "create dirs")
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", errors.Wrap(err, "write file")
	}
	return path, nil
}

// S3Sink uploads artifacts under an optional key prefix.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

func (s *S3Sink) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	key = sanitizeKey(key)
	if s.prefix != "" {
		key = strings.TrimSuffix(s.prefix, "/") + "/" + key
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", errors.Wrap(err, "put object")
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3PathStyle
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
	}), nil
}

func sanitizeKey(key string) string {
	key = filepath.ToSlash(filepath.Clean(key))
	key = strings.TrimPrefix(key, "/")
	key = strings.TrimPrefix(key, "./")
	for strings.HasPrefix(key, "../") {
		key = strings.TrimPrefix(key, "../")
	}
	return key
}
