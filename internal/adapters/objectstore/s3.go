package objectstore

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/priceleap/enq/internal/errkind"
)

// S3Config configures the minio-go client (spec §6: `objectStore.endpoint
// | accessKey | secretKey | bucket | ssl`).
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	SSL       bool
}

// S3 is the production object store binding, backed by any S3-compatible
// endpoint via minio-go.
type S3 struct {
	client *minio.Client
	bucket string
	layout KeyLayout
}

func NewS3(cfg S3Config, layout KeyLayout) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.SSL,
	})
	if err != nil {
		return nil, errkind.New(errkind.Fatal, "construct minio client", err)
	}
	return &S3{client: client, bucket: cfg.Bucket, layout: layout}, nil
}

func (s *S3) Put(ctx context.Context, name string, data []byte) (string, error) {
	key := s.layout.Build(name)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return "", errkind.Transientf(err, "put object %s", key)
	}
	return key, nil
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, errkind.Transientf(err, "read object %s", key)
	}
	return b, nil
}

func (s *S3) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errkind.Transientf(err, "get object %s", key)
	}
	return obj, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return errkind.Transientf(err, "delete object %s", key)
	}
	return nil
}
