package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Object is the result of one upload: the public URL plus the storage key.
type Object struct {
	URL string
	Key string
}

// Store persists generated artifacts. The pipeline never assumes a specific
// backend beyond this contract.
type Store interface {
	Upload(ctx context.Context, data []byte, contentType, ext, prefix string) (Object, error)
}

// MinioStore stores artifacts in a MinIO/S3 bucket.
type MinioStore struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	BaseURL   string
}

func NewMinioStoreFromEnv() *MinioStore {
	useSSL := os.Getenv("MINIO_USE_SSL") == "1" || strings.EqualFold(os.Getenv("MINIO_USE_SSL"), "true")
	return &MinioStore{
		Endpoint:  os.Getenv("MINIO_ENDPOINT"),
		AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_SECRET_KEY"),
		Bucket:    os.Getenv("MINIO_BUCKET"),
		UseSSL:    useSSL,
		BaseURL:   os.Getenv("MINIO_PUBLIC_BASE"),
	}
}

func (m *MinioStore) client() (*minio.Client, error) {
	return minio.New(m.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(m.AccessKey, m.SecretKey, ""),
		Secure: m.UseSSL,
	})
}

func (m *MinioStore) ensureBucket(ctx context.Context, cli *minio.Client) error {
	exists, err := cli.BucketExists(ctx, m.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		return cli.MakeBucket(ctx, m.Bucket, minio.MakeBucketOptions{})
	}
	return nil
}

func (m *MinioStore) Upload(ctx context.Context, data []byte, contentType, ext, prefix string) (Object, error) {
	cli, err := m.client()
	if err != nil {
		return Object{}, fmt.Errorf("minio client: %w", err)
	}
	if err := m.ensureBucket(ctx, cli); err != nil {
		return Object{}, fmt.Errorf("ensure bucket: %w", err)
	}

	key := strings.Trim(prefix, "/") + "/" + uuid.NewString() + ext
	_, err = cli.PutObject(ctx, m.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return Object{}, fmt.Errorf("put object: %w", err)
	}
	return Object{URL: m.publicURL(key), Key: key}, nil
}

func (m *MinioStore) publicURL(key string) string {
	if m.BaseURL != "" {
		return strings.TrimRight(m.BaseURL, "/") + "/" + key
	}
	scheme := "http://"
	if m.UseSSL {
		scheme = "https://"
	}
	return scheme + m.Endpoint + "/" + m.Bucket + "/" + key
}
