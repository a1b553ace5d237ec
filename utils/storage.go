package utils

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// LocalStorage implements models.StorageService on local disk. Files are
// addressed as URLPrefix + "/" + name.
type LocalStorage struct {
	Dir       string
	URLPrefix string
}

func (ls *LocalStorage) SaveFile(_ context.Context, filename string, data []byte, _ string) (string, error) {
	if err := os.MkdirAll(ls.Dir, 0755); err != nil {
		return "", err
	}
	fullPath := filepath.Join(ls.Dir, filepath.Base(filename))
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", err
	}
	return ls.URLPrefix + "/" + filepath.Base(filename), nil
}

func (ls *LocalStorage) DeleteFile(_ context.Context, path string) error {
	fullPath := filepath.Join(ls.Dir, filepath.Base(path))
	err := os.Remove(fullPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// LocalPath resolves a stored path to a file on disk.
func (ls *LocalStorage) LocalPath(path string) (string, bool) {
	return filepath.Join(ls.Dir, filepath.Base(path)), true
}

// S3Storage implements models.StorageService for S3-compatible object storage.
type S3Storage struct {
	Client     *minio.Client
	BucketName string
	PublicURL  string
	Prefix     string
}

func NewS3Storage(ctx context.Context, endpoint, accessKey, secretKey, bucket, region, publicURL, prefix string, useSSL bool) (*S3Storage, error) {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")

	var creds *credentials.Credentials
	if accessKey == "" || secretKey == "" {
		creds = credentials.NewIAM("")
	} else {
		creds = credentials.NewStaticV4(accessKey, secretKey, "")
	}

	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	exists, err := minioClient.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}

	if publicURL == "" {
		protocol := "http"
		if useSSL {
			protocol = "https"
		}
		publicURL = fmt.Sprintf("%s://%s.%s", protocol, bucket, endpoint)
	}
	publicURL = strings.TrimSuffix(publicURL, "/")

	return &S3Storage{
		Client:     minioClient,
		BucketName: bucket,
		PublicURL:  publicURL,
		Prefix:     strings.Trim(prefix, "/"),
	}, nil
}

func (s3 *S3Storage) key(filename string) string {
	if s3.Prefix == "" {
		return filename
	}
	return s3.Prefix + "/" + filename
}

func (s3 *S3Storage) SaveFile(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	key := s3.key(filepath.Base(filename))
	_, err := s3.Client.PutObject(ctx, s3.BucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", s3.PublicURL, key), nil
}

func (s3 *S3Storage) DeleteFile(ctx context.Context, path string) error {
	parts := strings.Split(path, "/")
	if len(parts) == 0 {
		return nil
	}
	return s3.Client.RemoveObject(ctx, s3.BucketName, s3.key(parts[len(parts)-1]), minio.RemoveObjectOptions{})
}

// LocalPath always reports false: objects are served from PublicURL.
func (s3 *S3Storage) LocalPath(string) (string, bool) {
	return "", false
}
