package archive

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fieldtrack/tracker/internal/config"
)

// ObjectStore uploads finished track files to a minio bucket.
type ObjectStore struct {
	mc     *minio.Client
	bucket string
}

func NewObjectStore(cfg *config.Config) (*ObjectStore, error) {
	mc, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseTLS,
	})
	if err != nil {
		return nil, err
	}
	return &ObjectStore{mc: mc, bucket: cfg.MinioBucket}, nil
}

func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

func (s *ObjectStore) Upload(ctx context.Context, objectName string, r io.Reader, size int64) error {
	_, err := s.mc.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

// BuildObjectPath partitions archive objects by day.
func BuildObjectPath(basePath string, t time.Time, file string) string {
	return fmt.Sprintf("%s/year=%04d/month=%02d/day=%02d/%s",
		basePath, t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), file)
}
