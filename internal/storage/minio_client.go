package storage

import (
	"context"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"ingest-service/internal/config"
)

// Archiver stores raw downloaded files in object storage before they are
// deleted from local disk. Archival is best effort; ingestion does not depend
// on it.
type Archiver interface {
	ArchiveFile(ctx context.Context, entityID, filePath string) error
}

// MinioArchiver keeps raw band files under <bucket>/<entityID>/<filename>.
type MinioArchiver struct {
	client *minio.Client
	bucket string
	log    *zap.Logger
}

// NewMinioArchiver initializes a MinIO client and ensures the bucket exists.
func NewMinioArchiver(cfg config.ArchiveConfig, log *zap.Logger) (*MinioArchiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: ""}); err != nil {
			return nil, err
		}
		log.Info("created archive bucket", zap.String("bucket", cfg.Bucket))
	}
	return &MinioArchiver{client: client, bucket: cfg.Bucket, log: log}, nil
}

// ArchiveFile uploads one raw file under the scene's entity ID.
func (a *MinioArchiver) ArchiveFile(ctx context.Context, entityID, filePath string) error {
	objectName := path.Join(entityID, filepath.Base(filePath))
	_, err := a.client.FPutObject(ctx, a.bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return err
	}
	a.log.Debug("archived raw file",
		zap.String("bucket", a.bucket),
		zap.String("object", objectName))
	return nil
}
