package mirror

import (
	"context"
	"fmt"
	"mime"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"uploadhub/internal/config"
)

// Mirror copies finished uploads to an S3 compatible bucket.
type Mirror struct {
	client *minio.Client
	bucket string
	prefix string
	log    *logrus.Entry
}

// New builds the MinIO client. No request is made until Replicate.
func New(cfg config.MirrorConfig) (*Mirror, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, config.ErrInvalidMirrorConfig
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.Secure,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	return &Mirror{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    logrus.WithFields(logrus.Fields{"component": "mirror", "bucket": cfg.Bucket}),
	}, nil
}

// ObjectName is the key a file called name is stored under.
func (m *Mirror) ObjectName(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// Replicate uploads the file at localPath as name.
func (m *Mirror) Replicate(ctx context.Context, localPath, name string) error {
	object := m.ObjectName(name)
	opts := minio.PutObjectOptions{ContentType: mime.TypeByExtension(filepath.Ext(name))}
	info, err := m.client.FPutObject(ctx, m.bucket, object, localPath, opts)
	if err != nil {
		return fmt.Errorf("mirror %s to %s/%s: %w", localPath, m.bucket, object, err)
	}
	m.log.WithFields(logrus.Fields{"object": object, "size": info.Size}).Info("upload mirrored")
	return nil
}
