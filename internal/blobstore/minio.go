package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	metaDigest     = "Digest"
	metaUploadedBy = "Uploaded-By"
	metaStage      = "Stage"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	MaxBytes  int64
}

// Minio stores document content in an S3-compatible bucket.
type Minio struct {
	client   *minio.Client
	bucket   string
	maxBytes int64
}

func NewMinio(ctx context.Context, cfg MinioConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	return &Minio{client: client, bucket: cfg.Bucket, maxBytes: maxBytes}, nil
}

func (m *Minio) Put(ctx context.Context, meta Object, body io.Reader) (Object, error) {
	data, err := readLimited(body, m.maxBytes)
	if err != nil {
		return Object{}, err
	}
	meta.Size = int64(len(data))
	meta.Digest = Digest(data)
	if meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}

	_, err = m.client.PutObject(ctx, m.bucket, Key(meta.ShipmentID, meta.Stage, meta.Name), bytes.NewReader(data), meta.Size, minio.PutObjectOptions{
		ContentType: meta.ContentType,
		UserMetadata: map[string]string{
			metaDigest:     meta.Digest,
			metaUploadedBy: meta.UploadedBy,
			metaStage:      strconv.Itoa(meta.Stage),
		},
	})
	if err != nil {
		return Object{}, fmt.Errorf("put object %s: %w", meta.Name, err)
	}
	return meta, nil
}

func (m *Minio) Get(ctx context.Context, shipmentID string, stage int, name string) (Object, io.ReadCloser, error) {
	key := Key(shipmentID, stage, name)
	info, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Object{}, nil, ErrNotFound
		}
		return Object{}, nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	reader, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Object{}, nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return objectFromInfo(shipmentID, stage, name, info), reader, nil
}

// Healthy reports whether the bucket is reachable.
func (m *Minio) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := m.client.BucketExists(ctx, m.bucket)
	return err == nil
}

func objectFromInfo(shipmentID string, stage int, name string, info minio.ObjectInfo) Object {
	return Object{
		ShipmentID:  shipmentID,
		Stage:       stage,
		Name:        name,
		ContentType: info.ContentType,
		Size:        info.Size,
		Digest:      info.UserMetadata[metaDigest],
		UploadedBy:  info.UserMetadata[metaUploadedBy],
		UploadedAt:  info.LastModified,
	}
}
