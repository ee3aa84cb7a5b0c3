// Package storage archives reconciliation drift reports to an S3-compatible
// object store for offline audit.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
}

type Archive struct {
	minio  *minio.Client
	bucket string
}

func NewArchive(cfg Config) (*Archive, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	return &Archive{
		minio:  mc,
		bucket: cfg.Bucket,
	}, nil
}

func (a *Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.minio.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := a.minio.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := a.minio.BucketExists(ctx, a.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}

	return nil
}

// WriteReport stores one reconciliation report as a timestamped JSON
// object under reports/.
func (a *Archive) WriteReport(ctx context.Context, name string, report any) (string, error) {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	key := fmt.Sprintf("reports/%s/%s.json", name, time.Now().UTC().Format("20060102T150405Z"))
	reader := bytes.NewReader(body)

	_, err = a.minio.PutObject(
		ctx,
		a.bucket,
		key,
		reader,
		int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		return "", fmt.Errorf("put report %s: %w", key, err)
	}
	return key, nil
}
